package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker(checks ...*HealthCheck) *HealthChecker {
	hc := &HealthChecker{checks: make(map[string]*HealthCheck)}
	for _, c := range checks {
		hc.RegisterCheck(c)
	}
	return hc
}

func failing(name string, critical bool) *HealthCheck {
	return &HealthCheck{
		Name:      name,
		CheckFunc: func(context.Context) error { return errors.New(name + " down") },
		Critical:  critical,
	}
}

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{name: "no checks", want: HealthStatusHealthy},
		{name: "all passing", checks: []*HealthCheck{PingCheck(), AgencyCheck(func() int { return 2 })}, want: HealthStatusHealthy},
		{name: "non-critical failure", checks: []*HealthCheck{PingCheck(), failing("backend_openai", false)}, want: HealthStatusDegraded},
		{name: "critical failure", checks: []*HealthCheck{failing("backend_openai", false), failing("history_store", true)}, want: HealthStatusUnhealthy},
		{name: "empty agency", checks: []*HealthCheck{AgencyCheck(func() int { return 0 })}, want: HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newChecker(tt.checks...).Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	slow := &HealthCheck{
		Name: "slow",
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Timeout:  10 * time.Millisecond,
		Critical: true,
	}
	resp := newChecker(slow).Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline exceeded")
}

func TestHealthChecker_RegisterReplaces(t *testing.T) {
	hc := newChecker(failing("agency", true))
	hc.RegisterCheck(AgencyCheck(func() int { return 1 }))
	assert.Equal(t, []string{"agency"}, hc.Names())
	assert.Equal(t, HealthStatusHealthy, hc.Check(context.Background()).Status)

	c := failing("x", false)
	hc.RegisterCheck(c)
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestHandlers(t *testing.T) {
	InitMetrics()
	SetVersion("1.2.3")
	hc := GetHealthChecker()
	hc.RegisterCheck(PingCheck())

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Contains(t, resp.Checks, "ping")

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")

	hc.RegisterCheck(failing("backend_test", false))
	rec = httptest.NewRecorder()
	ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded is still ready")
	assert.Equal(t, 0.0, testutil.ToFloat64(healthCheckStatus.WithLabelValues("backend_test")))

	hc.RegisterCheck(failing("history_store", true))
	rec = httptest.NewRecorder()
	ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	InitMetrics()
	InitMetrics()

	RecordEnvelope("CEO", "message")
	RecordRelay("CEO", "Analyst", "ok")
	RecordToolCall("markdown_writer", "success", time.Millisecond)
	RecordScheduledRun("briefing", "ok")
	AddActiveConnections(1)
	AddActiveConnections(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(relaysTotal.WithLabelValues("CEO", "Analyst", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(activeConnections))

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{"agency_envelopes_total", "agency_tool_calls_total", "agency_scheduled_runs_total"} {
		assert.True(t, strings.Contains(body, name), name)
	}
}
