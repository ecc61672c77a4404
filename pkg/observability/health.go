package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var errNoAgents = errors.New("no agents registered")

// HealthStatus is the outcome of a check or of the whole service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency. A failing Critical check makes the
// service unhealthy; any other failure only degrades it.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker holds the registered checks.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]*HealthCheck
}

// HealthResponse is served by /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the result of a single check.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Critical bool         `json:"critical"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration"`
}

var (
	startTime = time.Now()
	version   = "dev"

	checker     *HealthChecker
	checkerOnce sync.Once
)

// SetVersion sets the version reported by health responses.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// GetHealthChecker returns the process-wide checker.
func GetHealthChecker() *HealthChecker {
	checkerOnce.Do(func() {
		checker = &HealthChecker{checks: make(map[string]*HealthCheck)}
	})
	return checker
}

// RegisterCheck adds or replaces the check with the same name.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	hc.checks[check.Name] = check
	hc.mu.Unlock()
}

// Names lists the registered checks in order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently, each under its own timeout.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hc.checks))
	for _, c := range hc.checks {
		checks = append(checks, c)
	}
	hc.mu.RUnlock()

	results := make([]CheckStatus, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Version:   version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckStatus, len(checks)),
	}
	for i, c := range checks {
		res := results[i]
		resp.Checks[c.Name] = res
		switch {
		case res.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case res.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func runCheck(ctx context.Context, c *HealthCheck) CheckStatus {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.CheckFunc(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	res := CheckStatus{Status: HealthStatusHealthy, Critical: c.Critical, Duration: time.Since(start).String()}
	if err != nil {
		res.Status = HealthStatusDegraded
		if c.Critical {
			res.Status = HealthStatusUnhealthy
		}
		res.Message = err.Error()
	}
	setCheckStatus(c.Name, err == nil)
	return res
}

// HealthHandler serves the full report: 200 while healthy or degraded, 503 otherwise.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := GetHealthChecker().Check(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, resp)
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler reports ready unless a critical check fails. A degraded
// backend still lets routes answer with error envelopes.
func ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if GetHealthChecker().Check(r.Context()).Status == HealthStatusUnhealthy {
			writeHealth(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeHealth(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// PingCheck always passes.
func PingCheck() *HealthCheck {
	return &HealthCheck{
		Name:      "ping",
		CheckFunc: func(context.Context) error { return nil },
		Timeout:   time.Second,
	}
}

// AgencyCheck fails while the agency has no agents.
func AgencyCheck(agentCount func() int) *HealthCheck {
	return &HealthCheck{
		Name: "agency",
		CheckFunc: func(context.Context) error {
			if agentCount() == 0 {
				return errNoAgents
			}
			return nil
		},
		Timeout:  time.Second,
		Critical: true,
	}
}

// HistoryStoreCheck is critical: every route records into the store.
func HistoryStoreCheck(ping func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "history_store",
		CheckFunc: ping,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}

// BackendCheck reports a completion backend, typically its circuit breaker.
func BackendCheck(name string, check func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "backend_" + name,
		CheckFunc: check,
		Timeout:   2 * time.Second,
	}
}
