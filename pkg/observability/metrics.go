package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Routing metrics
	envelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_envelopes_total",
			Help: "Total number of envelopes emitted by the router",
		},
		[]string{"agent", "type"},
	)

	routeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_route_duration_seconds",
			Help:    "Duration of a single agent invocation in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	relaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_relays_total",
			Help: "Total number of agent-to-agent relays",
		},
		[]string{"from", "to", "status"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Backend metrics
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_backend_requests_total",
			Help: "Total number of completion backend requests",
		},
		[]string{"backend", "status"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agency_backend_circuit_state",
			Help: "Circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"backend"},
	)

	// Transport metrics
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agency_active_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	scheduledRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_scheduled_runs_total",
			Help: "Total number of scheduled messages routed",
		},
		[]string{"job", "status"},
	)

	healthCheckStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agency_health_check_up",
			Help: "Result of the last run of a health check (1=passing, 0=failing)",
		},
		[]string{"check"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default Prometheus registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			envelopesTotal,
			routeDuration,
			relaysTotal,
			toolCallsTotal,
			toolCallDuration,
			backendRequestsTotal,
			breakerState,
			activeConnections,
			scheduledRunsTotal,
			healthCheckStatus,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEnvelope counts an emitted envelope.
func RecordEnvelope(agent, envelopeType string) {
	envelopesTotal.WithLabelValues(agent, envelopeType).Inc()
}

// RecordRoute records the duration of one agent invocation.
func RecordRoute(agent string, duration time.Duration) {
	routeDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordRelay counts a relay attempt.
func RecordRelay(from, to, status string) {
	relaysTotal.WithLabelValues(from, to, status).Inc()
}

// RecordToolCall records tool call metrics
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordBackendRequest counts a completion backend request.
func RecordBackendRequest(backend, status string) {
	backendRequestsTotal.WithLabelValues(backend, status).Inc()
}

// SetBreakerState publishes a circuit breaker state.
func SetBreakerState(backend string, state int) {
	breakerState.WithLabelValues(backend).Set(float64(state))
}

// AddActiveConnections adjusts the open WebSocket connection gauge.
func AddActiveConnections(delta int) {
	activeConnections.Add(float64(delta))
}

func setCheckStatus(check string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	healthCheckStatus.WithLabelValues(check).Set(v)
}

// RecordScheduledRun counts a scheduled routing run.
func RecordScheduledRun(job, status string) {
	scheduledRunsTotal.WithLabelValues(job, status).Inc()
}
