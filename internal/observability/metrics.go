package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	dispatchDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Connector metrics
	ConnectorExecutionsTotal  *prometheus.CounterVec
	ConnectorDispatchDuration *prometheus.HistogramVec
	ConnectorRetriesTotal     *prometheus.CounterVec
	ConnectorBreakerState     *prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal    *prometheus.CounterVec
	CacheMissesTotal  *prometheus.CounterVec
	CacheEvictedTotal prometheus.Counter

	// Workflow metrics
	WorkflowRunsTotal    *prometheus.CounterVec
	WorkflowRunDuration  *prometheus.HistogramVec
	WorkflowActiveRuns   prometheus.Gauge
	WorkflowStepsTotal   *prometheus.CounterVec
	WorkflowPendingGates prometheus.Gauge

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	ConnectorsLoaded      prometheus.Gauge
	WorkflowsLoaded       prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Connectors
		ConnectorExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_connector_executions_total",
			Help: "Total number of connector executions by outcome code.",
		}, []string{"connector_id", "type", "code"}),
		ConnectorDispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_connector_dispatch_duration_seconds",
			Help:    "Connector dispatch duration in seconds, excluding cache hits.",
			Buckets: dispatchDurationBuckets,
		}, []string{"connector_id", "type"}),
		ConnectorRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_connector_retries_total",
			Help: "Total number of network connector retries.",
		}, []string{"connector_id"}),
		ConnectorBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchboard_connector_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"connector_id"}),

		// Cache
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_cache_hits_total",
			Help: "Total response cache hits.",
		}, []string{"connector_id"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_cache_misses_total",
			Help: "Total response cache misses.",
		}, []string{"connector_id"}),
		CacheEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_cache_evicted_total",
			Help: "Total cache entries removed by the sweep.",
		}),

		// Workflows
		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_workflow_runs_total",
			Help: "Total number of finished workflow runs.",
		}, []string{"workflow_id", "status"}),
		WorkflowRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds.",
			Buckets: dispatchDurationBuckets,
		}, []string{"workflow_id"}),
		WorkflowActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_workflow_active_runs",
			Help: "Number of workflow runs in progress.",
		}),
		WorkflowStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_workflow_steps_total",
			Help: "Total number of executed workflow steps.",
		}, []string{"step_type", "status"}),
		WorkflowPendingGates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_workflow_pending_approvals",
			Help: "Number of user steps waiting for a decision.",
		}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		ConnectorsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_connectors_loaded",
			Help: "Number of registered connectors.",
		}),
		WorkflowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_workflows_loaded",
			Help: "Number of registered workflows.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		// Connectors
		m.ConnectorExecutionsTotal,
		m.ConnectorDispatchDuration,
		m.ConnectorRetriesTotal,
		m.ConnectorBreakerState,
		// Cache
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictedTotal,
		// Workflows
		m.WorkflowRunsTotal,
		m.WorkflowRunDuration,
		m.WorkflowActiveRuns,
		m.WorkflowStepsTotal,
		m.WorkflowPendingGates,
		// System
		m.DefinitionReloadTotal,
		m.ConnectorsLoaded,
		m.WorkflowsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records an HTTP request's count, duration, and response size.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	if respSize > 0 {
		m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
	}
}

// RecordExecution records a connector execution. code is "ok" for success or
// the failure code. Duration is observed only for dispatched calls.
func (m *Metrics) RecordExecution(connectorID, connectorType, code string, duration time.Duration, dispatched bool) {
	if m == nil {
		return
	}
	m.ConnectorExecutionsTotal.WithLabelValues(connectorID, connectorType, code).Inc()
	if dispatched {
		m.ConnectorDispatchDuration.WithLabelValues(connectorID, connectorType).Observe(duration.Seconds())
	}
}

// RecordRetry records a network connector retry.
func (m *Metrics) RecordRetry(connectorID string) {
	if m == nil {
		return
	}
	m.ConnectorRetriesTotal.WithLabelValues(connectorID).Inc()
}

// SetBreakerState records a circuit breaker state (0=closed, 1=open, 2=half-open).
func (m *Metrics) SetBreakerState(connectorID string, state int) {
	if m == nil {
		return
	}
	m.ConnectorBreakerState.WithLabelValues(connectorID).Set(float64(state))
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(connectorID string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(connectorID).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(connectorID).Inc()
	}
}

// RecordCacheEvictions records entries removed by a sweep.
func (m *Metrics) RecordCacheEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictedTotal.Add(float64(n))
}

// RecordRunStart records a workflow run starting.
func (m *Metrics) RecordRunStart() {
	if m == nil {
		return
	}
	m.WorkflowActiveRuns.Inc()
}

// RecordRunFinish records a finished workflow run.
func (m *Metrics) RecordRunFinish(workflowID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowActiveRuns.Dec()
	m.WorkflowRunsTotal.WithLabelValues(workflowID, status).Inc()
	m.WorkflowRunDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordStep records an executed workflow step.
func (m *Metrics) RecordStep(stepType, status string) {
	if m == nil {
		return
	}
	m.WorkflowStepsTotal.WithLabelValues(stepType, status).Inc()
}

// SetPendingApprovals records how many user steps are waiting.
func (m *Metrics) SetPendingApprovals(n int) {
	if m == nil {
		return
	}
	m.WorkflowPendingGates.Set(float64(n))
}

// RecordDefinitionReload records a definition reload attempt and the
// resulting registry size.
func (m *Metrics) RecordDefinitionReload(status string, connectors, workflows int) {
	if m == nil {
		return
	}
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.ConnectorsLoaded.Set(float64(connectors))
		m.WorkflowsLoaded.Set(float64(workflows))
	}
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
// A nil gatherer serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	// Subrouter mounts contribute "/*" segments, which RoutePattern folds.
	pattern := rctx.RoutePattern()
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
