package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	catalogDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments of the service.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Board engine
	MovesTotal         *prometheus.CounterVec
	CommitDuration     *prometheus.HistogramVec
	PendingMoves       *prometheus.GaugeVec
	ColumnFetchesTotal *prometheus.CounterVec

	// Sessions
	SessionsActive        prometheus.Gauge
	SessionsExpiredTotal  prometheus.Counter
	NoticesDroppedTotal   prometheus.Counter
	IdempotentReplayTotal prometheus.Counter

	// Catalog
	CatalogRequestsTotal       *prometheus.CounterVec
	CatalogRequestDuration     *prometheus.HistogramVec
	CatalogCircuitBreakerState *prometheus.GaugeVec
	CatalogRetriesTotal        *prometheus.CounterVec

	// Capabilities
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// Definitions
	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed *prometheus.GaugeVec

	// Journal
	JournalWriteFailuresTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogboard_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogboard_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		MovesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_moves_total",
			Help: "Total number of resolved moves by outcome.",
		}, []string{"board_id", "outcome"}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogboard_commit_duration_seconds",
			Help:    "Time from submitting a transition to its resolution.",
			Buckets: catalogDurationBuckets,
		}, []string{"board_id", "outcome"}),
		PendingMoves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalogboard_pending_moves",
			Help: "Number of moves awaiting confirmation or commit.",
		}, []string{"board_id"}),
		ColumnFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_column_fetches_total",
			Help: "Total number of column page fetches by outcome.",
		}, []string{"board_id", "outcome"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogboard_sessions_active",
			Help: "Number of open board sessions.",
		}),
		SessionsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_sessions_expired_total",
			Help: "Total number of board sessions closed for inactivity.",
		}),
		NoticesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_notices_dropped_total",
			Help: "Total number of notices dropped from full session queues.",
		}),
		IdempotentReplayTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_idempotent_replays_total",
			Help: "Total number of move requests answered from the idempotency store.",
		}),

		CatalogRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_catalog_requests_total",
			Help: "Total number of catalog service requests.",
		}, []string{"service_id", "operation_id", "status"}),
		CatalogRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogboard_catalog_request_duration_seconds",
			Help:    "Catalog request duration in seconds.",
			Buckets: catalogDurationBuckets,
		}, []string{"service_id", "operation_id"}),
		CatalogCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalogboard_catalog_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		CatalogRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_catalog_retries_total",
			Help: "Total number of catalog read retries.",
		}, []string{"service_id", "operation_id"}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogboard_definition_reload_total",
			Help: "Total board definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogboard_definitions_loaded",
			Help: "Number of loaded board definitions.",
		}),
		OpenAPIOperationsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalogboard_openapi_operations_indexed",
			Help: "Number of indexed OpenAPI operations.",
		}, []string{"service_id"}),

		JournalWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogboard_journal_write_failures_total",
			Help: "Total number of move journal writes that failed.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.MovesTotal,
		m.CommitDuration,
		m.PendingMoves,
		m.ColumnFetchesTotal,
		m.SessionsActive,
		m.SessionsExpiredTotal,
		m.NoticesDroppedTotal,
		m.IdempotentReplayTotal,
		m.CatalogRequestsTotal,
		m.CatalogRequestDuration,
		m.CatalogCircuitBreakerState,
		m.CatalogRetriesTotal,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.OpenAPIOperationsIndexed,
		m.JournalWriteFailuresTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordMove counts a move that reached outcome.
func (m *Metrics) RecordMove(boardID, outcome string) {
	m.MovesTotal.WithLabelValues(boardID, outcome).Inc()
}

// RecordCommit observes the latency of a remote commit.
func (m *Metrics) RecordCommit(boardID, outcome string, d time.Duration) {
	m.CommitDuration.WithLabelValues(boardID, outcome).Observe(d.Seconds())
}

// AddPendingMoves moves the pending gauge of a board by delta.
func (m *Metrics) AddPendingMoves(boardID string, delta float64) {
	m.PendingMoves.WithLabelValues(boardID).Add(delta)
}

// RecordColumnFetch counts a column page fetch.
func (m *Metrics) RecordColumnFetch(boardID, outcome string) {
	m.ColumnFetchesTotal.WithLabelValues(boardID, outcome).Inc()
}

// SetSessionsActive sets the number of open sessions.
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// RecordSessionExpired counts a session closed by the idle sweeper.
func (m *Metrics) RecordSessionExpired() {
	m.SessionsExpiredTotal.Inc()
}

// RecordNoticeDropped counts a notice evicted from a full queue.
func (m *Metrics) RecordNoticeDropped() {
	m.NoticesDroppedTotal.Inc()
}

// RecordIdempotentReplay counts a move answered from the idempotency store.
func (m *Metrics) RecordIdempotentReplay() {
	m.IdempotentReplayTotal.Inc()
}

// RecordCatalogRequest records one catalog call. status is the HTTP status
// code, or 0 when no response was received.
func (m *Metrics) RecordCatalogRequest(serviceID, operationID string, status int, duration time.Duration) {
	m.CatalogRequestsTotal.WithLabelValues(serviceID, operationID, strconv.Itoa(status)).Inc()
	m.CatalogRequestDuration.WithLabelValues(serviceID, operationID).Observe(duration.Seconds())
}

// SetCatalogCircuitBreakerState sets the breaker state of a service.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCatalogCircuitBreakerState(serviceID string, state float64) {
	m.CatalogCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordCatalogRetry records a retried catalog read.
func (m *Metrics) RecordCatalogRetry(serviceID, operationID string) {
	m.CatalogRetriesTotal.WithLabelValues(serviceID, operationID).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetOpenAPIOperationsIndexed sets the number of indexed OpenAPI operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(serviceID string, count float64) {
	m.OpenAPIOperationsIndexed.WithLabelValues(serviceID).Set(count)
}

// RecordJournalWriteFailure counts a failed journal append.
func (m *Metrics) RecordJournalWriteFailure() {
	m.JournalWriteFailuresTotal.Inc()
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

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
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
