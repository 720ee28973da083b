// Package metrics provides Prometheus metrics for the linkdrop server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkdrop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkdrop_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkdrop_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkdrop_storage_operation_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_storage_operations_total",
			Help: "Total object storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Copy engine metrics
	copyBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_copy_batches_total",
			Help: "Total link-to-workspace copy batches by outcome",
		},
		[]string{"outcome"},
	)

	copyBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkdrop_copy_batch_duration_seconds",
			Help:    "Duration of link-to-workspace copy batches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	copyItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_copy_items_total",
			Help: "Total items processed by the copy engine",
		},
		[]string{"type", "status"},
	)

	copyStorageOpsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkdrop_copy_storage_ops_in_flight",
			Help: "Storage operations currently held by the copy engine",
		},
	)

	// Tree engine metrics
	treeMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_tree_mutations_total",
			Help: "Tree mutations applied by operation",
		},
		[]string{"op"},
	)

	treeRepairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkdrop_tree_invariant_repairs_total",
			Help: "Tree invariant violations detected and repaired",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkdrop_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Link metrics
	uploadLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkdrop_upload_links_active",
			Help: "Number of active upload links",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkdrop_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"status"},
	)

	// Quota metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkdrop_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordStorageOperation records an object storage operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// RecordCopyBatch records a finished copy batch. Outcome is one of
// "complete", "partial" or "failed".
func RecordCopyBatch(outcome string, duration time.Duration) {
	copyBatchesTotal.WithLabelValues(outcome).Inc()
	copyBatchDuration.Observe(duration.Seconds())
}

// RecordCopyItem records a single file or folder handled by the copy engine.
func RecordCopyItem(itemType string, success bool) {
	copyItemsTotal.WithLabelValues(itemType, statusLabel(success)).Inc()
}

// AddCopyStorageOpsInFlight adjusts the in-flight storage operation gauge.
func AddCopyStorageOpsInFlight(delta int) {
	copyStorageOpsInFlight.Add(float64(delta))
}

// RecordTreeMutation records a tree store mutation.
func RecordTreeMutation(op string) {
	treeMutationsTotal.WithLabelValues(op).Inc()
}

// RecordTreeRepair records an invariant repair.
func RecordTreeRepair() {
	treeRepairsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// SetUploadLinksActive sets the number of active upload links.
func SetUploadLinksActive(count int64) {
	uploadLinksActive.Set(float64(count))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are labelled by route pattern to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
