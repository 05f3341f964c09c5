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
			Name: "tracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Store metrics
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_store_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"backend", "op", "status"},
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_store_operation_duration_seconds",
			Help:    "Session store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Workflow metrics
	phaseRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_phase_records_total",
			Help: "Total number of phase results recorded",
		},
		[]string{"phase", "status"},
	)

	verificationIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_verification_issues_total",
			Help: "Total number of verification issues found",
		},
		[]string{"platform", "type"},
	)

	verificationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_verification_runs_total",
			Help: "Total number of verification runs",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// InitMetrics registers the tracker metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			storeOperationsTotal,
			storeOperationDuration,
			phaseRecordsTotal,
			verificationIssuesTotal,
			verificationRunsTotal,
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

// RecordStoreOperation records one call into a session storage backend.
// status is "ok", "miss" or "error".
func RecordStoreOperation(backend, op, status string, duration time.Duration) {
	storeOperationsTotal.WithLabelValues(backend, op, status).Inc()
	storeOperationDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordPhase records a phase result handed to the tracker.
func RecordPhase(phase, status string) {
	phaseRecordsTotal.WithLabelValues(phase, status).Inc()
}

// RecordVerificationIssue records one issue raised by verification.
func RecordVerificationIssue(platform, issueType string) {
	verificationIssuesTotal.WithLabelValues(platform, issueType).Inc()
}

// RecordVerificationRun records a verification outcome: "verified" or "issues".
func RecordVerificationRun(result string) {
	verificationRunsTotal.WithLabelValues(result).Inc()
}
