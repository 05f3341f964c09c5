// Package api serves session records over a read-only HTTP API.
//
// The API never writes to the store. The verification endpoint runs a dry
// verification of the current snapshot; only the CLI persists verification
// results, so each session keeps a single writer.
package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// DefaultListLimit caps GET /api/v1/sessions when no limit is given.
const DefaultListLimit = 10

// API holds the dependencies of the HTTP handlers.
type API struct {
	store   *session.Store
	logger  *zap.Logger
	health  *metrics.HealthChecker
	limiter *RateLimiter
	origins []string
	version string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for access and error logs.
func WithLogger(logger *zap.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithRateLimit limits each client to rps requests per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		a.limiter = NewRateLimiter(rps, burst)
	}
}

// WithCORSOrigins allows cross-origin reads from the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(a *API) { a.version = version }
}

// New creates an API over store. The store's ping is registered as a
// critical health check.
func New(store *session.Store, opts ...Option) *API {
	a := &API{
		store:   store,
		logger:  zap.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}
	a.health = metrics.NewHealthChecker(a.version)
	a.health.RegisterCheck(metrics.StoreCheck(store.Backend(), store.Ping))
	return a
}

// limited applies the per-client rate limit when one is configured.
func (a *API) limited(h http.Handler) http.Handler {
	if a.limiter == nil {
		return h
	}
	return a.rateLimit(h)
}

// Handler builds the router with all middleware applied.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.requestID, a.recoverer, a.accessLog)

	r.HandleFunc("/health", a.health.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/live", a.health.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", a.health.ReadinessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.MetricsHandler()).Methods(http.MethodGet)

	// Full paths on the root router: a subrouter answers a method mismatch
	// with 404 instead of 405.
	v1 := func(path string, h http.HandlerFunc) {
		r.Handle("/api/v1"+path, a.limited(h)).Methods(http.MethodGet)
	}
	v1("/sessions", a.listSessions)
	v1("/sessions/latest", a.latestSession)
	v1("/sessions/{id}", a.getSession)
	v1("/sessions/{id}/report", a.getReport)
	v1("/sessions/{id}/verification", a.getVerification)
	v1("/sessions/{id}/unpublished", a.getUnpublished)

	if len(a.origins) == 0 {
		return r
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(a.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)
	return cors(r)
}
