package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{
			name: "no checks",
			want: HealthStatusHealthy,
		},
		{
			name:   "store reachable",
			checks: []*HealthCheck{StoreCheck("file", func(context.Context) error { return nil })},
			want:   HealthStatusHealthy,
		},
		{
			name:   "store down",
			checks: []*HealthCheck{StoreCheck("redis", func(context.Context) error { return errors.New("connection refused") })},
			want:   HealthStatusUnhealthy,
		},
		{
			name: "non-critical failure",
			checks: []*HealthCheck{{
				Name:      "exporter",
				CheckFunc: func(context.Context) error { return errors.New("slow") },
			}},
			want: HealthStatusDegraded,
		},
		{
			name: "check times out",
			checks: []*HealthCheck{{
				Name:     "hang",
				Critical: true,
				Timeout:  10 * time.Millisecond,
				CheckFunc: func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				},
			}},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}

			resp := hc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "test", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestHealthHandlers(t *testing.T) {
	hc := NewHealthChecker("v1")
	healthy := true
	hc.RegisterCheck(StoreCheck("sqlite", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database is locked")
	}))

	rec := httptest.NewRecorder()
	hc.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "OK", resp.Checks["session_store_sqlite"].Message)

	rec = httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false

	rec = httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	hc.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	hc.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
