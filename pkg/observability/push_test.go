package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushedRequest struct {
	method string
	path   string
	body   []byte
}

func newPushgateway(t *testing.T, status int) (*httptest.Server, <-chan pushedRequest) {
	t.Helper()
	got := make(chan pushedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- pushedRequest{method: r.Method, path: r.URL.Path, body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestPushMetrics(t *testing.T) {
	srv, got := newPushgateway(t, http.StatusOK)

	RecordPhase("publish", "ok")
	RecordVerificationRun("verified")
	require.NoError(t, PushMetrics(context.Background(), srv.URL, "campaign_tracker", map[string]string{"command": "verify"}))

	req := <-got
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/metrics/job/campaign_tracker/command/verify", req.path)
	assert.True(t, bytes.Contains(req.body, []byte("tracker_phase_records_total")))
	assert.True(t, bytes.Contains(req.body, []byte("tracker_verification_runs_total")))
	assert.False(t, bytes.Contains(req.body, []byte("tracker_http_requests_total")))
}

func TestPushMetricsRejected(t *testing.T) {
	srv, _ := newPushgateway(t, http.StatusBadRequest)

	err := PushMetrics(context.Background(), srv.URL, "campaign_tracker", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics to "+srv.URL)
}
