package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

type harness struct {
	t   *testing.T
	dir string
}

type result struct {
	code   int
	stdout string
	stderr string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &harness{t: t, dir: t.TempDir()}
}

func (h *harness) run(stdin string, args ...string) result {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--store", session.StoreFile, "--dir", h.dir}, args...)
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func (h *harness) ok(stdin string, args ...string) string {
	h.t.Helper()
	r := h.run(stdin, args...)
	require.Equal(h.t, 0, r.code, "tracker %v\nstdout: %s\nstderr: %s", args, r.stdout, r.stderr)
	return r.stdout
}

func (h *harness) load(id string) *session.Session {
	h.t.Helper()
	backend, err := session.NewFileBackend(h.dir)
	require.NoError(h.t, err)
	store := session.NewStore(backend)
	defer store.Close()
	sess, err := store.Load(context.Background(), id)
	require.NoError(h.t, err)
	return sess
}

func TestCampaignRun(t *testing.T) {
	h := newHarness(t)

	out := h.ok("", "init", "--topic", "agentic workflows")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	id := lines[1]
	assert.Equal(t, "✅ Session created: "+id, lines[0])

	out = h.ok(`[{"id": "p1", "text": "hello"}, {"id": "p2"}]`, "search", "-q", "agents")
	assert.Equal(t, "📝 Recorded 2 search results\n", out)

	out = h.ok("", "engage", "-a", "select", "--post-ids", "p1, p2")
	assert.Contains(t, out, "2 posts selected")
	h.ok("", "engage", "-a", "like", "-p", "p1")
	h.ok("", "engage", "-a", "like", "-p", "p1")
	out = h.ok("", "engage", "-a", "reply", "-p", "p2", "--reply-text", "great thread")
	assert.Equal(t, "✅ Reply recorded: p2\n", out)

	out = h.ok("", "distill", "--trends", `["agents"]`, "--points", `["p1", "p2"]`, "--quotes", `[{"text": "q"}]`, "--summary", "s")
	assert.Equal(t, "📝 Recorded distilled content: 1 trends, 2 key points\n", out)

	h.ok("", "generate", "-p", "twitter", "--thread", `["1/3", "2/3", "3/3"]`)
	h.ok("", "generate", "-p", "xiaohongshu", "-t", "note", "-c", "body", "--hashtags", "ai,agents")
	h.ok("", "generate", "-p", "wechat", "-t", "article", "-c", "body", "--summary", "sum")

	h.ok("", "publish", "-p", "twitter", "--status", "partial", "-n", "1", "-u", "https://x.com/1")
	h.ok("", "publish", "-p", "xiaohongshu", "-u", "https://xhs/1")
	out = h.ok("", "publish", "-p", "wechat", "--status", "draft")
	assert.Equal(t, "✅ Recorded wechat publish status: draft\n", out)

	sess := h.load(id)
	assert.Equal(t, "agents", sess.Search.Query)
	assert.Equal(t, "24h", sess.Search.TimeRange)
	assert.Equal(t, 2, sess.Search.TotalFound)
	assert.Equal(t, []string{"p1"}, sess.Engagement.Liked)
	assert.Equal(t, []string{"ai", "agents"}, sess.GeneratedContent.Xiaohongshu.Hashtags)
	assert.Equal(t, 3, sess.PublishStatus.Twitter.ExpectedCount)
	assert.Equal(t, 1, sess.PublishStatus.Twitter.PublishedCount)
	assert.False(t, sess.Verified())

	out = h.ok("", "verify")
	assert.Contains(t, out, "Twitter thread incomplete: expected 3 tweets, published 1")
	assert.Contains(t, out, "Resend 2 tweets:")
	assert.Contains(t, out, "1. 2/3\n")
	assert.NotContains(t, out, "Xiaohongshu status:")
	assert.NotContains(t, out, "WeChat status:")

	sess = h.load(id)
	assert.Equal(t, session.StatusVerified, sess.Status)
	assert.True(t, sess.Verified())

	out = h.ok("", "unpublished", "--json")
	var tweets []string
	require.NoError(t, json.Unmarshal([]byte(out), &tweets))
	assert.Equal(t, []string{"2/3", "3/3"}, tweets)

	assert.Equal(t, "2/3\n3/3\n", h.ok("", "unpublished", "-s", id))
	assert.Equal(t, id+"\n", h.ok("", "session-id"))
	assert.Contains(t, h.ok("", "report", "-s", id), "Status:  verified")
	assert.Contains(t, h.ok("", "list"), id+" - agentic workflows (verified)")
}

func TestEmptyStore(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "\n", h.ok("", "session-id"))
	assert.Equal(t, "No sessions yet\n", h.ok("", "list"))

	for _, args := range [][]string{
		{"report"},
		{"verify"},
		{"search", "-q", "agents", "--posts", "[]"},
		{"publish", "-p", "twitter"},
	} {
		r := h.run("", args...)
		assert.Equal(t, exitError, r.code, args)
		assert.Contains(t, r.stderr, "run init first", args)
	}
}

func TestInvalidInput(t *testing.T) {
	h := newHarness(t)
	h.ok("", "init", "-t", "topic")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "twitter draft", args: []string{"publish", "-p", "twitter", "--status", "draft"}, want: "status"},
		{name: "unknown platform", args: []string{"generate", "-p", "myspace"}, want: "platform"},
		{name: "unknown action", args: []string{"engage", "-a", "share", "-p", "1"}, want: "action"},
		{name: "posts not an array", args: []string{"search", "-q", "x", "--posts", `{"id": 1}`}, want: "posts"},
		{name: "trends not strings", args: []string{"distill", "--trends", `[1]`}, want: "trends"},
		{name: "negative count", args: []string{"publish", "-p", "twitter", "--count=-3"}, want: "count"},
		{name: "empty topic", args: []string{"init", "-t", " "}, want: "topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.run("", tt.args...)
			assert.Equal(t, exitInvalid, r.code)
			assert.Contains(t, r.stderr, tt.want)
		})
	}
}

func TestMissingRequiredFlag(t *testing.T) {
	h := newHarness(t)
	r := h.run("", "init")
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, `required flag(s) "topic" not set`)
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t)
	h.ok("", "init", "-t", "topic")

	r := h.run("", "report", "-s", "20990101_000000")
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "not found")
}

func TestVerifyAll(t *testing.T) {
	h := newHarness(t)

	h.ok("", "init", "-t", "first")
	h.ok("", "generate", "-p", "wechat", "-t", "article")
	h.ok("", "publish", "-p", "wechat", "--status", "draft")

	h.ok("", "init", "-t", "second")
	h.ok("", "generate", "-p", "xiaohongshu", "-t", "note")

	out := h.ok("", "verify", "--all", "--concurrency", "2")
	assert.Contains(t, out, " - first\n")
	assert.Contains(t, out, "second: 1 issues")
	assert.Contains(t, out, "Xiaohongshu status: pending")
	assert.Contains(t, out, "Verified 2 of 2 sessions")
}

func TestVerifyAllExclusiveWithSession(t *testing.T) {
	h := newHarness(t)
	r := h.run("", "verify", "--all", "-s", "20260314_092653")
	assert.Equal(t, exitError, r.code)
}

func TestConfigFlagMustExist(t *testing.T) {
	h := newHarness(t)
	r := h.run("", "--config", h.dir+"/missing.yaml", "list")
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "config")
}

func TestEnvSelectsStore(t *testing.T) {
	h := newHarness(t)
	t.Setenv("TRACKER_SESSION_STORE", "etcd")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"list"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), `unknown session store "etcd"`)

	// the flag wins over the environment
	assert.Equal(t, "No sessions yet\n", h.ok("", "list"))
}

func TestVerboseLogsToStderr(t *testing.T) {
	h := newHarness(t)
	r := h.run("", "--verbose", "init", "-t", "topic")
	require.Equal(t, 0, r.code)
	assert.Contains(t, r.stderr, `"invocation_id"`)
	assert.NotContains(t, r.stdout, "invocation_id")
}

func TestConfigInit(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "tracker.yaml")

	out := h.ok("", "config", "init", "-o", path)
	assert.Equal(t, "✅ Config written: "+path+"\n", out)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_dir: "+h.dir)

	r := h.run("", "config", "init", "-o", path)
	assert.Equal(t, exitError, r.code)
	assert.Contains(t, r.stderr, "already exists")
	h.ok("", "config", "init", "-o", path, "--force")

	// the written file is a valid config on its own
	h.ok("", "init", "-t", "topic")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", path, "list"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "topic (initialized)")
}

func TestMetricsPushedOnExit(t *testing.T) {
	h := newHarness(t)
	paths := make(chan string, 4)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.Method + " " + r.URL.Path
	}))
	defer gateway.Close()
	t.Setenv("TRACKER_METRICS_PUSHGATEWAY", gateway.URL)

	h.ok("", "init", "-t", "topic")
	select {
	case got := <-paths:
		assert.Equal(t, "PUT /metrics/job/campaign_tracker/command/init", got)
	default:
		t.Fatal("no metrics pushed")
	}
}

func TestServe(t *testing.T) {
	metrics.InitMetrics()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := metrics.NewServer(l.Addr().String(), mux)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, zap.NewNop(), srv, l) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + l.Addr().String() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
