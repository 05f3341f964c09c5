package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileSizeLimit(t *testing.T) {
	path := writeFile(t, strings.Repeat("x: value\n", 200000))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeFile(t, `
session:
  store: redis
  redis:
    addr: redis.internal:6379
    prefix: "campaign:"
log:
  level: debug
  format: console
api:
  addr: 127.0.0.1:9090
  cors_origins: [https://dash.example.com]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, session.StoreRedis, cfg.Session.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, "campaign:", cfg.Session.Redis.Prefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatConsole, cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Addr)
	assert.Equal(t, []string{"https://dash.example.com"}, cfg.API.CORSOrigins)

	// untouched sections keep their defaults
	assert.Equal(t, 20.0, cfg.API.RateLimit)
	assert.Equal(t, "sessions.db", cfg.Session.SQL.DSN)
	assert.Equal(t, observability.ExporterNone, cfg.Telemetry.Exporter)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, `
session:
  store: file
invalid yaml here: [[[
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeFile(t, "session:\n  stor: redis\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_DeepNesting(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxDepth+2; i++ {
		b.WriteString(strings.Repeat("  ", i))
		b.WriteString("k:\n")
	}
	_, err := Load(writeFile(t, b.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting depth")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "session:\n  store: file\n  base_dir: /from/yaml\n")

	t.Setenv("TRACKER_SESSION_STORE", "sqlite")
	t.Setenv("TRACKER_SESSION_SQL_DSN", "/tmp/tracker.db")
	t.Setenv("TRACKER_LOG_LEVEL", "warn")
	t.Setenv("TRACKER_OTEL_EXPORTER", "stdout")
	t.Setenv("TRACKER_API_RATE_LIMIT", "2.5")
	t.Setenv("TRACKER_API_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TRACKER_METRICS_PUSHGATEWAY", "http://pushgateway:9091")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, session.StoreSQLite, cfg.Session.Store)
	assert.Equal(t, "/from/yaml", cfg.Session.BaseDir)
	assert.Equal(t, "/tmp/tracker.db", cfg.Session.SQL.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, observability.ExporterStdout, cfg.Telemetry.Exporter)
	assert.Equal(t, 2.5, cfg.API.RateLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushGateway)
	assert.Equal(t, DefaultMetricsJob, cfg.Metrics.Job)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TRACKER_API_BURST", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracker.yaml")
	cfg := Default()
	cfg.Session.Store = session.StorePostgres
	cfg.Session.SQL.DSN = "postgres://tracker@localhost/tracker"

	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.Session.Store = "etcd" }, wantErr: `unknown session store "etcd"`},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Session.Store = session.StoreRedis
			c.Session.Redis.Addr = ""
		}, wantErr: "session.redis.addr"},
		{name: "postgres without dsn", mutate: func(c *Config) {
			c.Session.Store = session.StorePostgres
			c.Session.SQL.DSN = ""
		}, wantErr: "session.sql.dsn"},
		{name: "firestore without project", mutate: func(c *Config) {
			c.Session.Store = session.StoreFirestore
		}, wantErr: "project_id"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log format"},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Telemetry.Exporter = observability.ExporterOTLP
		}, wantErr: "otlp_endpoint"},
		{name: "zero burst", mutate: func(c *Config) { c.API.Burst = 0 }, wantErr: "api.burst"},
		{name: "limiting disabled", mutate: func(c *Config) {
			c.API.RateLimit = 0
			c.API.Burst = 0
		}},
		{name: "pushgateway", mutate: func(c *Config) { c.Metrics.PushGateway = "https://push.example.com:9091" }},
		{name: "pushgateway without scheme", mutate: func(c *Config) {
			c.Metrics.PushGateway = "push.example.com:9091"
		}, wantErr: "metrics.pushgateway"},
		{name: "pushgateway without job", mutate: func(c *Config) {
			c.Metrics.PushGateway = "http://push:9091"
			c.Metrics.Job = ""
		}, wantErr: "metrics.job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
