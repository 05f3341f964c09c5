// Package config loads tracker configuration from an optional YAML file
// with TRACKER_* environment overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TRACKER_"

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config represents the application configuration
type Config struct {
	Session   session.Config       `yaml:"session" envPrefix:"SESSION_"`
	Log       LogConfig            `yaml:"log" envPrefix:"LOG_"`
	Telemetry observability.Config `yaml:"telemetry" envPrefix:"OTEL_"`
	API       APIConfig            `yaml:"api" envPrefix:"API_"`
	Metrics   MetricsConfig        `yaml:"metrics" envPrefix:"METRICS_"`
}

// LogConfig controls the zap logger built by the CLI.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"FORMAT"`
}

// APIConfig holds settings for the read-only HTTP API.
type APIConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit   float64  `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst       int      `yaml:"burst" env:"BURST"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" env:"CORS_ORIGINS" envSeparator:","`
}

// MetricsConfig controls how CLI invocations export their metrics. The
// serve command exposes /metrics instead and ignores it.
type MetricsConfig struct {
	// PushGateway is the Prometheus Pushgateway URL. Empty disables pushing.
	PushGateway string `yaml:"pushgateway,omitempty" env:"PUSHGATEWAY"`
	// Job is the job label metrics are pushed under.
	Job string `yaml:"job" env:"JOB"`
}

// DefaultMetricsJob is the Pushgateway job name used when none is set.
const DefaultMetricsJob = "campaign_tracker"

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Session: session.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: FormatJSON,
		},
		Telemetry: observability.Config{
			ServiceName: observability.DefaultServiceName,
			Exporter:    observability.ExporterNone,
		},
		API: APIConfig{
			Addr:      ":8080",
			RateLimit: 20,
			Burst:     40,
		},
		Metrics: MetricsConfig{
			Job: DefaultMetricsJob,
		},
	}
}

// DefaultPath returns ~/.social_publisher/tracker.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".social_publisher", "tracker.yaml")
	}
	return filepath.Join(home, ".social_publisher", "tracker.yaml")
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment, in that order. An empty path means DefaultPath, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	switch {
	case err == nil:
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv applies TRACKER_* environment variables to target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg as YAML to path with owner-only permissions, replacing
// any existing file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks backend names and the settings each backend needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Session.Store {
	case "", session.StoreFile:
	case session.StoreRedis:
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required for the redis store"))
		}
	case session.StoreSQLite, session.StorePostgres:
		if c.Session.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("session.sql.dsn is required for the %s store", c.Session.Store))
		}
	case session.StoreFirestore:
		if c.Session.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("session.firestore.project_id is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session store %q", c.Session.Store))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", FormatJSON, FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	switch c.Telemetry.Exporter {
	case "", observability.ExporterNone, observability.ExporterStdout:
	case observability.ExporterOTLP:
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter))
	}

	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}
	if c.API.RateLimit > 0 && c.API.Burst <= 0 {
		errs = append(errs, errors.New("api.burst must be positive when rate limiting"))
	}

	if c.Metrics.PushGateway != "" {
		u, err := url.Parse(c.Metrics.PushGateway)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("metrics.pushgateway must be an http(s) URL, got %q", c.Metrics.PushGateway))
		}
		if c.Metrics.Job == "" {
			errs = append(errs, errors.New("metrics.job is required when pushing metrics"))
		}
	}

	return errors.Join(errs...)
}
