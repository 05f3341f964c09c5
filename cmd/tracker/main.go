// Command tracker records what a social campaign searched, engaged with,
// distilled, generated and published, and verifies the published result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/config"
	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// Version information (set via ldflags)
var Version = "dev"

// Exit codes.
const (
	exitError   = 1
	exitInvalid = 2
)

// cli carries global flags and the handles built from them. The store is
// opened on first use so that --help never touches storage.
type cli struct {
	configPath string
	storeKind  string
	dir        string
	verbose    bool

	cfg     *config.Config
	command string
	logger  *zap.Logger
	store   *session.Store
}

const pushTimeout = 5 * time.Second

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{logger: zap.NewNop()}
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	c.close(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	if errors.Is(err, session.ErrInvalidInput) {
		return exitInvalid
	}
	return exitError
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tracker",
		Short: "Campaign content tracker",
		Long: `tracker keeps one record per campaign run: the search, the posts engaged
with, the distilled material, the content generated for Twitter, Xiaohongshu
and WeChat, and what each platform reported as published.

verify compares the publish reports with the generated content and lists
the tweets that still need to be sent.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Config file (default: ~/.social_publisher/tracker.yaml)")
	flags.StringVar(&c.storeKind, "store", "", "Session store: file, redis, sqlite, postgres, firestore")
	flags.StringVar(&c.dir, "dir", "", "Session directory for the file store (default: ~/.social_publisher/tracker)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		c.newInitCmd(),
		c.newSearchCmd(),
		c.newEngageCmd(),
		c.newDistillCmd(),
		c.newGenerateCmd(),
		c.newPublishCmd(),
		c.newListCmd(),
		c.newReportCmd(),
		c.newVerifyCmd(),
		c.newUnpublishedCmd(),
		c.newSessionIDCmd(),
		c.newServeCmd(),
		c.newConfigCmd(),
	)
	return root
}

// setup loads .env and the config file, applies flag overrides and builds
// the logger and tracer.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.storeKind != "" {
		cfg.Session.Store = c.storeKind
	}
	if c.dir != "" {
		cfg.Session.BaseDir = c.dir
	}
	if c.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfg = cfg
	c.command = cmd.Name()

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger.With(
		zap.String("invocation_id", uuid.NewString()),
		zap.String("command", cmd.Name()),
	)

	if err := observability.Init(cmd.Context(), cfg.Telemetry, c.logger); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, config.FormatConsole) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)), nil
}

// openStore returns the process store, opening it on first use.
func (c *cli) openStore(ctx context.Context) (*session.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := session.Open(ctx, c.cfg.Session, session.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func (c *cli) close(ctx context.Context) {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("close session store", zap.Error(err))
		}
		c.store = nil
	}
	if err := observability.Shutdown(ctx); err != nil {
		c.logger.Warn("shutdown tracing", zap.Error(err))
	}
	c.pushMetrics(ctx)
	_ = c.logger.Sync()
}

// pushMetrics hands this invocation's metrics to the configured Pushgateway.
// serve is scraped on /metrics instead.
func (c *cli) pushMetrics(ctx context.Context) {
	if c.cfg == nil || c.cfg.Metrics.PushGateway == "" || c.command == "serve" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	err := metrics.PushMetrics(ctx, c.cfg.Metrics.PushGateway, c.cfg.Metrics.Job,
		map[string]string{"command": c.command})
	if err != nil {
		c.logger.Warn("push metrics", zap.Error(err))
	}
}

// missingSession turns an empty store into an actionable message.
func missingSession(err error) error {
	if errors.Is(err, session.ErrNoSessions) {
		return fmt.Errorf("no session found, run init first: %w", err)
	}
	return err
}
