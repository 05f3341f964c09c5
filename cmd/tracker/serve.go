package main

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aixgo-dev/campaign-tracker/internal/api"
	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.API.Addr
			}
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}

			metrics.InitMetrics()
			handler := api.New(store,
				api.WithLogger(c.logger),
				api.WithVersion(Version),
				api.WithRateLimit(c.cfg.API.RateLimit, c.cfg.API.Burst),
				api.WithCORSOrigins(c.cfg.API.CORSOrigins),
			).Handler()

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.logger, metrics.NewServer(addr, handler), l)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

// serve runs srv on l until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, logger *zap.Logger, srv *metrics.Server, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving session API", zap.String("addr", l.Addr().String()))
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
