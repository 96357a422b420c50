package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/warden/pkg/audit"
	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/governance"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/metrics"
	"github.com/pario-ai/warden/pkg/server"
	"github.com/pario-ai/warden/pkg/sweeper"
	"github.com/pario-ai/warden/pkg/upstream"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the governed chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting warden", zap.String("version", version), zap.String("config", configPath))
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "warden.yaml", "path to config file")
	return cmd
}

// serve wires the governance stores, the upstream client, the sweeper and the
// HTTP server, and runs until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	opts := governance.Options{
		Logger:          logger.Named("governance"),
		Metrics:         m,
		UpstreamTimeout: cfg.Upstream.Timeout,
	}
	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		var err error
		auditLog, err = audit.New(cfg.Audit, logger.Named("audit"))
		if err != nil {
			return fmt.Errorf("init audit: %w", err)
		}
		defer func() { _ = auditLog.Close() }()
		opts.Audit = auditLog
	}

	client, err := upstream.New(cfg, logger.Named("upstream"))
	if err != nil {
		return fmt.Errorf("init upstream: %w", err)
	}

	gov := governance.NewFromConfig(cfg.Governance, client, opts)

	sw := sweeper.New(cfg.Governance.SweepInterval, nil, logger.Named("sweeper"), m)
	sw.Add("cache", gov.Cache())
	sw.Add("rate_windows", gov.Limiter())
	sw.Add("strike_windows", gov.Tracker())
	sw.Add("penalties", gov.Gate())
	if auditLog != nil {
		sw.Add("audit", auditLog)
	}

	m.RegisterCache(gov.Cache().Stats)
	m.RegisterSize("cache", gov.Cache().Len)
	m.RegisterSize("rate_windows", gov.Limiter().Len)
	m.RegisterSize("strike_windows", gov.Tracker().Len)
	m.RegisterSize("penalties", gov.Gate().Len)

	srv := server.New(cfg, gov, sw, m, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return sw.Run(gctx) })
	err = g.Wait()

	// Audit writes still in flight must land before the deferred Close.
	drainCtx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
	defer cancel()
	if derr := gov.Drain(drainCtx); derr != nil {
		logger.Warn("audit drain incomplete", zap.Error(derr))
	}
	return err
}

const auditDrainTimeout = 10 * time.Second
