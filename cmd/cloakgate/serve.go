package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shortontech/cloakgate/internal/engine"
	httpx "github.com/shortontech/cloakgate/internal/http"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/reporter"
	"github.com/shortontech/cloakgate/internal/sink"
	"github.com/shortontech/cloakgate/internal/store"
	"github.com/shortontech/cloakgate/internal/tables"
	"github.com/shortontech/cloakgate/pkg/config"
)

const reporterShutdownGrace = 5 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	cfg, logger := c.cfg, c.logger
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	t, err := loadTables(cfg)
	if err != nil {
		return err
	}

	policies, closeStore, err := openStore(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks, err := sink.FromConfig(cfg, logger, m)
	if err != nil {
		return err
	}
	rep := reporter.New(sinks, cfg.Reporter, m, logger)

	env := httpx.Env{
		Cfg:      cfg,
		Engine:   engine.New(t, rep, m, logger),
		Resolver: store.NewResolver(policies),
		Ready:    policies,
		Metrics:  m,
		Logger:   logger,
	}

	logger.Info("starting cloakgate",
		zap.String("addr", cfg.ServerAddr),
		zap.String("store", cfg.Store.Kind),
		zap.Strings("outputs", cfg.Outputs),
		zap.String("fail_mode", string(cfg.FailMode)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rep.Run(gctx, reporterShutdownGrace) })
	g.Go(func() error { return httpx.NewServer(env).Run(gctx) })
	g.Go(func() error {
		return metrics.NewServer(cfg.Metrics, prometheus.DefaultGatherer, logger).Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("reporter did not drain before shutdown")
		return nil
	}
	return err
}

func loadTables(cfg config.Config) (*tables.Tables, error) {
	if cfg.TablesFile == "" {
		return tables.Default(), nil
	}
	t, err := tables.LoadFile(cfg.TablesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	return t, nil
}

// openStore builds the configured backend behind the cache layer. The
// returned func releases whatever was opened.
func openStore(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (*store.CachedStore, func(), error) {
	var (
		backend store.Store
		closers []func() error
	)
	closeAll := func() {
		for _, fn := range closers {
			if err := fn(); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}

	switch cfg.Store.Kind {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, cfg.Store.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		backend = pg
		closers = append(closers, pg.Close)
	default:
		fs, err := store.LoadFileStore(cfg.Store.ResourcesFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("loaded resources", zap.String("file", cfg.Store.ResourcesFile), zap.Int("count", fs.Len()))
		backend = fs
	}

	var cache store.Cache
	rc, err := store.NewRedisCache(ctx, cfg.Store.RedisURL)
	switch {
	case err != nil:
		logger.Warn("policy cache disabled", zap.Error(err))
	case rc != nil:
		cache = rc
		closers = append(closers, rc.Close)
	}

	cs := store.NewCachedStore(backend, cache, store.CachedOptions{
		TTL:      cfg.Store.CacheTTL,
		Timeout:  cfg.Store.LookupTimeout,
		FailOpen: cfg.FailMode == config.FailOpen,
	}, m, logger)
	return cs, closeAll, nil
}
