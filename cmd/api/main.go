package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/checkq/internal/config"
	"github.com/SirClappington/checkq/internal/httpapi"
	"github.com/SirClappington/checkq/internal/ingest"
	"github.com/SirClappington/checkq/internal/lease"
	"github.com/SirClappington/checkq/internal/logging"
	"github.com/SirClappington/checkq/internal/metrics"
	"github.com/SirClappington/checkq/internal/ratelimit"
	"github.com/SirClappington/checkq/internal/storage"
	"github.com/SirClappington/checkq/internal/sweeper"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		store storage.JobStore
		pool  *pgxpool.Pool
	)
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set, using in-memory store")
		store = storage.NewMemory()
	} else {
		var err error
		pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		if cfg.AutoMigrate {
			if err := storage.Migrate(pool, cfg.MigrationsDir); err != nil {
				pool.Close()
				return err
			}
		}
		store = storage.New(pool)
	}
	defer store.Close()

	watcher := config.NewWatcher(config.FileProvider{Path: cfg.RuntimeConfigPath}, cfg.ConfigRefresh, logger)
	if err := watcher.Refresh(ctx); err != nil {
		return err
	}

	var backend ratelimit.Backend = ratelimit.NewWindow()
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		backend = ratelimit.NewRedis(rdb)
	}

	auth := httpapi.NewKeyAuth(cfg.CheckerKeyHashes)
	if !auth.Enabled() {
		logger.Warn("CHECKER_KEY_HASHES not set, checker endpoints are unauthenticated")
	}

	m := metrics.New()
	srv := httpapi.NewServer(httpapi.Deps{
		Leases:  lease.NewManager(store, watcher, m, logger),
		Ingest:  ingest.NewIngestor(store, m, logger),
		Store:   store,
		Metrics: m,
		Limiter: ratelimit.New(watcher, backend, logger),
		Auth:    auth,
		Config:  watcher,
		Logger:  logger,
	})
	httpSrv := srv.NewHTTPServer(cfg.APIAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return m.RunResync(gctx, store, cfg.MetricsResync, logger) })

	if cfg.EmbeddedSweeper {
		opts := []sweeper.Option{sweeper.WithBatch(cfg.SweepBatch)}
		if pool != nil {
			opts = append(opts, sweeper.WithLocker(storage.NewAdvisoryLock(pool, storage.SweeperLockKey)))
		}
		sw := sweeper.New(store, m, cfg.SweepInterval, logger, opts...)
		g.Go(func() error { return sw.Run(gctx, cfg.ShutdownTimeout) })
	}

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("api shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
