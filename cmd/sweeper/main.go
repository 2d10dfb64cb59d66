// Command sweeper runs the lease sweeper on its own, for deployments where
// API processes set EMBEDDED_SWEEPER=false. Several copies may run; the
// Postgres advisory lock lets one sweep at a time.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/config"
	"github.com/SirClappington/checkq/internal/logging"
	"github.com/SirClappington/checkq/internal/metrics"
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
		logger.Error("sweeper exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	store := storage.New(pool)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return err
	}
	if cfg.AutoMigrate {
		if err := storage.Migrate(pool, cfg.MigrationsDir); err != nil {
			return err
		}
	}

	// This process serves no stats endpoint; the collector only feeds expiry
	// counts to OTel through the global MeterProvider.
	sw := sweeper.New(store, metrics.New(), cfg.SweepInterval, logger,
		sweeper.WithBatch(cfg.SweepBatch),
		sweeper.WithLocker(storage.NewAdvisoryLock(pool, storage.SweeperLockKey)),
	)
	return sw.Run(ctx, cfg.ShutdownTimeout)
}
