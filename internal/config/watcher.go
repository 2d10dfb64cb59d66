package config

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Source is what components hold: a way to read the latest snapshot.
type Source interface {
	Current() Runtime
}

// Watcher is the single owner of the runtime snapshot. It polls a Provider
// and keeps the last good value when the provider fails.
type Watcher struct {
	provider Provider
	interval time.Duration
	logger   *zap.Logger
	current  atomic.Pointer[Runtime]
}

func NewWatcher(p Provider, interval time.Duration, logger *zap.Logger) *Watcher {
	w := &Watcher{provider: p, interval: interval, logger: logger.With(zap.String("component", "config"))}
	def := DefaultRuntime()
	w.current.Store(&def)
	return w
}

func (w *Watcher) Current() Runtime { return *w.current.Load() }

// Refresh fetches one snapshot. On error the previous snapshot stays active.
func (w *Watcher) Refresh(ctx context.Context) error {
	r, err := w.provider.GetConfig(ctx)
	if err != nil {
		w.logger.Warn("config refresh failed, keeping last good snapshot", zap.Error(err))
		return err
	}
	prev := w.current.Swap(&r)
	if prev.BatchSize != r.BatchSize || prev.LeaseTimeoutSeconds != r.LeaseTimeoutSeconds {
		w.logger.Info("runtime config changed",
			zap.Int("batch_size", r.BatchSize),
			zap.Int("lease_timeout_seconds", r.LeaseTimeoutSeconds),
		)
	}
	return nil
}

// Run refreshes on every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			_ = w.Refresh(ctx)
		}
	}
}
