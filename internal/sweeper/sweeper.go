// Package sweeper reclaims jobs whose lease expired without a report.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/domain"
	"github.com/SirClappington/checkq/internal/metrics"
	"github.com/SirClappington/checkq/internal/storage"
)

// Locker guards the sweep across processes. TryLock must not block.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// maxSkipped bounds, in pages, how many unreclaimable jobs one pass steps over.
const maxSkipped = 10

type Option func(*Sweeper)

// WithLocker makes each tick sweep only while l is held.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

// WithBatch caps how many expired jobs one scan returns.
func WithBatch(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// Sweeper runs Sweep on a fixed interval from a single goroutine, so two
// passes never overlap.
type Sweeper struct {
	store    storage.JobStore
	metrics  *metrics.Collector
	logger   *zap.Logger
	interval time.Duration
	batch    int
	locker   Locker

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(store storage.JobStore, m *metrics.Collector, interval time.Duration, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		metrics:  m,
		logger:   logger.With(zap.String("component", "sweeper")),
		interval: interval,
		batch:    500,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.logger.Info("sweeper starting", zap.Duration("interval", s.interval), zap.Int("batch", s.batch))
	s.wg.Add(1)
	go s.loop(loopCtx, s.stopCh)
	return nil
}

// Stop ends the loop and waits for the tick in progress. If ctx expires
// first, the scan is abandoned; transitions already issued still complete.
// mu is held until the run and its lock are released, so a concurrent Start
// waits for them.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	stopCh, cancel := s.stopCh, s.cancel

	close(stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("sweeper shutdown timed out, abandoning tick")
		cancel()
		<-done
	}
	cancel()

	if s.locker != nil {
		if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release sweeper lock", zap.Error(err))
		}
	}
	return nil
}

// Run starts the sweeper and stops it when ctx is done, giving the last tick
// up to grace to finish.
func (s *Sweeper) Run(ctx context.Context, grace time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Warn("sweeper lock", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed, retrying next tick", zap.Error(err))
	}
}

// Sweep moves every expired lease to Unknown and returns how many jobs it
// reclaimed. A job finalized by its agent between the scan and the write is
// left alone. Jobs whose write fails are skipped for the rest of the pass and
// retried on the next tick. Only a failed scan is returned as an error.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	reclaimed, failed := 0, 0
	skip := make(map[string]struct{})
	for {
		// Skipped jobs may still be expired and come back at the head of
		// the scan, so widen the page to look past them.
		limit := s.batch + len(skip)
		expired, err := s.store.ListExpired(ctx, limit)
		if err != nil {
			return reclaimed, err
		}
		fresh := 0
		for _, j := range expired {
			if _, ok := skip[j.ID]; ok {
				continue
			}
			fresh++
			ok, err := s.reclaim(ctx, j)
			switch {
			case err != nil:
				failed++
				skip[j.ID] = struct{}{}
			case ok:
				reclaimed++
			default:
				skip[j.ID] = struct{}{}
			}
		}
		if len(expired) < limit || fresh == 0 || len(skip) >= maxSkipped*s.batch || ctx.Err() != nil {
			if failed > 0 {
				s.logger.Warn("expired leases left for next tick", zap.Int("failed", failed))
			}
			return reclaimed, nil
		}
	}
}

// reclaim reports whether the job moved to Unknown. The error is set only when
// the write itself failed.
func (s *Sweeper) reclaim(ctx context.Context, j domain.Job) (bool, error) {
	if j.LeaseOwner == nil {
		return false, nil
	}
	res, err := s.store.Transition(context.WithoutCancel(ctx), storage.Transition{
		JobID:          j.ID,
		Expected:       domain.Checking,
		ExpectedOwner:  *j.LeaseOwner,
		Next:           domain.Unknown,
		Message:        domain.LeaseExpiredMessage,
		FinalizedBy:    domain.FinalizedBySweeper,
		RequireExpired: true,
	})
	if err != nil {
		s.logger.Error("reclaim expired lease", zap.String("job_id", j.ID), zap.Error(err))
		return false, err
	}
	if !res.Applied {
		s.logger.Debug("expired lease already resolved",
			zap.String("job_id", j.ID),
			zap.Stringer("status", res.Status),
		)
		return false, nil
	}
	s.metrics.RecordExpired(ctx)
	s.logger.Info("lease expired, job marked unknown",
		zap.String("job_id", j.ID),
		zap.String("lease", *j.LeaseOwner),
	)
	return true, nil
}
