// Package lease hands batches of pending jobs to polling agents.
package lease

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/config"
	"github.com/SirClappington/checkq/internal/domain"
	"github.com/SirClappington/checkq/internal/metrics"
	"github.com/SirClappington/checkq/internal/storage"
)

// Batch is the result of one FetchBatch call. Every job in it shares Lease.
type Batch struct {
	Jobs   []domain.Job
	Lease  string
	Paused bool
}

type Manager struct {
	store   storage.JobStore
	cfg     config.Source
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewManager(store storage.JobStore, cfg config.Source, m *metrics.Collector, logger *zap.Logger) *Manager {
	return &Manager{store: store, cfg: cfg, metrics: m, logger: logger.With(zap.String("component", "lease"))}
}

// FetchBatch claims up to amount pending jobs of checkClass under a fresh
// lease. An empty queue is reported as Paused, not as an error.
func (m *Manager) FetchBatch(ctx context.Context, amount, checkClass int) (Batch, error) {
	rt := m.cfg.Current()
	if amount <= 0 {
		return Batch{}, domain.ErrInvalidAmount
	}
	if !rt.KnowsCheckClass(checkClass) {
		return Batch{}, fmt.Errorf("%w: %d", domain.ErrInvalidCheckClass, checkClass)
	}
	if amount > rt.BatchSize {
		amount = rt.BatchSize
	}

	token := uuid.NewString()
	jobs, err := m.store.ClaimBatch(ctx, storage.ClaimParams{
		Limit:        amount,
		CheckClass:   checkClass,
		Owner:        token,
		LeaseTimeout: rt.LeaseTimeout(),
	})
	if err != nil {
		m.logger.Error("claim batch", zap.Int("check_class", checkClass), zap.Error(err))
		return Batch{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	m.metrics.RecordFetch(ctx, len(jobs))

	if len(jobs) == 0 {
		return Batch{Paused: true}, nil
	}
	m.logger.Debug("batch leased",
		zap.String("lease", token),
		zap.Int("check_class", checkClass),
		zap.Int("jobs", len(jobs)),
	)
	return Batch{Jobs: jobs, Lease: token}, nil
}

// ExtendLease pushes a live lease's expiry forward by the configured lease
// timeout. It returns false when the lease is gone, expired or not the
// caller's.
func (m *Manager) ExtendLease(ctx context.Context, jobID, lease string) (bool, error) {
	if jobID == "" || lease == "" {
		return false, nil
	}
	ok, err := m.store.ExtendLease(ctx, jobID, lease, m.cfg.Current().LeaseTimeout())
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Enqueue validates and stores new Pending jobs for the submission workflow.
// Resubmitted submission ids come back as already stored; the depth gauge
// may overcount those until the next resync.
func (m *Manager) Enqueue(ctx context.Context, jobs []domain.NewJob) ([]domain.Job, error) {
	if len(jobs) == 0 {
		return nil, domain.ErrInvalidAmount
	}
	rt := m.cfg.Current()
	for _, j := range jobs {
		if !rt.KnowsCheckClass(j.CheckClass) {
			return nil, fmt.Errorf("%w: %d", domain.ErrInvalidCheckClass, j.CheckClass)
		}
	}
	stored, err := m.store.Enqueue(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	m.metrics.RecordEnqueued(len(stored))
	return stored, nil
}
