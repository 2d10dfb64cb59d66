// Package ingest accepts terminal verdicts from the agent holding a job's lease.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SirClappington/checkq/internal/domain"
	"github.com/SirClappington/checkq/internal/metrics"
	"github.com/SirClappington/checkq/internal/storage"
)

type Ingestor struct {
	store    storage.JobStore
	metrics  *metrics.Collector
	logger   *zap.Logger
	mismatch rate.Sometimes
}

func NewIngestor(store storage.JobStore, m *metrics.Collector, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		metrics:  m,
		logger:   logger.With(zap.String("component", "ingest")),
		mismatch: rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}
}

// ReportResult moves a Checking job to a terminal status if lease still owns
// it. Duplicate and late reports are outcomes, not errors.
func (in *Ingestor) ReportResult(ctx context.Context, jobID, lease string, status domain.Status, message string) (domain.Outcome, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidStatus, int(status))
	}
	if jobID == "" {
		return domain.NotFound, nil
	}
	if lease == "" {
		// No lease can match, but an unknown id still reports as NotFound.
		if _, err := in.store.Get(ctx, jobID); err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				return domain.NotFound, nil
			}
			return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return domain.LeaseMismatch, nil
	}

	// The write must land even if the caller hangs up mid-request.
	res, err := in.store.Transition(context.WithoutCancel(ctx), storage.Transition{
		JobID:         jobID,
		Expected:      domain.Checking,
		ExpectedOwner: lease,
		Next:          status,
		Message:       message,
		FinalizedBy:   lease,
	})
	if err != nil {
		in.logger.Error("report transition", zap.String("job_id", jobID), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	switch {
	case res.Applied:
		in.metrics.RecordUpdate(ctx, status)
		return domain.Accepted, nil
	case !res.Found:
		return domain.NotFound, nil
	case res.Status.Terminal() && res.FinalizedBy == lease:
		return domain.AlreadyFinalized, nil
	default:
		in.mismatch.Do(func() {
			in.logger.Warn("report dropped, lease no longer held",
				zap.String("job_id", jobID),
				zap.String("lease", lease),
				zap.Stringer("current_status", res.Status),
				zap.String("finalized_by", res.FinalizedBy),
			)
		})
		return domain.LeaseMismatch, nil
	}
}
