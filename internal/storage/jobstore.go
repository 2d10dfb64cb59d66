package storage

import (
	"context"
	"time"

	"github.com/SirClappington/checkq/internal/domain"
)

// JobStore is the sole authority over job state. ClaimBatch and Transition are
// the only operations that move a job through its lifecycle, and each one is a
// single indivisible select-and-mutate on the backing store.
type JobStore interface {
	// Enqueue inserts Pending jobs. A job whose non-empty SubmissionID was
	// already enqueued is returned as stored instead of being inserted again.
	Enqueue(ctx context.Context, jobs []domain.NewJob) ([]domain.Job, error)

	// ClaimBatch moves up to p.Limit Pending jobs of p.CheckClass to Checking,
	// oldest first, under lease p.Owner. No two concurrent calls ever return
	// the same job. An empty result is not an error.
	ClaimBatch(ctx context.Context, p ClaimParams) ([]domain.Job, error)

	// Transition applies t only if the job still has the expected status and
	// lease owner. When it does not apply, the result describes the job's
	// current state and nothing is written.
	Transition(ctx context.Context, t Transition) (TransitionResult, error)

	// ExtendLease moves the expiry of a live, unexpired lease to now+d.
	ExtendLease(ctx context.Context, jobID, owner string, d time.Duration) (bool, error)

	Get(ctx context.Context, jobID string) (domain.Job, error)

	// ListExpired returns Checking jobs whose lease expired, oldest expiry first.
	ListExpired(ctx context.Context, limit int) ([]domain.Job, error)

	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

type ClaimParams struct {
	Limit        int
	CheckClass   int
	Owner        string
	LeaseTimeout time.Duration
}

type Transition struct {
	JobID         string
	Expected      domain.Status
	ExpectedOwner string
	Next          domain.Status
	Message       string
	// FinalizedBy records who made the terminal transition.
	FinalizedBy string
	// RequireExpired additionally requires the lease to have expired.
	RequireExpired bool
}

type TransitionResult struct {
	Applied     bool
	Found       bool
	Status      domain.Status
	FinalizedBy string
}

func validateTransition(t Transition) error {
	if !t.Expected.CanTransitionTo(t.Next) || !t.Next.Terminal() {
		return domain.ErrInvalidTransition
	}
	if t.ExpectedOwner == "" {
		return domain.ErrInvalidTransition
	}
	return nil
}
