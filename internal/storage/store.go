package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SirClappington/checkq/internal/domain"
)

var _ JobStore = (*Store)(nil)

// Store is the Postgres JobStore. Lease arithmetic uses the database clock so
// that claim, expiry scan and conditional transitions agree on "now".
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// Pool exposes the pool for migrations and advisory locks.
func (s *Store) Pool() *pgxpool.Pool { return s.db }

const jobColumns = `id, submission_id, payload, check_class, status, lease_owner,
lease_expires_at, result_message, finalized_by, created_at, updated_at`

// Enqueue persists new Pending jobs in one transaction.
func (s *Store) Enqueue(ctx context.Context, jobs []domain.NewJob) ([]domain.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	out := make([]domain.Job, 0, len(jobs))
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, nj := range jobs {
			var sub *string
			if nj.SubmissionID != "" {
				v := nj.SubmissionID
				sub = &v
			}
			row := tx.QueryRow(ctx, `insert into jobs(
id, submission_id, payload, check_class, status, created_at, updated_at
) values ($1,$2,$3,$4,0,clock_timestamp(),clock_timestamp())
on conflict (submission_id) where submission_id is not null do nothing
returning `+jobColumns,
				uuid.NewString(), sub, nj.Payload, nj.CheckClass,
			)
			j, err := scanJob(row)
			if errors.Is(err, pgx.ErrNoRows) {
				row = tx.QueryRow(ctx, `select `+jobColumns+` from jobs where submission_id = $1`, nj.SubmissionID)
				j, err = scanJob(row)
			}
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: enqueue: %w", err)
	}
	return out, nil
}

// ClaimBatch uses FOR UPDATE SKIP LOCKED so concurrent claimers never pick the
// same row and never wait on each other.
func (s *Store) ClaimBatch(ctx context.Context, p ClaimParams) ([]domain.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
with picked as (
  select id from jobs
   where status = 0 and check_class = $1
   order by created_at asc, seq asc
   for update skip locked
   limit $2
)
update jobs j
   set status = 1,
       lease_owner = $3,
       lease_expires_at = now() + $4::float8 * interval '1 millisecond',
       updated_at = now()
  from picked
 where j.id = picked.id and j.status = 0
returning j.id, j.submission_id, j.payload, j.check_class, j.status, j.lease_owner,
          j.lease_expires_at, j.result_message, j.finalized_by, j.created_at, j.updated_at`,
		p.CheckClass, p.Limit, p.Owner, float64(p.LeaseTimeout.Milliseconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: claim batch: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: claim batch: %w", err)
	}
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

// Transition is the compare-and-swap used by result reports and the sweeper.
func (s *Store) Transition(ctx context.Context, t Transition) (TransitionResult, error) {
	if err := validateTransition(t); err != nil {
		return TransitionResult{}, err
	}
	query := `update jobs
   set status = $4,
       lease_owner = null,
       lease_expires_at = null,
       result_message = $5,
       finalized_by = $6,
       updated_at = now()
 where id = $1 and status = $2 and lease_owner = $3`
	if t.RequireExpired {
		query += ` and lease_expires_at <= now()`
	}
	tag, err := s.db.Exec(ctx, query,
		t.JobID, int(t.Expected), t.ExpectedOwner, int(t.Next), t.Message, t.FinalizedBy,
	)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("storage: transition: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return TransitionResult{Applied: true, Found: true, Status: t.Next, FinalizedBy: t.FinalizedBy}, nil
	}

	var (
		status      int
		finalizedBy *string
	)
	err = s.db.QueryRow(ctx, `select status, finalized_by from jobs where id = $1`, t.JobID).Scan(&status, &finalizedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransitionResult{}, nil
	}
	if err != nil {
		return TransitionResult{}, fmt.Errorf("storage: transition lookup: %w", err)
	}
	res := TransitionResult{Found: true, Status: domain.Status(status)}
	if finalizedBy != nil {
		res.FinalizedBy = *finalizedBy
	}
	return res, nil
}

func (s *Store) ExtendLease(ctx context.Context, jobID, owner string, d time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, `update jobs
   set lease_expires_at = now() + $3::float8 * interval '1 millisecond',
       updated_at = now()
 where id = $1 and status = 1 and lease_owner = $2 and lease_expires_at > now()`,
		jobID, owner, float64(d.Milliseconds()),
	)
	if err != nil {
		return false, fmt.Errorf("storage: extend lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Get(ctx context.Context, jobID string) (domain.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return j, nil
}

func (s *Store) ListExpired(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
 where status = 1 and lease_expires_at <= now()
 order by lease_expires_at asc
 limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list expired: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("storage: list expired: %w", err)
	}
	return jobs, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := s.db.Query(ctx, `select status, count(*) from jobs group by status`)
	if err != nil {
		return nil, fmt.Errorf("storage: count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		out[st] = 0
	}
	for rows.Next() {
		var (
			status int
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("storage: count by status: %w", err)
		}
		out[domain.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		j      domain.Job
		status int
	)
	err := row.Scan(
		&j.ID, &j.SubmissionID, &j.Payload, &j.CheckClass, &status, &j.LeaseOwner,
		&j.LeaseExpiresAt, &j.ResultMessage, &j.FinalizedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}
	j.Status = domain.Status(status)
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
