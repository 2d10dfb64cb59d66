package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SirClappington/checkq/internal/domain"
)

var _ JobStore = (*Memory)(nil)

type memJob struct {
	job domain.Job
	seq uint64
}

// Memory is an in-process JobStore for tests and single-node development.
// Claim and transition run entirely under one mutex, which makes them atomic.
type Memory struct {
	mu          sync.Mutex
	jobs        map[string]*memJob
	submissions map[string]string
	seq         uint64
	now         func() time.Time
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests that move time by hand.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		jobs:        make(map[string]*memJob),
		submissions: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Enqueue(_ context.Context, jobs []domain.NewJob) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Job, 0, len(jobs))
	for _, nj := range jobs {
		if nj.SubmissionID != "" {
			if id, ok := m.submissions[nj.SubmissionID]; ok {
				out = append(out, cloneJob(m.jobs[id].job))
				continue
			}
		}
		now := m.now()
		m.seq++
		j := domain.Job{
			ID:         uuid.NewString(),
			Payload:    nj.Payload,
			CheckClass: nj.CheckClass,
			Status:     domain.Pending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if nj.SubmissionID != "" {
			sub := nj.SubmissionID
			j.SubmissionID = &sub
			m.submissions[sub] = j.ID
		}
		m.jobs[j.ID] = &memJob{job: j, seq: m.seq}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (m *Memory) ClaimBatch(_ context.Context, p ClaimParams) ([]domain.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*memJob, 0, len(m.jobs))
	for _, mj := range m.jobs {
		if mj.job.Status == domain.Pending && mj.job.CheckClass == p.CheckClass {
			candidates = append(candidates, mj)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.seq < b.seq
	})
	if len(candidates) > p.Limit {
		candidates = candidates[:p.Limit]
	}

	now := m.now()
	expires := now.Add(p.LeaseTimeout)
	out := make([]domain.Job, 0, len(candidates))
	for _, mj := range candidates {
		owner := p.Owner
		exp := expires
		mj.job.Status = domain.Checking
		mj.job.LeaseOwner = &owner
		mj.job.LeaseExpiresAt = &exp
		mj.job.UpdatedAt = now
		out = append(out, cloneJob(mj.job))
	}
	return out, nil
}

func (m *Memory) Transition(_ context.Context, t Transition) (TransitionResult, error) {
	if err := validateTransition(t); err != nil {
		return TransitionResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.jobs[t.JobID]
	if !ok {
		return TransitionResult{}, nil
	}
	j := &mj.job
	now := m.now()
	matches := j.Status == t.Expected &&
		j.LeaseOwner != nil && *j.LeaseOwner == t.ExpectedOwner
	if matches && t.RequireExpired {
		matches = j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
	}
	if !matches {
		res := TransitionResult{Found: true, Status: j.Status}
		if j.FinalizedBy != nil {
			res.FinalizedBy = *j.FinalizedBy
		}
		return res, nil
	}

	msg, by := t.Message, t.FinalizedBy
	j.Status = t.Next
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
	j.ResultMessage = &msg
	j.FinalizedBy = &by
	j.UpdatedAt = now
	return TransitionResult{Applied: true, Found: true, Status: t.Next, FinalizedBy: by}, nil
}

func (m *Memory) ExtendLease(_ context.Context, jobID, owner string, d time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	j := &mj.job
	now := m.now()
	if j.Status != domain.Checking || j.LeaseOwner == nil || *j.LeaseOwner != owner ||
		j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.After(now) {
		return false, nil
	}
	exp := now.Add(d)
	j.LeaseExpiresAt = &exp
	j.UpdatedAt = now
	return true, nil
}

func (m *Memory) Get(_ context.Context, jobID string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return cloneJob(mj.job), nil
}

func (m *Memory) ListExpired(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]domain.Job, 0)
	for _, mj := range m.jobs {
		j := mj.job
		if j.Status == domain.Checking && j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LeaseExpiresAt.Before(*out[k].LeaseExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		out[st] = 0
	}
	for _, mj := range m.jobs {
		out[mj.job.Status]++
	}
	return out, nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// cloneJob copies pointer fields so callers never alias store state.
func cloneJob(j domain.Job) domain.Job {
	cp := j
	cp.SubmissionID = cloneString(j.SubmissionID)
	cp.LeaseOwner = cloneString(j.LeaseOwner)
	cp.ResultMessage = cloneString(j.ResultMessage)
	cp.FinalizedBy = cloneString(j.FinalizedBy)
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	return cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
