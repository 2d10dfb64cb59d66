package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SirClappington/checkq/internal/domain"
)

// runConformance exercises the JobStore contract. newStore must return an
// empty store for every call.
func runConformance(t *testing.T, newStore func(t *testing.T) JobStore) {
	t.Run("EnqueueAndGet", func(t *testing.T) { testEnqueueAndGet(t, newStore(t)) })
	t.Run("EnqueueIdempotent", func(t *testing.T) { testEnqueueIdempotent(t, newStore(t)) })
	t.Run("ClaimOrderAndFilter", func(t *testing.T) { testClaimOrderAndFilter(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("TransitionRequireExpired", func(t *testing.T) { testTransitionRequireExpired(t, newStore(t)) })
	t.Run("ExtendLease", func(t *testing.T) { testExtendLease(t, newStore(t)) })
	t.Run("CountByStatus", func(t *testing.T) { testCountByStatus(t, newStore(t)) })
}

func enqueueN(t *testing.T, s JobStore, n, class int) []domain.Job {
	t.Helper()
	in := make([]domain.NewJob, n)
	for i := range in {
		in[i] = domain.NewJob{Payload: fmt.Sprintf("card-%02d", i), CheckClass: class}
	}
	jobs, err := s.Enqueue(context.Background(), in)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(jobs) != n {
		t.Fatalf("enqueue returned %d jobs, want %d", len(jobs), n)
	}
	return jobs
}

func claim(t *testing.T, s JobStore, n, class int, owner string, lease time.Duration) []domain.Job {
	t.Helper()
	jobs, err := s.ClaimBatch(context.Background(), ClaimParams{Limit: n, CheckClass: class, Owner: owner, LeaseTimeout: lease})
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	return jobs
}

func testEnqueueAndGet(t *testing.T, s JobStore) {
	ctx := context.Background()
	jobs := enqueueN(t, s, 2, 1)

	got, err := s.Get(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.Pending || got.Payload != "card-00" || got.CheckClass != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.LeaseOwner != nil || got.LeaseExpiresAt != nil {
		t.Fatalf("pending job must not carry a lease: %+v", got)
	}
	if _, err := s.Get(ctx, "no-such-job"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func testEnqueueIdempotent(t *testing.T, s JobStore) {
	ctx := context.Background()
	first, err := s.Enqueue(ctx, []domain.NewJob{{SubmissionID: "sub-1", Payload: "a", CheckClass: 1}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, err := s.Enqueue(ctx, []domain.NewJob{
		{SubmissionID: "sub-1", Payload: "changed", CheckClass: 1},
		{Payload: "b", CheckClass: 1},
	})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if again[0].ID != first[0].ID || again[0].Payload != "a" {
		t.Fatalf("duplicate submission should return the stored job, got %+v", again[0])
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.Pending] != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", counts[domain.Pending])
	}
}

func testClaimOrderAndFilter(t *testing.T, s JobStore) {
	first := enqueueN(t, s, 3, 1)
	enqueueN(t, s, 2, 2)

	got := claim(t, s, 2, 1, "lease-a", time.Minute)
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got))
	}
	if got[0].ID != first[0].ID || got[1].ID != first[1].ID {
		t.Fatalf("claim must be oldest first, got %s, %s", got[0].ID, got[1].ID)
	}
	for _, j := range got {
		if j.Status != domain.Checking || j.LeaseOwner == nil || *j.LeaseOwner != "lease-a" || j.LeaseExpiresAt == nil {
			t.Fatalf("claimed job not leased: %+v", j)
		}
	}

	rest := claim(t, s, 10, 1, "lease-b", time.Minute)
	if len(rest) != 1 || rest[0].ID != first[2].ID {
		t.Fatalf("expected remaining class-1 job, got %+v", rest)
	}
	if empty := claim(t, s, 10, 1, "lease-c", time.Minute); len(empty) != 0 {
		t.Fatalf("expected no jobs, got %d", len(empty))
	}
	if other := claim(t, s, 10, 2, "lease-d", time.Minute); len(other) != 2 {
		t.Fatalf("expected 2 class-2 jobs, got %d", len(other))
	}
}

func testConcurrentClaims(t *testing.T, s JobStore) {
	const total = 100
	enqueueN(t, s, total, 1)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 25; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				jobs, err := s.ClaimBatch(context.Background(), ClaimParams{
					Limit: 3, CheckClass: 1, Owner: fmt.Sprintf("w%d", w), LeaseTimeout: time.Minute,
				})
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct jobs, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}

func testTransition(t *testing.T, s JobStore) {
	ctx := context.Background()
	enqueueN(t, s, 2, 1)
	jobs := claim(t, s, 2, 1, "lease-a", time.Minute)

	res, err := s.Transition(ctx, Transition{
		JobID: jobs[0].ID, Expected: domain.Checking, ExpectedOwner: "lease-a",
		Next: domain.Live, Message: "ok", FinalizedBy: "lease-a",
	})
	if err != nil || !res.Applied {
		t.Fatalf("transition: applied=%v err=%v", res.Applied, err)
	}
	got, _ := s.Get(ctx, jobs[0].ID)
	if got.Status != domain.Live || got.LeaseOwner != nil || got.LeaseExpiresAt != nil {
		t.Fatalf("terminal job must drop its lease: %+v", got)
	}
	if got.ResultMessage == nil || *got.ResultMessage != "ok" {
		t.Fatalf("missing result message: %+v", got)
	}

	dup, err := s.Transition(ctx, Transition{
		JobID: jobs[0].ID, Expected: domain.Checking, ExpectedOwner: "lease-a",
		Next: domain.Die, FinalizedBy: "lease-a",
	})
	if err != nil {
		t.Fatalf("duplicate transition: %v", err)
	}
	if dup.Applied || !dup.Found || dup.Status != domain.Live || dup.FinalizedBy != "lease-a" {
		t.Fatalf("unexpected duplicate result %+v", dup)
	}

	wrong, err := s.Transition(ctx, Transition{
		JobID: jobs[1].ID, Expected: domain.Checking, ExpectedOwner: "lease-z",
		Next: domain.Die, FinalizedBy: "lease-z",
	})
	if err != nil || wrong.Applied || wrong.Status != domain.Checking {
		t.Fatalf("wrong owner must not apply: %+v err=%v", wrong, err)
	}

	missing, err := s.Transition(ctx, Transition{
		JobID: "missing", Expected: domain.Checking, ExpectedOwner: "lease-a", Next: domain.Live,
	})
	if err != nil || missing.Found {
		t.Fatalf("missing job: %+v err=%v", missing, err)
	}

	_, err = s.Transition(ctx, Transition{
		JobID: jobs[1].ID, Expected: domain.Checking, ExpectedOwner: "lease-a", Next: domain.Pending,
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func testTransitionRequireExpired(t *testing.T, s JobStore) {
	ctx := context.Background()
	enqueueN(t, s, 1, 1)
	jobs := claim(t, s, 1, 1, "lease-a", 50*time.Millisecond)

	sweep := Transition{
		JobID: jobs[0].ID, Expected: domain.Checking, ExpectedOwner: "lease-a",
		Next: domain.Unknown, Message: domain.LeaseExpiredMessage,
		FinalizedBy: domain.FinalizedBySweeper, RequireExpired: true,
	}
	res, err := s.Transition(ctx, sweep)
	if err != nil || res.Applied {
		t.Fatalf("live lease must not be swept: %+v err=%v", res, err)
	}

	time.Sleep(100 * time.Millisecond)
	expired, err := s.ListExpired(ctx, 10)
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected 1 expired lease, got %d err=%v", len(expired), err)
	}
	res, err = s.Transition(ctx, sweep)
	if err != nil || !res.Applied {
		t.Fatalf("expired lease should be swept: %+v err=%v", res, err)
	}
	if expired, _ := s.ListExpired(ctx, 10); len(expired) != 0 {
		t.Fatalf("swept job still listed as expired")
	}
}

func testExtendLease(t *testing.T, s JobStore) {
	ctx := context.Background()
	enqueueN(t, s, 1, 1)
	jobs := claim(t, s, 1, 1, "lease-a", time.Minute)

	ok, err := s.ExtendLease(ctx, jobs[0].ID, "lease-b", time.Hour)
	if err != nil || ok {
		t.Fatalf("foreign lease must not extend: ok=%v err=%v", ok, err)
	}
	ok, err = s.ExtendLease(ctx, jobs[0].ID, "lease-a", time.Hour)
	if err != nil || !ok {
		t.Fatalf("extend: ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(ctx, jobs[0].ID)
	if got.LeaseExpiresAt == nil || !got.LeaseExpiresAt.After(jobs[0].LeaseExpiresAt.Add(30*time.Minute)) {
		t.Fatalf("lease not pushed forward: %v", got.LeaseExpiresAt)
	}
}

func testCountByStatus(t *testing.T, s JobStore) {
	ctx := context.Background()
	enqueueN(t, s, 4, 1)
	jobs := claim(t, s, 2, 1, "lease-a", time.Minute)
	if _, err := s.Transition(ctx, Transition{
		JobID: jobs[0].ID, Expected: domain.Checking, ExpectedOwner: "lease-a", Next: domain.Die, FinalizedBy: "lease-a",
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	want := map[domain.Status]int64{domain.Pending: 2, domain.Checking: 1, domain.Die: 1, domain.Live: 0, domain.Unknown: 0}
	for st, n := range want {
		if counts[st] != n {
			t.Fatalf("%s: got %d, want %d", st, counts[st], n)
		}
	}
}
