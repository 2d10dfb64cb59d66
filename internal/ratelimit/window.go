package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/SirClappington/checkq/internal/config"
)

const pruneEvery = 1024

type bucket struct {
	hits   []int64
	window time.Duration
}

// Window keeps hit timestamps per bucket in process memory.
type Window struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

func NewWindow() *Window {
	return &Window{buckets: map[string]*bucket{}}
}

func (w *Window) Hit(_ context.Context, key string, lim config.Window, now time.Time) (Decision, error) {
	ts := now.UnixNano()
	size := lim.Duration()
	cutoff := ts - size.Nanoseconds()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.calls%pruneEvery == 0 {
		w.prune(ts)
	}

	b := w.buckets[key]
	if b == nil {
		b = &bucket{}
		w.buckets[key] = b
	}
	b.window = size
	b.hits = trimCutoff(b.hits, cutoff)

	if len(b.hits) >= lim.Max {
		// The bucket may hold more than Max hits after Max was lowered.
		retry := time.Duration(b.hits[len(b.hits)-lim.Max] - cutoff)
		return Decision{Limit: lim.Max, RetryAfter: retry}, nil
	}
	b.hits = append(b.hits, ts)
	return Decision{Allowed: true, Limit: lim.Max, Remaining: lim.Max - len(b.hits)}, nil
}

// prune drops buckets whose newest hit left their window.
func (w *Window) prune(now int64) {
	for k, b := range w.buckets {
		if len(b.hits) == 0 || b.hits[len(b.hits)-1] <= now-b.window.Nanoseconds() {
			delete(w.buckets, k)
		}
	}
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}
