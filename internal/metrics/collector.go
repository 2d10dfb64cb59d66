// Package metrics keeps the in-memory counters and queue-depth gauges read by
// the dashboard. Nothing here is persisted; a restart starts from zero and the
// depth gauges are rebuilt by the next resync.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/SirClappington/checkq/internal/domain"
)

const meterName = "github.com/SirClappington/checkq"

// Snapshot is the dashboard view returned by GetMetricsSnapshot.
type Snapshot struct {
	QueueDepthByStatus map[string]int64 `json:"queueDepthByStatus"`
	FetchPerMinute     int64            `json:"fetchPerMinute"`
	UpdatePerMinute    int64            `json:"updatePerMinute"`
	ExpiredPerMinute   int64            `json:"expiredPerMinute"`
	FetchCalls         int64            `json:"fetchCalls"`
	JobsFetched        int64            `json:"jobsFetched"`
	Updates            int64            `json:"updates"`
	Expired            int64            `json:"expired"`
	TakenAt            time.Time        `json:"takenAt"`
}

// rolling counts events over the last 60 one-second buckets.
type rolling struct {
	counts [60]int64
	stamps [60]int64
}

func (r *rolling) add(now time.Time, n int64) {
	sec := now.Unix()
	i := sec % 60
	if r.stamps[i] != sec {
		r.stamps[i] = sec
		r.counts[i] = 0
	}
	r.counts[i] += n
}

func (r *rolling) sum(now time.Time) int64 {
	sec := now.Unix()
	var total int64
	for i := range r.counts {
		if age := sec - r.stamps[i]; age >= 0 && age < 60 {
			total += r.counts[i]
		}
	}
	return total
}

type Collector struct {
	mu  sync.Mutex
	now func() time.Time

	fetched, updated, expired rolling

	fetchCalls, jobsFetched, updates, expiredTotal int64
	depth                                          map[domain.Status]int64

	otelFetches metric.Int64Counter
	otelUpdates metric.Int64Counter
	otelExpired metric.Int64Counter
}

type Option func(*Collector)

// WithMeter records instruments on m instead of the global MeterProvider.
func WithMeter(m metric.Meter) Option {
	return func(c *Collector) { c.register(m) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

func New(opts ...Option) *Collector {
	c := &Collector{
		now:   time.Now,
		depth: make(map[domain.Status]int64, len(domain.AllStatuses)),
	}
	for _, st := range domain.AllStatuses {
		c.depth[st] = 0
	}
	for _, o := range opts {
		o(c)
	}
	if c.otelFetches == nil {
		c.register(otel.Meter(meterName))
	}
	return c
}

// register creates the OTel instruments. The OTel API hands back noop
// instruments on error, so failures are ignored.
func (c *Collector) register(m metric.Meter) {
	c.otelFetches, _ = m.Int64Counter("checkq.jobs.fetched",
		metric.WithDescription("Jobs handed to checkers"), metric.WithUnit("{job}"))
	c.otelUpdates, _ = m.Int64Counter("checkq.jobs.updated",
		metric.WithDescription("Accepted result reports"), metric.WithUnit("{job}"))
	c.otelExpired, _ = m.Int64Counter("checkq.jobs.expired",
		metric.WithDescription("Leases reclaimed by the sweeper"), metric.WithUnit("{job}"))
	_, _ = m.Int64ObservableGauge("checkq.queue.depth",
		metric.WithDescription("Jobs by status"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			for st, n := range c.depth {
				o.Observe(n, metric.WithAttributes(attribute.String("status", st.String())))
			}
			return nil
		}),
	)
}

// RecordEnqueued adds n new Pending jobs.
func (c *Collector) RecordEnqueued(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.depth[domain.Pending] += int64(n)
	c.mu.Unlock()
}

// RecordFetch counts one FetchBatch call that claimed n jobs.
func (c *Collector) RecordFetch(ctx context.Context, n int) {
	c.mu.Lock()
	c.fetchCalls++
	if n > 0 {
		c.jobsFetched += int64(n)
		c.fetched.add(c.now(), int64(n))
		c.move(domain.Pending, domain.Checking, int64(n))
	}
	c.mu.Unlock()
	if n > 0 {
		c.otelFetches.Add(ctx, int64(n))
	}
}

// RecordUpdate counts an accepted report that moved a job to status.
func (c *Collector) RecordUpdate(ctx context.Context, status domain.Status) {
	c.mu.Lock()
	c.updates++
	c.updated.add(c.now(), 1)
	c.move(domain.Checking, status, 1)
	c.mu.Unlock()
	c.otelUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

// RecordExpired counts a lease reclaimed by the sweeper.
func (c *Collector) RecordExpired(ctx context.Context) {
	c.mu.Lock()
	c.expiredTotal++
	c.expired.add(c.now(), 1)
	c.move(domain.Checking, domain.Unknown, 1)
	c.mu.Unlock()
	c.otelExpired.Add(ctx, 1)
}

func (c *Collector) move(from, to domain.Status, n int64) {
	c.depth[from] -= n
	if c.depth[from] < 0 {
		c.depth[from] = 0
	}
	c.depth[to] += n
}

// SetDepth replaces the gauges with authoritative counts from the store.
func (c *Collector) SetDepth(counts map[domain.Status]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range domain.AllStatuses {
		c.depth[st] = counts[st]
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	depth := make(map[string]int64, len(c.depth))
	for st, n := range c.depth {
		depth[st.String()] = n
	}
	return Snapshot{
		QueueDepthByStatus: depth,
		FetchPerMinute:     c.fetched.sum(now),
		UpdatePerMinute:    c.updated.sum(now),
		ExpiredPerMinute:   c.expired.sum(now),
		FetchCalls:         c.fetchCalls,
		JobsFetched:        c.jobsFetched,
		Updates:            c.updates,
		Expired:            c.expiredTotal,
		TakenAt:            now.UTC(),
	}
}

// DepthSource is the part of the job store the resync loop needs.
type DepthSource interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

// Resync loads depth gauges once.
func (c *Collector) Resync(ctx context.Context, src DepthSource) error {
	counts, err := src.CountByStatus(ctx)
	if err != nil {
		return err
	}
	c.SetDepth(counts)
	return nil
}

// RunResync keeps the depth gauges aligned with the store, which also picks
// up transitions made by other processes.
func (c *Collector) RunResync(ctx context.Context, src DepthSource, interval time.Duration, logger *zap.Logger) error {
	if err := c.Resync(ctx, src); err != nil {
		logger.Warn("metrics resync failed", zap.Error(err))
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := c.Resync(ctx, src); err != nil {
				logger.Warn("metrics resync failed", zap.Error(err))
			}
		}
	}
}
