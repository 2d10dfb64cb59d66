// Package ratelimit answers allow/deny per endpoint class over sliding
// windows. Limits are read from the runtime snapshot on every call, so a
// config reload takes effect immediately.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SirClappington/checkq/internal/config"
)

const (
	ClassAuth      = "auth"
	ClassAPI       = "api"
	ClassCardCheck = "cardcheck"
)

type Decision struct {
	Allowed bool
	// Limit is zero when the class is disabled.
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Backend counts one hit against bucket and decides it. Denied hits are not
// counted.
type Backend interface {
	Hit(ctx context.Context, bucket string, w config.Window, now time.Time) (Decision, error)
}

type Limiter struct {
	cfg     config.Source
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
	errLog  rate.Sometimes
}

func New(cfg config.Source, backend Backend, logger *zap.Logger) *Limiter {
	return &Limiter{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(zap.String("component", "ratelimit")),
		now:     time.Now,
		errLog:  rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// Allow never blocks. A backend failure allows the call.
func (l *Limiter) Allow(ctx context.Context, class, key string) Decision {
	w := l.cfg.Current().Limit(class)
	if !w.Enabled || w.Max <= 0 || w.WindowMs <= 0 {
		return Decision{Allowed: true}
	}
	d, err := l.backend.Hit(ctx, class+":"+key, w, l.now())
	if err != nil {
		l.errLog.Do(func() {
			l.logger.Warn("rate limit backend failed, allowing", zap.String("class", class), zap.Error(err))
		})
		return Decision{Allowed: true, Limit: w.Max, Remaining: w.Max}
	}
	return d
}
