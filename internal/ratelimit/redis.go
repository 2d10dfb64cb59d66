package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/checkq/internal/config"
)

// Redis keeps one sorted set per bucket, scored by hit time in milliseconds,
// so every API instance shares the same windows.
type Redis struct {
	rdb    *r.Client
	prefix string
}

func NewRedis(rdb *r.Client) *Redis { return &Redis{rdb: rdb, prefix: "rl:"} }

func (q *Redis) Hit(ctx context.Context, bucket string, lim config.Window, now time.Time) (Decision, error) {
	key := q.prefix + bucket
	ms := now.UnixMilli()
	cutoff := ms - lim.WindowMs
	member := strconv.FormatInt(ms, 10) + ":" + uuid.NewString()

	pipe := q.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, r.Z{Score: float64(ms), Member: member})
	pipe.PExpire(ctx, key, lim.Duration())
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window %s: %w", key, err)
	}

	before := int(card.Val())
	if before < lim.Max {
		return Decision{Allowed: true, Limit: lim.Max, Remaining: lim.Max - before - 1}, nil
	}

	// over the limit: take the hit back and report when enough hits leave
	// for the count to drop below Max. Max may have been lowered by a reload,
	// so that is not always the oldest hit.
	pipe = q.rdb.TxPipeline()
	pipe.ZRem(ctx, key, member)
	idx := int64(before - lim.Max)
	oldest := pipe.ZRangeWithScores(ctx, key, idx, idx)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window %s: %w", key, err)
	}
	retry := lim.Duration()
	if zs := oldest.Val(); len(zs) == 1 {
		retry = time.Duration(int64(zs[0].Score)-cutoff) * time.Millisecond
	}
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{Limit: lim.Max, RetryAfter: retry}, nil
}
