package ratelimit

import (
	"context"
	"time"

	redisadapter "github.com/showtix/showtix/internal/adapters/redis"
	"github.com/showtix/showtix/internal/observability"
)

// RateLimiter is a fixed-window counter in the shared store, so the limit
// holds across replicas.
type RateLimiter struct {
	store *redisadapter.Store
}

func NewRateLimiter(store *redisadapter.Store) *RateLimiter {
	return &RateLimiter{store: store}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.store.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
