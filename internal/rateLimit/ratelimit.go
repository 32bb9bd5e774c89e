package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/fleet-rental-holds/internal/adapters/redis"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

// RateLimiter is a fixed-window counter kept in Redis.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := time.Now().Truncate(period).Unix()
	fullKey := "rl:" + key + ":" + time.Unix(window, 0).UTC().Format("20060102T150405")

	n, err := rl.redis.IncrWindow(ctx, fullKey, period)
	if err != nil {
		return false, err
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false, nil
	}
	return true, nil
}
