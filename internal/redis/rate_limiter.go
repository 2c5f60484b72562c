package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter allows or denies events using a sliding-window count in Redis.
// It satisfies notify.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a Redis-backed sliding-window rate limiter.
// limit is the maximum number of reminders allowed per window for a key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window, now: time.Now}
}

func (r *slidingWindowLimiter) Limit() int { return r.limit }

// Allow records one event for key and reports whether it fits the window.
// A rejected event is removed again so it does not count against later ones.
func (r *slidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	rkey := "taskreminder:ratelimit:" + key
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, r.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}

	if countCmd.Val() > int64(r.limit) {
		if err := r.client.ZRem(ctx, rkey, member).Err(); err != nil {
			return false, fmt.Errorf("rate limiter release for %q: %w", key, err)
		}
		return false, nil
	}
	return true, nil
}
