package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenly/pkg/domainerrors"
)

const keyPrefix = "tokenly:ratelimit:"

// RedisLimiter implements Limiter with shared fixed-window counters in
// Redis, so all gateway instances enforce the same limit for a key.
type RedisLimiter struct {
	client redis.Cmdable
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter.
func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow consumes one unit via INCR. The key expires at the window boundary;
// over-limit increments are harmless because they die with the window.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, limit int) (*Result, error) {
	key := keyPrefix + identifier
	now := time.Now()

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, Window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit check failed")
	}

	count := int(incr.Val())
	retain := ttl.Val()
	if retain < 0 {
		retain = Window
	}
	resetAt := now.Add(retain)

	if count > limit {
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(false, resetAt, now),
		}, nil
	}

	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for an identifier.
func (l *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	if err := l.client.Del(ctx, keyPrefix+identifier).Err(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "rate limit reset failed")
	}
	return nil
}
