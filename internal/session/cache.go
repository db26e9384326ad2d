package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "tokenly:session:"

// Cache mirrors live sessions keyed by token hash so rotation can find them
// without a durable-store read. Entries are advisory; the store stays
// authoritative and a miss always falls back to it.
type Cache interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, appID uuid.UUID, tokenHash string) (uuid.UUID, bool, error)
	Delete(ctx context.Context, appID uuid.UUID, tokenHash string) error
}

type cachePayload struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RedisCache is the production session mirror.
type RedisCache struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed session mirror.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

func cacheKey(appID uuid.UUID, tokenHash string) string {
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, appID, tokenHash)
}

// Put mirrors a session with TTL equal to its remaining lifetime. Sessions
// already at or past expiry are not mirrored.
func (c *RedisCache) Put(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(cachePayload{ID: s.ID, UserID: s.UserID, ExpiresAt: s.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encode session cache entry: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(s.ApplicationID, s.TokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, appID uuid.UUID, tokenHash string) (uuid.UUID, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(appID, tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("read session cache: %w", err)
	}
	var payload cachePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// A corrupt entry is treated as a miss; the store is authoritative.
		return uuid.Nil, false, nil
	}
	return payload.ID, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, appID uuid.UUID, tokenHash string) error {
	if err := c.client.Del(ctx, cacheKey(appID, tokenHash)).Err(); err != nil {
		return fmt.Errorf("evict session cache: %w", err)
	}
	return nil
}

// NoopCache satisfies Cache when no Redis is configured; every lookup is a
// miss and the durable store serves all reads.
type NoopCache struct{}

func (NoopCache) Put(context.Context, *Session) error { return nil }

func (NoopCache) Get(context.Context, uuid.UUID, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}

func (NoopCache) Delete(context.Context, uuid.UUID, string) error { return nil }
