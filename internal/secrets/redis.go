package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tokenly/pkg/sentinel"
)

// Redis is the production secret store. TTL enforcement and single-use
// semantics come straight from SET EX and GETDEL.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a Redis-backed secret store.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Put(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, storageKey(purpose, appID, identifier), value, ttl).Err(); err != nil {
		return fmt.Errorf("store %s secret: %w", purpose, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error) {
	value, err := s.client.Get(ctx, storageKey(purpose, appID, identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s secret: %w", purpose, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s secret: %w", purpose, err)
	}
	return value, nil
}

func (s *Redis) Consume(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error) {
	value, err := s.client.GetDel(ctx, storageKey(purpose, appID, identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s secret: %w", purpose, sentinel.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("consume %s secret: %w", purpose, err)
	}
	return value, nil
}

func (s *Redis) Delete(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) error {
	if err := s.client.Del(ctx, storageKey(purpose, appID, identifier)).Err(); err != nil {
		return fmt.Errorf("delete %s secret: %w", purpose, err)
	}
	return nil
}
