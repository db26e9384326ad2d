package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/pkg/sentinel"
)

func TestMemoryConsumeIsSingleUse(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeOTP, appID, "alice@acme.test", "482913", 5*time.Minute))

	value, err := s.Consume(ctx, PurposeOTP, appID, "alice@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "482913", value)

	_, err = s.Consume(ctx, PurposeOTP, appID, "alice@acme.test")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryGetLeavesValueInPlace(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeOTP, appID, "alice@acme.test", "482913", 5*time.Minute))

	for i := 0; i < 2; i++ {
		value, err := s.Get(ctx, PurposeOTP, appID, "alice@acme.test")
		require.NoError(t, err)
		assert.Equal(t, "482913", value)
	}

	require.NoError(t, s.Delete(ctx, PurposeOTP, appID, "alice@acme.test"))
	_, err := s.Get(ctx, PurposeOTP, appID, "alice@acme.test")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(ctx, PurposeOTP, appID, "alice@acme.test"))
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Now()
	s := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeMagicLink, appID, "token-1", "alice@acme.test", time.Minute))

	now = now.Add(2 * time.Minute)

	_, err := s.Consume(ctx, PurposeMagicLink, appID, "token-1")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryPurposesAreIsolated(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeOTP, appID, "id", "otp-value", time.Minute))

	_, err := s.Consume(ctx, PurposeMagicLink, appID, "id")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	value, err := s.Consume(ctx, PurposeOTP, appID, "id")
	require.NoError(t, err)
	assert.Equal(t, "otp-value", value)
}

func TestMemoryApplicationsAreIsolated(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	appA, appB := uuid.New(), uuid.New()
	require.NoError(t, s.Put(ctx, PurposeOTP, appA, "alice@acme.test", "111111", time.Minute))

	_, err := s.Consume(ctx, PurposeOTP, appB, "alice@acme.test")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func newTestRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client), mr
}

func TestRedisConsumeIsSingleUse(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeOTP, appID, "alice@acme.test", "482913", 5*time.Minute))

	value, err := s.Consume(ctx, PurposeOTP, appID, "alice@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "482913", value)

	_, err = s.Consume(ctx, PurposeOTP, appID, "alice@acme.test")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRedisGetLeavesValueInPlace(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeOTP, appID, "alice@acme.test", "482913", 5*time.Minute))

	value, err := s.Get(ctx, PurposeOTP, appID, "alice@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "482913", value)

	require.NoError(t, s.Delete(ctx, PurposeOTP, appID, "alice@acme.test"))
	_, err = s.Get(ctx, PurposeOTP, appID, "alice@acme.test")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestRedisExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	appID := uuid.New()

	require.NoError(t, s.Put(ctx, PurposeMagicLink, appID, "token-1", "alice@acme.test", time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := s.Consume(ctx, PurposeMagicLink, appID, "token-1")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
