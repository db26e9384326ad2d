package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/session"
	"tokenly/internal/session/store"
	"tokenly/internal/tenant"
	"tokenly/internal/token"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/tokenhash"
)

func newService(t *testing.T, opts ...session.Option) (*session.Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	issuer := token.New("service-test-signing-key-32-byte", time.Hour)
	svc := session.NewService(st, issuer, 30*24*time.Hour, opts...)
	return svc, st
}

func testTenant() (*tenant.Application, *tenant.AuthConfig) {
	app := &tenant.Application{ID: uuid.New(), Status: tenant.AppActive}
	return app, tenant.DefaultAuthConfig(app.ID)
}

func TestCreateSession(t *testing.T) {
	svc, st := newService(t)
	app, cfg := testTenant()
	userID := uuid.New()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, userID, app, cfg, "raw-refresh", "198.51.100.7",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	require.NoError(t, err)

	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, app.ID, sess.ApplicationID)
	assert.NotEqual(t, uuid.Nil, sess.FamilyID)
	assert.Equal(t, tokenhash.Hash("raw-refresh"), sess.TokenHash, "only the hash is stored")
	assert.Contains(t, sess.DeviceName, "Chrome")

	stored, err := st.FindActiveByTokenHash(ctx, sess.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)
}

func TestRotateKeepsFamilyAndRevokesOld(t *testing.T) {
	svc, st := newService(t)
	app, cfg := testTenant()
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	next, newToken, err := svc.Rotate(ctx, app, cfg, "refresh-1")
	require.NoError(t, err)
	assert.NotEmpty(t, newToken)
	assert.Equal(t, first.FamilyID, next.FamilyID, "rotation stays in the family")
	assert.Equal(t, first.UserID, next.UserID)
	assert.Equal(t, tokenhash.Hash(newToken), next.TokenHash)

	old, err := st.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}

func TestRotateUnknownToken(t *testing.T) {
	svc, _ := newService(t)
	app, cfg := testTenant()

	_, _, err := svc.Rotate(context.Background(), app, cfg, "never-issued")
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
}

func TestRotateReplayedToken(t *testing.T) {
	svc, st := newService(t)
	app, cfg := testTenant()
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	next, newToken, err := svc.Rotate(ctx, app, cfg, "refresh-1")
	require.NoError(t, err)

	// Presenting the already rotated token again is replay: the whole
	// family goes down, successor included.
	_, _, err = svc.Rotate(ctx, app, cfg, "refresh-1")
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeReuseDetected))

	for _, id := range []uuid.UUID{first.ID, next.ID} {
		s, findErr := st.FindByID(ctx, id)
		require.NoError(t, findErr)
		assert.True(t, s.Revoked)
	}

	_, _, err = svc.Rotate(ctx, app, cfg, newToken)
	require.Error(t, err, "the successor token died with the family")
}

func TestRotateAfterLogoutIsNotReuse(t *testing.T) {
	svc, _ := newService(t)
	app, cfg := testTenant()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, sess.ID))

	// An explicitly revoked token was never rotated, so presenting it is
	// not replay.
	_, _, err = svc.Rotate(ctx, app, cfg, "refresh-1")
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	require.False(t, domainerrors.HasCode(err, domainerrors.CodeReuseDetected))
}

func TestRotateExpiredSession(t *testing.T) {
	now := time.Now()
	svc, _ := newService(t, session.WithClock(func() time.Time { return now }))
	app, cfg := testTenant()
	cfg.RefreshTokenTTLMinutes = 1
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, _, err = svc.Rotate(ctx, app, cfg, "refresh-1")
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
}

func TestRotateReuseDetectionRevokesFamily(t *testing.T) {
	svc, st := newService(t)
	app, cfg := testTenant()
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	// A second live session in the same family should never exist; the
	// rotation check treats it as compromise even when the presented token
	// itself was never rotated.
	shadow := &session.Session{
		ID:            uuid.New(),
		UserID:        first.UserID,
		ApplicationID: app.ID,
		TokenHash:     tokenhash.Hash("stolen-successor"),
		FamilyID:      first.FamilyID,
		ExpiresAt:     time.Now().Add(time.Hour),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, st.Create(ctx, shadow))

	_, _, err = svc.Rotate(ctx, app, cfg, "refresh-1")
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeReuseDetected))

	for _, id := range []uuid.UUID{first.ID, shadow.ID} {
		s, findErr := st.FindByID(ctx, id)
		require.NoError(t, findErr)
		assert.True(t, s.Revoked, "the whole family is revoked")
	}
}

func TestConcurrentRotationExactlyOneWins(t *testing.T) {
	svc, _ := newService(t)
	app, cfg := testTenant()
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, rotateErr := svc.Rotate(ctx, app, cfg, "refresh-1")
			results <- rotateErr
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.True(t,
				domainerrors.HasCode(err, domainerrors.CodeUnauthorized) ||
					domainerrors.HasCode(err, domainerrors.CodeReuseDetected))
		}
	}
	assert.Equal(t, 1, wins, "exactly one rotation may produce a successor")
}

func TestRevokeAllForUserSparesExcept(t *testing.T) {
	svc, st := newService(t)
	app, cfg := testTenant()
	userID := uuid.New()
	ctx := context.Background()

	current, err := svc.CreateSession(ctx, userID, app, cfg, "refresh-current", "", "")
	require.NoError(t, err)
	other, err := svc.CreateSession(ctx, userID, app, cfg, "refresh-other", "", "")
	require.NoError(t, err)

	n, err := svc.RevokeAllForUser(ctx, userID, &current.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := st.FindByID(ctx, current.ID)
	require.NoError(t, err)
	assert.False(t, kept.Revoked)

	dropped, err := st.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, dropped.Revoked)
}

func TestCleanupHonorsRetention(t *testing.T) {
	now := time.Now()
	svc, st := newService(t, session.WithClock(func() time.Time { return now }))
	app, cfg := testTenant()
	cfg.RefreshTokenTTLMinutes = 1
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, sess.ID))

	// Inside the retention window: nothing to delete.
	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	now = now.Add(8 * 24 * time.Hour)

	deleted, err = svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = st.FindByID(ctx, sess.ID)
	require.Error(t, err)
}

func TestRedisCacheMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := session.NewRedisCache(client)

	svc, _ := newService(t, session.WithCache(cache))
	app, cfg := testTenant()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	id, hit, err := cache.Get(ctx, app.ID, sess.TokenHash)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, sess.ID, id)

	// Rotation evicts the old mirror entry and installs the successor.
	next, newToken, err := svc.Rotate(ctx, app, cfg, "refresh-1")
	require.NoError(t, err)

	_, hit, err = cache.Get(ctx, app.ID, sess.TokenHash)
	require.NoError(t, err)
	assert.False(t, hit)

	id, hit, err = cache.Get(ctx, app.ID, tokenhash.Hash(newToken))
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, next.ID, id)

	// Revocation evicts too.
	require.NoError(t, svc.RevokeSession(ctx, next.ID))
	_, hit, err = cache.Get(ctx, app.ID, next.TokenHash)
	require.NoError(t, err)
	assert.False(t, hit)
}

// staleCache answers every lookup with the same session ID, simulating a
// mirror that diverged from the store.
type staleCache struct{ id uuid.UUID }

func (staleCache) Put(context.Context, *session.Session) error { return nil }

func (c staleCache) Get(context.Context, uuid.UUID, string) (uuid.UUID, bool, error) {
	return c.id, true, nil
}

func (staleCache) Delete(context.Context, uuid.UUID, string) error { return nil }

func TestRotateSurvivesStaleCacheEntry(t *testing.T) {
	svc, st := newService(t, session.WithCache(staleCache{id: uuid.New()}))
	app, cfg := testTenant()
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, uuid.New(), app, cfg, "refresh-1", "", "")
	require.NoError(t, err)

	// The cached ID matches nothing; the store falls back to the token
	// hash and rotation proceeds.
	next, _, err := svc.Rotate(ctx, app, cfg, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, first.FamilyID, next.FamilyID)

	old, err := st.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}
