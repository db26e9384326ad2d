package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/session"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/sentinel"
)

func newSession(familyID uuid.UUID, hash string) *session.Session {
	return &session.Session{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		ApplicationID: uuid.New(),
		TokenHash:     hash,
		FamilyID:      familyID,
		ExpiresAt:     time.Now().Add(time.Hour),
		CreatedAt:     time.Now(),
	}
}

func TestMemoryExecuteRotates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	family := uuid.New()

	current := newSession(family, "hash-1")
	require.NoError(t, m.Create(ctx, current))

	next, err := m.Execute(ctx, "hash-1", nil, time.Now(),
		func(cur *session.Session, live int) error {
			assert.Equal(t, current.ID, cur.ID)
			assert.Equal(t, 1, live)
			return nil
		},
		func(cur *session.Session) *session.Session {
			return newSession(cur.FamilyID, "hash-2")
		},
	)
	require.NoError(t, err)
	assert.Equal(t, family, next.FamilyID)

	old, err := m.FindByID(ctx, current.ID)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.RevokedAt)
	require.NotNil(t, old.ReplacedBy, "rotation marks the retired session")
	assert.Equal(t, next.ID, *old.ReplacedBy)

	live, err := m.FindActiveByTokenHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, next.ID, live.ID)
}

func TestMemoryExecuteHintVerifiedAgainstHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	target := newSession(uuid.New(), "hash-1")
	other := newSession(uuid.New(), "hash-other")
	require.NoError(t, m.Create(ctx, target))
	require.NoError(t, m.Create(ctx, other))

	// The hint names a session holding a different token; the lookup must
	// not trust it and resolves by hash instead.
	next, err := m.Execute(ctx, "hash-1", &other.ID, time.Now(),
		func(cur *session.Session, _ int) error {
			assert.Equal(t, target.ID, cur.ID)
			return nil
		},
		func(cur *session.Session) *session.Session {
			return newSession(cur.FamilyID, "hash-2")
		},
	)
	require.NoError(t, err)
	assert.Equal(t, target.FamilyID, next.FamilyID)

	untouched, err := m.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.Revoked)
}

func TestMemoryExecuteUnknownToken(t *testing.T) {
	m := NewMemory()
	_, err := m.Execute(context.Background(), "no-such-hash", nil, time.Now(),
		func(*session.Session, int) error { return nil },
		func(cur *session.Session) *session.Session { return cur },
	)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryExecuteReuseRevokesFamily(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	family := uuid.New()

	a := newSession(family, "hash-a")
	b := newSession(family, "hash-b")
	require.NoError(t, m.Create(ctx, a))
	require.NoError(t, m.Create(ctx, b))

	_, err := m.Execute(ctx, "hash-a", nil, time.Now(),
		func(cur *session.Session, live int) error {
			require.Equal(t, 2, live)
			return domainerrors.New(domainerrors.CodeReuseDetected, "reuse")
		},
		func(cur *session.Session) *session.Session { return cur },
	)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeReuseDetected))

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		s, findErr := m.FindByID(ctx, id)
		require.NoError(t, findErr)
		assert.True(t, s.Revoked, "every family member is revoked")
	}
}

func TestMemoryExecuteValidationFailureLeavesSessionAlone(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := newSession(uuid.New(), "hash-1")
	require.NoError(t, m.Create(ctx, s))

	_, err := m.Execute(ctx, "hash-1", nil, time.Now(),
		func(*session.Session, int) error {
			return domainerrors.New(domainerrors.CodeUnauthorized, "expired")
		},
		func(cur *session.Session) *session.Session { return cur },
	)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))

	got, err := m.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked, "plain validation failure does not revoke")
}

func TestMemoryRevokeIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := newSession(uuid.New(), "hash-1")
	require.NoError(t, m.Create(ctx, s))

	first, err := m.Revoke(ctx, s.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	second, err := m.Revoke(ctx, s.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt.Unix(), second.RevokedAt.Unix(), "original timestamp kept")
}

func TestMemoryRevokeAllForUserExcept(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	keep := newSession(uuid.New(), "hash-keep")
	keep.UserID = userID
	drop := newSession(uuid.New(), "hash-drop")
	drop.UserID = userID
	other := newSession(uuid.New(), "hash-other")

	for _, s := range []*session.Session{keep, drop, other} {
		require.NoError(t, m.Create(ctx, s))
	}

	revoked, err := m.RevokeAllForUser(ctx, userID, &keep.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, drop.ID, revoked[0].ID)

	kept, err := m.FindByID(ctx, keep.ID)
	require.NoError(t, err)
	assert.False(t, kept.Revoked)

	unrelated, err := m.FindByID(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, unrelated.Revoked)
}

func TestMemoryDeleteExpiredRevokedBefore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := newSession(uuid.New(), "hash-old")
	old.ExpiresAt = time.Now().Add(-30 * 24 * time.Hour)
	fresh := newSession(uuid.New(), "hash-fresh")

	require.NoError(t, m.Create(ctx, old))
	require.NoError(t, m.Create(ctx, fresh))

	_, err := m.Revoke(ctx, old.ID, time.Now())
	require.NoError(t, err)
	_, err = m.Revoke(ctx, fresh.ID, time.Now())
	require.NoError(t, err)

	deleted, err := m.DeleteExpiredRevokedBefore(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = m.FindByID(ctx, old.ID)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = m.FindByID(ctx, fresh.ID)
	require.NoError(t, err, "revoked but within retention survives")
}
