package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/tenant"
	"tokenly/pkg/sentinel"
)

func newTestKey(appID uuid.UUID) *tenant.Key {
	return &tenant.Key{
		ID:             uuid.New(),
		ApplicationID:  appID,
		Name:           "Production Key",
		PublicKey:      "pk_" + uuid.New().String(),
		SecretKeyHash:  "hash",
		Active:         true,
		AllowedOrigins: []string{"https://app.example.com"},
		CreatedAt:      time.Now(),
	}
}

func TestMemoryApplications(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	app := &tenant.Application{ID: uuid.New(), Name: "acme", Status: tenant.AppActive, CreatedAt: time.Now()}
	require.NoError(t, m.SaveApplication(ctx, app))

	got, err := m.FindApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	_, err = m.FindApplication(ctx, uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := newTestKey(uuid.New())
	require.NoError(t, m.SaveKey(ctx, key))

	t.Run("find active key", func(t *testing.T) {
		got, err := m.FindActiveKey(ctx, key.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, key.ID, got.ID)
	})

	t.Run("revoked key is no longer findable", func(t *testing.T) {
		require.NoError(t, m.RevokeKey(ctx, key.PublicKey))
		_, err := m.FindActiveKey(ctx, key.PublicKey)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := m.FindActiveKey(ctx, "pk_missing")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestMemoryConfigs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	appID := uuid.New()

	cfg := tenant.DefaultAuthConfig(appID)
	cfg.AuthMode = tenant.ModeAPIToken
	cfg.CustomClaimNames = []string{"status", "plan"}
	require.NoError(t, m.SaveConfig(ctx, cfg))

	got, err := m.FindConfig(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ModeAPIToken, got.AuthMode)
	assert.Equal(t, []string{"status", "plan"}, got.CustomClaimNames)

	// Mutating the returned copy must not leak back into the store.
	got.AuthMode = tenant.ModeSession
	again, err := m.FindConfig(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ModeAPIToken, again.AuthMode)
}
