// Package store provides the persistence implementations for tenant data:
// applications, API keys, and auth configs. Memory variants back tests and
// single-node development; postgres variants are the production binding.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tokenly/internal/tenant"
	"tokenly/pkg/sentinel"
)

// Memory is an in-memory tenant store for tests and development.
type Memory struct {
	mu      sync.RWMutex
	apps    map[uuid.UUID]*tenant.Application
	keys    map[string]*tenant.Key // keyed by public key value
	configs map[uuid.UUID]*tenant.AuthConfig
}

// NewMemory constructs an empty in-memory tenant store.
func NewMemory() *Memory {
	return &Memory{
		apps:    make(map[uuid.UUID]*tenant.Application),
		keys:    make(map[string]*tenant.Key),
		configs: make(map[uuid.UUID]*tenant.AuthConfig),
	}
}

// SaveApplication inserts or replaces an application.
func (m *Memory) SaveApplication(_ context.Context, app *tenant.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

// FindApplication returns an application by id.
func (m *Memory) FindApplication(_ context.Context, id uuid.UUID) (*tenant.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
	}
	cp := *app
	return &cp, nil
}

// SaveKey inserts or replaces an API key.
func (m *Memory) SaveKey(_ context.Context, key *tenant.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.PublicKey] = &cp
	return nil
}

// FindActiveKey returns the active API key with the given public value.
func (m *Memory) FindActiveKey(_ context.Context, publicKey string) (*tenant.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[publicKey]
	if !ok || !key.Active {
		return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	cp := *key
	return &cp, nil
}

// FindKeyBySecretHash returns the active API key whose secret hashes to the
// given value. Secret keys are only ever stored and compared as hashes.
func (m *Memory) FindKeyBySecretHash(_ context.Context, secretHash string) (*tenant.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range m.keys {
		if key.Active && key.SecretKeyHash == secretHash {
			cp := *key
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
}

// RevokeKey deactivates a key by its public value. Revoking an already
// inactive key is a no-op.
func (m *Memory) RevokeKey(_ context.Context, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[publicKey]
	if !ok {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	key.Active = false
	return nil
}

// SaveConfig inserts or replaces an application's auth config.
func (m *Memory) SaveConfig(_ context.Context, cfg *tenant.AuthConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.configs[cfg.ApplicationID] = &cp
	return nil
}

// FindConfig returns the auth config for an application.
func (m *Memory) FindConfig(_ context.Context, appID uuid.UUID) (*tenant.AuthConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[appID]
	if !ok {
		return nil, fmt.Errorf("auth config not found: %w", sentinel.ErrNotFound)
	}
	cp := *cfg
	return &cp, nil
}
