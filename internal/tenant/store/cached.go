package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/tenant"
)

// TenantStore is the contract the cached decorator wraps. Both Memory and
// Postgres satisfy it.
type TenantStore interface {
	SaveApplication(ctx context.Context, app *tenant.Application) error
	FindApplication(ctx context.Context, id uuid.UUID) (*tenant.Application, error)
	SaveKey(ctx context.Context, key *tenant.Key) error
	FindActiveKey(ctx context.Context, publicKey string) (*tenant.Key, error)
	FindKeyBySecretHash(ctx context.Context, secretHash string) (*tenant.Key, error)
	RevokeKey(ctx context.Context, publicKey string) error
	SaveConfig(ctx context.Context, cfg *tenant.AuthConfig) error
	FindConfig(ctx context.Context, appID uuid.UUID) (*tenant.AuthConfig, error)
}

// Cached wraps a TenantStore with a short-lived in-process read cache for the
// two lookups on the hot authentication path: key by public value and config
// by application. Revoking a key evicts its entry immediately; everything else
// ages out by TTL. The underlying store stays authoritative.
type Cached struct {
	TenantStore

	ttl time.Duration

	mu      sync.RWMutex
	keys    map[string]cacheEntry[*tenant.Key]
	configs map[uuid.UUID]cacheEntry[*tenant.AuthConfig]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewCached decorates a store with the hot-path read cache.
func NewCached(inner TenantStore, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{
		TenantStore: inner,
		ttl:         ttl,
		keys:        make(map[string]cacheEntry[*tenant.Key]),
		configs:     make(map[uuid.UUID]cacheEntry[*tenant.AuthConfig]),
	}
}

func (c *Cached) FindActiveKey(ctx context.Context, publicKey string) (*tenant.Key, error) {
	c.mu.RLock()
	entry, ok := c.keys[publicKey]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		cp := *entry.value
		return &cp, nil
	}

	key, err := c.TenantStore.FindActiveKey(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	cp := *key
	c.mu.Lock()
	c.keys[publicKey] = cacheEntry[*tenant.Key]{value: &cp, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return key, nil
}

func (c *Cached) RevokeKey(ctx context.Context, publicKey string) error {
	err := c.TenantStore.RevokeKey(ctx, publicKey)
	// Evict regardless of outcome so a revoked key can never be served stale.
	c.mu.Lock()
	delete(c.keys, publicKey)
	c.mu.Unlock()
	return err
}

func (c *Cached) FindConfig(ctx context.Context, appID uuid.UUID) (*tenant.AuthConfig, error) {
	c.mu.RLock()
	entry, ok := c.configs[appID]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		cp := *entry.value
		return &cp, nil
	}

	cfg, err := c.TenantStore.FindConfig(ctx, appID)
	if err != nil {
		return nil, err
	}
	cp := *cfg
	c.mu.Lock()
	c.configs[appID] = cacheEntry[*tenant.AuthConfig]{value: &cp, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

func (c *Cached) SaveConfig(ctx context.Context, cfg *tenant.AuthConfig) error {
	err := c.TenantStore.SaveConfig(ctx, cfg)
	c.mu.Lock()
	delete(c.configs, cfg.ApplicationID)
	c.mu.Unlock()
	return err
}
