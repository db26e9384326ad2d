package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenly/pkg/sentinel"
)

// Memory is an in-process secret store for tests and development.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory constructs an empty in-process secret store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Put(_ context.Context, purpose Purpose, appID uuid.UUID, identifier, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[storageKey(purpose, appID, identifier)] = memoryEntry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storageKey(purpose, appID, identifier)
	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", fmt.Errorf("%s secret: %w", purpose, sentinel.ErrNotFound)
	}
	return entry.value, nil
}

func (m *Memory) Consume(_ context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storageKey(purpose, appID, identifier)
	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return "", fmt.Errorf("%s secret: %w", purpose, sentinel.ErrNotFound)
	}
	delete(m.entries, key)
	return entry.value, nil
}

func (m *Memory) Delete(_ context.Context, purpose Purpose, appID uuid.UUID, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, storageKey(purpose, appID, identifier))
	return nil
}
