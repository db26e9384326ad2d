// Package store persists login attempt entries.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/audit"
)

// Memory is an in-memory login log store for tests and development.
type Memory struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

// NewMemory constructs an empty in-memory login log store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

// ListForApplication returns the most recent entries for an application,
// newest first.
func (m *Memory) ListForApplication(_ context.Context, appID uuid.UUID, limit int) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].ApplicationID == appID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountRecentFailures counts failed attempts for an email since the given
// time. Feeds lockout decisions.
func (m *Memory) CountRecentFailures(_ context.Context, appID uuid.UUID, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.ApplicationID == appID && e.EmailAttempted == email &&
			e.Status == audit.StatusFailure && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeleteBefore removes entries created before the cutoff.
func (m *Memory) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var deleted int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}
