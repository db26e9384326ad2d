// Package store persists refresh sessions. The memory variant backs tests
// and single-node development; postgres is the production binding. Both
// serialize the rotation critical section so two concurrent rotations of the
// same token can never both produce a successor.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/session"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/sentinel"
)

// Memory is an in-memory session store.
type Memory struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	byHash   map[string]uuid.UUID
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[uuid.UUID]*session.Session),
		byHash:   make(map[string]uuid.UUID),
	}
}

func (m *Memory) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.byHash[s.TokenHash] = s.ID
	return nil
}

func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// FindActiveByTokenHash returns the non-revoked session for a token hash.
func (m *Memory) FindActiveByTokenHash(_ context.Context, hash string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.lookupByHash(hash)
	if s == nil || s.Revoked {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// ListForUser returns the user's non-revoked, unexpired sessions,
// newest first.
func (m *Memory) ListForUser(_ context.Context, userID uuid.UUID, now time.Time) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.UserID != userID || !s.Usable(now) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Execute runs the rotation critical section for the session holding the
// given token hash: load, count live family members, validate, then either
// revoke the whole family (reuse detected) or retire the current session and
// insert its successor. A non-nil hint (typically a cached session ID) drives
// the initial lookup; it is verified against the token hash and falls back to
// the hash index when stale. The entire sequence holds the store lock.
func (m *Memory) Execute(
	_ context.Context,
	tokenHash string,
	hint *uuid.UUID,
	now time.Time,
	validate func(current *session.Session, liveInFamily int) error,
	successor func(current *session.Session) *session.Session,
) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *session.Session
	if hint != nil {
		if s, ok := m.sessions[*hint]; ok && s.TokenHash == tokenHash {
			current = s
		}
	}
	if current == nil {
		current = m.lookupByHash(tokenHash)
	}
	if current == nil {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}

	live := 0
	for _, s := range m.sessions {
		if s.FamilyID == current.FamilyID && !s.Revoked {
			live++
		}
	}

	if err := validate(current, live); err != nil {
		if domainerrors.HasCode(err, domainerrors.CodeReuseDetected) {
			for _, s := range m.sessions {
				if s.FamilyID == current.FamilyID && !s.Revoked {
					m.revokeLocked(s, now)
				}
			}
		}
		return nil, err
	}

	next := successor(current)
	m.revokeLocked(current, now)
	successorID := next.ID
	current.ReplacedBy = &successorID
	cp := *next
	m.sessions[next.ID] = &cp
	m.byHash[next.TokenHash] = next.ID
	return next, nil
}

func (m *Memory) Revoke(_ context.Context, id uuid.UUID, at time.Time) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	m.revokeLocked(s, at)
	cp := *s
	return &cp, nil
}

func (m *Memory) RevokeFamily(_ context.Context, familyID uuid.UUID, at time.Time) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked []*session.Session
	for _, s := range m.sessions {
		if s.FamilyID == familyID && !s.Revoked {
			m.revokeLocked(s, at)
			cp := *s
			revoked = append(revoked, &cp)
		}
	}
	return revoked, nil
}

func (m *Memory) RevokeAllForUser(_ context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked []*session.Session
	for _, s := range m.sessions {
		if s.UserID != userID || s.Revoked {
			continue
		}
		if except != nil && s.ID == *except {
			continue
		}
		m.revokeLocked(s, at)
		cp := *s
		revoked = append(revoked, &cp)
	}
	return revoked, nil
}

// DeleteExpiredRevokedBefore removes revoked sessions whose expiry lies
// before the cutoff. Maintenance sweep, not request-path logic.
func (m *Memory) DeleteExpiredRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, s := range m.sessions {
		if s.Revoked && s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.byHash, s.TokenHash)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) lookupByHash(hash string) *session.Session {
	id, ok := m.byHash[hash]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// revokeLocked marks a session revoked. Idempotent; an already revoked
// session keeps its original timestamp.
func (m *Memory) revokeLocked(s *session.Session, at time.Time) {
	if s.Revoked {
		return
	}
	s.Revoked = true
	ts := at
	s.RevokedAt = &ts
}
