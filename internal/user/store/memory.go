// Package store provides end-user persistence. The memory variant backs tests
// and single-node development; postgres is the production binding.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tokenly/internal/user"
	"tokenly/pkg/sentinel"
)

// Memory is an in-memory user store.
type Memory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*user.User
}

// NewMemory constructs an empty in-memory user store.
func NewMemory() *Memory {
	return &Memory{users: make(map[uuid.UUID]*user.User)}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Save inserts or replaces a user.
func (m *Memory) Save(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// FindByID returns a user by id.
func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// FindByEmail returns the user with the given email within an application.
func (m *Memory) FindByEmail(_ context.Context, appID uuid.UUID, email string) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ApplicationID == appID && emailKey(u.Email) == emailKey(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

// ExistsByEmail reports whether a user with the email exists in the application.
func (m *Memory) ExistsByEmail(ctx context.Context, appID uuid.UUID, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, appID, email)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// FindOrCreate returns the user with the given email, creating the candidate
// when absent. The second return reports whether a new user was created.
func (m *Memory) FindOrCreate(_ context.Context, appID uuid.UUID, email string, candidate *user.User) (*user.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ApplicationID == appID && emailKey(u.Email) == emailKey(email) {
			cp := *u
			return &cp, false, nil
		}
	}
	cp := *candidate
	m.users[candidate.ID] = &cp
	out := cp
	return &out, true, nil
}

// FindByVerificationToken returns the user holding the given verification token.
func (m *Memory) FindByVerificationToken(_ context.Context, token string) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.VerificationToken != "" && u.VerificationToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

// FindByPasswordResetToken returns the user holding the given reset token.
func (m *Memory) FindByPasswordResetToken(_ context.Context, token string) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.PasswordResetToken != "" && u.PasswordResetToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}
