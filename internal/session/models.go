// Package session implements refresh token rotation. Each login opens a new
// token family; every rotation retires the presented session and creates
// exactly one live successor in the same family. Presenting a token that
// rotation already retired means it was replayed, and the whole family is
// revoked.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is one refresh token's lifetime. The raw token is never stored,
// only its hash.
type Session struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ApplicationID uuid.UUID

	TokenHash string
	FamilyID  uuid.UUID

	Revoked   bool
	RevokedAt *time.Time

	// ReplacedBy holds the successor's ID once rotation retires this
	// session. A presented token with ReplacedBy set was replayed; one
	// revoked any other way was not.
	ReplacedBy *uuid.UUID

	ExpiresAt  time.Time
	LastUsedAt *time.Time

	IPAddress  string
	UserAgent  string
	DeviceName string

	CreatedAt time.Time
}

// Usable reports whether the session can still be rotated.
func (s *Session) Usable(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
