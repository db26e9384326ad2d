// Package user holds the end-user model. End users belong to exactly one
// application; email uniqueness is scoped to the application.
package user

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an end user.
type Status string

const (
	StatusActive              Status = "ACTIVE"
	StatusBlocked             Status = "BLOCKED"
	StatusPendingVerification Status = "PENDING_VERIFICATION"
)

// User is an end user of a tenant application. Users are never hard-deleted
// by the authentication engine.
type User struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	Email         string

	// PasswordHash is empty for OAuth-only users.
	PasswordHash string

	EmailVerified bool
	Status        Status

	// CustomData is the tenant-defined profile payload, parsed once from the
	// stored JSON blob.
	CustomData map[string]any

	// Email verification state.
	VerificationToken       string
	VerificationTokenExpiry *time.Time

	// Password reset state.
	PasswordResetToken       string
	PasswordResetTokenExpiry *time.Time

	CreatedAt time.Time
}

// EncodeCustomData serializes the custom data map to its stored JSON form.
// A nil map encodes to nil, keeping the column NULL.
func (u *User) EncodeCustomData() ([]byte, error) {
	if u.CustomData == nil {
		return nil, nil
	}
	b, err := json.Marshal(u.CustomData)
	if err != nil {
		return nil, fmt.Errorf("encode custom data: %w", err)
	}
	return b, nil
}

// DecodeCustomData parses the stored JSON blob into the typed map. Called
// once when the user is loaded, not per claim.
func (u *User) DecodeCustomData(raw []byte) error {
	if len(raw) == 0 {
		u.CustomData = nil
		return nil
	}
	if err := json.Unmarshal(raw, &u.CustomData); err != nil {
		return fmt.Errorf("decode custom data: %w", err)
	}
	return nil
}
