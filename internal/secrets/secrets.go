// Package secrets stores short-lived one-time values: OTP codes and
// magic-link tokens. Entries are TTL-bound and deleted on first successful
// consumption. Durability is not required; a lost entry just means the user
// requests a new code.
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Purpose namespaces stored values.
type Purpose string

const (
	PurposeOTP       Purpose = "otp"
	PurposeMagicLink Purpose = "magic"
)

// Store holds ephemeral one-time secrets.
type Store interface {
	// Put stores a value under (purpose, application, identifier) with the
	// given TTL, replacing any previous value.
	Put(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier, value string, ttl time.Duration) error

	// Get returns the stored value without deleting it. Returns
	// sentinel.ErrNotFound when absent or expired.
	Get(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error)

	// Consume returns the stored value and deletes it atomically. Returns
	// sentinel.ErrNotFound when absent or expired.
	Consume(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) (string, error)

	// Delete removes the stored value. Deleting an absent value is a no-op.
	Delete(ctx context.Context, purpose Purpose, appID uuid.UUID, identifier string) error
}

func storageKey(purpose Purpose, appID uuid.UUID, identifier string) string {
	return fmt.Sprintf("tokenly:%s:%s:%s", purpose, appID, identifier)
}
