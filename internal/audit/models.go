// Package audit records login attempts. Successful and failed attempts are
// written off the request path through a buffered recorder; downstream
// lockout and analytics consume them from the store or the Kafka stream.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a login attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Entry is one recorded login attempt.
type Entry struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID

	// UserID is nil for failures where no user was resolved.
	UserID *uuid.UUID

	EmailAttempted string
	IPAddress      string
	UserAgent      string

	Status        Status
	FailureReason string

	CreatedAt time.Time
}
