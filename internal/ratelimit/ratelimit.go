// Package ratelimit enforces per-API-key request limits using fixed-window
// counters. Every authenticated request consumes one unit against the key's
// configured per-minute limit.
package ratelimit

import (
	"context"
	"time"
)

// Window is the counting window. Limits are expressed per minute.
const Window = time.Minute

// Result describes the outcome of a single rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

// Limiter checks and consumes rate limit capacity for an identifier.
type Limiter interface {
	// Allow consumes one unit for the identifier. It returns the check
	// outcome; a denied request does not consume capacity.
	Allow(ctx context.Context, identifier string, limit int) (*Result, error)
}

func retryAfterSeconds(allowed bool, resetAt, now time.Time) int {
	if allowed {
		return 0
	}
	seconds := int(resetAt.Sub(now).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}
