package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements Limiter with in-process fixed-window counters.
// Suitable for single-instance deployments and tests; multi-instance
// deployments should use RedisLimiter so all instances share counters.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

type window struct {
	start time.Time
	count int
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source. Used by tests to step across window
// boundaries deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// NewMemoryLimiter creates an in-process fixed-window limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one unit for the identifier within the current window.
func (l *MemoryLimiter) Allow(ctx context.Context, identifier string, limit int) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[identifier]
	if !ok || now.Sub(w.start) >= Window {
		w = &window{start: now}
		l.windows[identifier] = w
	}

	resetAt := w.start.Add(Window)
	if w.count >= limit {
		return &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfterSeconds(false, resetAt, now),
		}, nil
	}

	w.count++
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the counter for an identifier.
func (l *MemoryLimiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
	return nil
}
