// Package cleanup periodically removes expired auth artifacts: revoked
// sessions past their retention window and old login logs.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionJanitor removes dead sessions past retention.
type SessionJanitor interface {
	Cleanup(ctx context.Context) (int64, error)
}

// AuditStore removes login logs older than a cutoff.
type AuditStore interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result summarizes the deletions performed by one sweep.
type Result struct {
	DeletedSessions  int64
	DeletedLoginLogs int64
}

// Service runs the maintenance sweep on a fixed interval.
type Service struct {
	sessions       SessionJanitor
	audit          AuditStore
	interval       time.Duration
	auditRetention time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithAuditRetention overrides how long login logs are kept.
func WithAuditRetention(retention time.Duration) Option {
	return func(s *Service) {
		if retention > 0 {
			s.auditRetention = retention
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the sweep service. The audit store may be nil when login
// logs are kept forever.
func New(sessions SessionJanitor, audit AuditStore, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("sessions store is required")
	}
	s := &Service{
		sessions:       sessions,
		audit:          audit,
		interval:       time.Hour,
		auditRetention: 90 * 24 * time.Hour,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start sweeps on the interval until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "cleanup sweep failed", "error", err)
				continue
			}
			if res.DeletedSessions > 0 || res.DeletedLoginLogs > 0 {
				s.logger.Info("cleanup sweep",
					"sessions_deleted", res.DeletedSessions,
					"login_logs_deleted", res.DeletedLoginLogs)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep. Partial failures are aggregated so one
// failing store never starves the other.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	deleted, err := s.sessions.Cleanup(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup sessions: %w", err))
	} else {
		res.DeletedSessions = deleted
	}

	if s.audit != nil {
		deleted, err := s.audit.DeleteBefore(ctx, s.now().Add(-s.auditRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete old login logs: %w", err))
		} else {
			res.DeletedLoginLogs = deleted
		}
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
