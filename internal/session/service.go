package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/platform/metrics"
	"tokenly/internal/tenant"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/sentinel"
	"tokenly/pkg/tokenhash"
)

// DefaultRetention is how long revoked sessions are kept past expiry before
// the cleanup sweep deletes them.
const DefaultRetention = 7 * 24 * time.Hour

// Store is the durable session store the service drives.
type Store interface {
	Create(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindActiveByTokenHash(ctx context.Context, hash string) (*Session, error)
	ListForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Session, error)
	Execute(ctx context.Context, tokenHash string, hint *uuid.UUID, now time.Time,
		validate func(current *Session, liveInFamily int) error,
		successor func(current *Session) *Session) (*Session, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*Session, error)
	RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) ([]*Session, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) ([]*Session, error)
	DeleteExpiredRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RefreshTokenSource mints opaque refresh token values.
type RefreshTokenSource interface {
	IssueRefreshToken() (string, error)
}

// Service owns the refresh session lifecycle: creation on login, rotation on
// refresh, revocation, and the retention sweep.
type Service struct {
	store  Store
	cache  Cache
	tokens RefreshTokenSource

	defaultRefreshTTL time.Duration
	retention         time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the session cache mirror. Defaults to NoopCache.
func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetention overrides how long revoked sessions survive past expiry.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

// NewService creates the session service. defaultRefreshTTL applies when a
// tenant config carries no refresh TTL of its own.
func NewService(store Store, tokens RefreshTokenSource, defaultRefreshTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		store:             store,
		cache:             NoopCache{},
		tokens:            tokens,
		defaultRefreshTTL: defaultRefreshTTL,
		retention:         DefaultRetention,
		logger:            slog.Default(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a new token family for a fresh login. The raw refresh
// token is hashed before storage and mirrored into the cache with TTL equal
// to its remaining lifetime.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, app *tenant.Application, cfg *tenant.AuthConfig, refreshToken, ip, userAgent string) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:            uuid.New(),
		UserID:        userID,
		ApplicationID: app.ID,
		TokenHash:     tokenhash.Hash(refreshToken),
		FamilyID:      uuid.New(),
		ExpiresAt:     now.Add(cfg.RefreshTokenTTL(s.defaultRefreshTTL)),
		LastUsedAt:    &now,
		IPAddress:     ip,
		UserAgent:     userAgent,
		DeviceName:    DeviceName(userAgent),
		CreatedAt:     now,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create session")
	}
	s.mirror(ctx, sess)
	return sess, nil
}

// Rotate exchanges a presented refresh token for a successor session and a
// new refresh token. Presenting a token that rotation already retired means
// it was replayed, and the whole family is revoked instead. The cache
// resolves the session ID first; the durable store stays authoritative and
// the rotation revalidates everything under lock.
func (s *Service) Rotate(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, presentedToken string) (*Session, string, error) {
	now := s.now()
	hash := tokenhash.Hash(presentedToken)

	var hint *uuid.UUID
	if id, hit, err := s.cache.Get(ctx, app.ID, hash); err != nil {
		s.logger.WarnContext(ctx, "session cache read failed", "error", err)
	} else if hit {
		hint = &id
	}

	newToken, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, "", err
	}

	next, err := s.store.Execute(ctx, hash, hint, now,
		func(current *Session, liveInFamily int) error {
			if current.ReplacedBy != nil {
				return domainerrors.New(domainerrors.CodeReuseDetected, "refresh token reuse detected, all sessions revoked")
			}
			if current.Revoked || now.After(current.ExpiresAt) {
				return domainerrors.New(domainerrors.CodeUnauthorized, "invalid or expired refresh token")
			}
			if liveInFamily > 1 {
				return domainerrors.New(domainerrors.CodeReuseDetected, "refresh token reuse detected, all sessions revoked")
			}
			return nil
		},
		func(current *Session) *Session {
			return &Session{
				ID:            uuid.New(),
				UserID:        current.UserID,
				ApplicationID: current.ApplicationID,
				TokenHash:     tokenhash.Hash(newToken),
				FamilyID:      current.FamilyID,
				ExpiresAt:     now.Add(cfg.RefreshTokenTTL(s.defaultRefreshTTL)),
				LastUsedAt:    &now,
				IPAddress:     current.IPAddress,
				UserAgent:     current.UserAgent,
				DeviceName:    current.DeviceName,
				CreatedAt:     now,
			}
		},
	)
	if err != nil {
		s.evict(ctx, app.ID, hash)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", domainerrors.New(domainerrors.CodeUnauthorized, "invalid or expired refresh token")
		}
		if domainerrors.HasCode(err, domainerrors.CodeReuseDetected) {
			if s.metrics != nil {
				s.metrics.ReuseDetections.Inc()
			}
			s.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
				"application_id", app.ID,
			)
		}
		return nil, "", err
	}

	s.evict(ctx, app.ID, hash)
	s.mirror(ctx, next)
	if s.metrics != nil {
		s.metrics.TokenRotations.Inc()
	}
	return next, newToken, nil
}

// RevokeByToken revokes the live session holding the presented refresh
// token. Used by logout, where the caller proves ownership by presenting
// the token itself.
func (s *Service) RevokeByToken(ctx context.Context, refreshToken string) error {
	sess, err := s.store.FindActiveByTokenHash(ctx, tokenhash.Hash(refreshToken))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.Wrap(err, domainerrors.CodeNotFound, "session not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "find session")
	}
	return s.RevokeSession(ctx, sess.ID)
}

// ListForUser returns the user's live sessions, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	sessions, err := s.store.ListForUser(ctx, userID, s.now())
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list sessions")
	}
	return sessions, nil
}

// RevokeSession revokes one session. Revoking an already revoked session is
// a no-op.
func (s *Service) RevokeSession(ctx context.Context, id uuid.UUID) error {
	sess, err := s.store.Revoke(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.Wrap(err, domainerrors.CodeNotFound, "session not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "revoke session")
	}
	s.evict(ctx, sess.ApplicationID, sess.TokenHash)
	s.countRevoked(1)
	return nil
}

// RevokeAllForUser revokes every live session of a user, optionally sparing
// one (the session performing the operation).
func (s *Service) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID) (int, error) {
	revoked, err := s.store.RevokeAllForUser(ctx, userID, except, s.now())
	if err != nil {
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "revoke user sessions")
	}
	for _, sess := range revoked {
		s.evict(ctx, sess.ApplicationID, sess.TokenHash)
	}
	s.countRevoked(len(revoked))
	return len(revoked), nil
}

// RevokeFamily revokes every live session descending from one login.
func (s *Service) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int, error) {
	revoked, err := s.store.RevokeFamily(ctx, familyID, s.now())
	if err != nil {
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "revoke session family")
	}
	for _, sess := range revoked {
		s.evict(ctx, sess.ApplicationID, sess.TokenHash)
	}
	s.countRevoked(len(revoked))
	return len(revoked), nil
}

// Cleanup deletes revoked sessions past the retention window. Called by the
// maintenance worker, never on the request path.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.DeleteExpiredRevokedBefore(ctx, cutoff)
	if err != nil {
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "session cleanup")
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "session cleanup", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func (s *Service) mirror(ctx context.Context, sess *Session) {
	if err := s.cache.Put(ctx, sess); err != nil {
		s.logger.WarnContext(ctx, "session cache write failed", "error", err)
	}
}

func (s *Service) evict(ctx context.Context, appID uuid.UUID, hash string) {
	if err := s.cache.Delete(ctx, appID, hash); err != nil {
		s.logger.WarnContext(ctx, "session cache evict failed", "error", err)
	}
}

func (s *Service) countRevoked(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.SessionsRevoked.Add(float64(n))
	}
}
