// Package auth is the engine's front door. It composes the auth-flow
// registry, the session service, the one-time secret store, and the
// notifier into the operations the HTTP layer exposes: login, refresh,
// signup, OTP and magic-link issuance, email verification, password
// recovery, and logout.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/authflow"
	"tokenly/internal/hashing"
	"tokenly/internal/login"
	"tokenly/internal/notify"
	"tokenly/internal/platform/metrics"
	"tokenly/internal/secrets"
	"tokenly/internal/session"
	"tokenly/internal/tenant"
	"tokenly/internal/token"
	"tokenly/internal/user"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/sentinel"
)

// Applications resolves tenant metadata for outbound email.
type Applications interface {
	FindApplication(ctx context.Context, id uuid.UUID) (*tenant.Application, error)
}

// Users is the user persistence the service consumes.
type Users interface {
	Save(ctx context.Context, u *user.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	FindByEmail(ctx context.Context, appID uuid.UUID, email string) (*user.User, error)
	ExistsByEmail(ctx context.Context, appID uuid.UUID, email string) (bool, error)
	FindByVerificationToken(ctx context.Context, token string) (*user.User, error)
	FindByPasswordResetToken(ctx context.Context, token string) (*user.User, error)
}

// TTLs carries the lifetimes of the short-lived artifacts the service
// mints. Zero fields fall back to the package defaults.
type TTLs struct {
	OTP               time.Duration
	MagicLink         time.Duration
	VerificationToken time.Duration
	PasswordReset     time.Duration
	AccessToken       time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.OTP <= 0 {
		t.OTP = 5 * time.Minute
	}
	if t.MagicLink <= 0 {
		t.MagicLink = 15 * time.Minute
	}
	if t.VerificationToken <= 0 {
		t.VerificationToken = 24 * time.Hour
	}
	if t.PasswordReset <= 0 {
		t.PasswordReset = time.Hour
	}
	if t.AccessToken <= 0 {
		t.AccessToken = time.Hour
	}
	return t
}

// Service implements the tenant-facing authentication surface.
type Service struct {
	flows    *authflow.Registry
	sessions *session.Service
	issuer   *token.Issuer
	users    Users
	apps     Applications
	secrets  secrets.Store
	notifier notify.Sender
	hashers  *hashing.Registry
	ttls     TTLs

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics wires signup and login counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the authentication surface.
func NewService(
	flows *authflow.Registry,
	sessions *session.Service,
	issuer *token.Issuer,
	users Users,
	apps Applications,
	secretStore secrets.Store,
	notifier notify.Sender,
	hashers *hashing.Registry,
	ttls TTLs,
	opts ...Option,
) *Service {
	s := &Service{
		flows:    flows,
		sessions: sessions,
		issuer:   issuer,
		users:    users,
		apps:     apps,
		secrets:  secretStore,
		notifier: notifier,
		hashers:  hashers,
		ttls:     ttls.withDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates per the tenant's configured method and mode.
func (s *Service) Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*authflow.Result, error) {
	flow, err := s.flows.For(cfg.AuthMode)
	if err != nil {
		s.logger.Error("auth mode has no flow", "app_id", app.ID, "mode", cfg.AuthMode)
		return nil, err
	}
	return flow.Login(ctx, app, cfg, req)
}

// Refresh rotates the presented refresh token and mints a fresh access
// token for the session's user.
func (s *Service) Refresh(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, refreshToken string) (*authflow.Result, error) {
	next, newToken, err := s.sessions.Rotate(ctx, app, cfg, refreshToken)
	if err != nil {
		return nil, err
	}

	u, err := s.users.FindByID(ctx, next.UserID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load session user")
	}

	accessToken, err := s.issuer.IssueAccessToken(u, app, cfg)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "issue access token")
	}

	return &authflow.Result{
		AccessToken:  accessToken,
		RefreshToken: newToken,
		ExpiresIn:    int64(cfg.AccessTokenTTL(s.ttls.AccessToken).Seconds()),
	}, nil
}

// RequestOtp mints a 6-digit code, stores it under the caller's email, and
// mails it. Issuing a new code replaces any outstanding one.
func (s *Service) RequestOtp(ctx context.Context, app *tenant.Application, email string) error {
	code, err := generateOTP()
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "generate otp")
	}
	if err := s.secrets.Put(ctx, secrets.PurposeOTP, app.ID, email, code, s.ttls.OTP); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "store otp")
	}
	if err := s.notifier.SendOTP(ctx, email, code, app.Name); err != nil {
		s.logger.Error("otp email delivery failed", "app_id", app.ID, "error", err)
	}
	return nil
}

// RequestMagicLink mints a single-use login token keyed by the token value
// itself; the stored value is the email it authenticates.
func (s *Service) RequestMagicLink(ctx context.Context, app *tenant.Application, email string) error {
	linkToken := uuid.NewString()
	if err := s.secrets.Put(ctx, secrets.PurposeMagicLink, app.ID, linkToken, email, s.ttls.MagicLink); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "store magic link")
	}
	if err := s.notifier.SendMagicLink(ctx, email, linkToken, app.ID.String(), app.Name); err != nil {
		s.logger.Error("magic link email delivery failed", "app_id", app.ID, "error", err)
	}
	return nil
}

// SignupRequest carries the material for a new end-user registration.
type SignupRequest struct {
	Email      string
	Password   string
	CustomData map[string]any
}

// Signup registers a new end user. Duplicate email is a conflict. When the
// tenant requires email verification the user starts unverified and a
// verification token goes out by email.
func (s *Service) Signup(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *SignupRequest) (*user.User, error) {
	if !cfg.SignupEnabled {
		return nil, domainerrors.New(domainerrors.CodeForbidden, "signup is disabled for this application")
	}

	exists, err := s.users.ExistsByEmail(ctx, app.ID, req.Email)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "check email")
	}
	if exists {
		return nil, domainerrors.New(domainerrors.CodeConflict, "email already registered")
	}

	now := s.now()
	u := &user.User{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Email:         req.Email,
		Status:        user.StatusActive,
		CustomData:    req.CustomData,
		CreatedAt:     now,
	}
	if req.Password != "" {
		hash, err := s.hashers.For(cfg.HashAlgorithm).Hash(req.Password)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "hash password")
		}
		u.PasswordHash = hash
	}

	expiry := now.Add(s.ttls.VerificationToken)
	u.VerificationToken = uuid.NewString()
	u.VerificationTokenExpiry = &expiry

	if err := s.users.Save(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, domainerrors.Wrap(err, domainerrors.CodeConflict, "email already registered")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}

	if s.metrics != nil {
		s.metrics.SignupsTotal.Inc()
	}
	if err := s.notifier.SendVerification(ctx, u.Email, u.VerificationToken, app.Name); err != nil {
		s.logger.Error("verification email delivery failed", "app_id", app.ID, "error", err)
	}
	s.logger.Info("user signed up", "app_id", app.ID, "user_id", u.ID)
	return u, nil
}

// VerifyEmail marks the token's user verified and clears the token. The
// token is looked up globally; it is unguessable and single-purpose.
func (s *Service) VerifyEmail(ctx context.Context, verificationToken string) (*user.User, error) {
	u, err := s.users.FindByVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeInvalidInput, "invalid or expired verification token")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "find verification token")
	}
	if u.VerificationTokenExpiry == nil || u.VerificationTokenExpiry.Before(s.now()) {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "verification token has expired")
	}

	u.EmailVerified = true
	u.VerificationToken = ""
	u.VerificationTokenExpiry = nil
	if err := s.users.Save(ctx, u); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}

	appName := ""
	if app, err := s.apps.FindApplication(ctx, u.ApplicationID); err == nil {
		appName = app.Name
	}
	if err := s.notifier.SendWelcome(ctx, u.Email, appName); err != nil {
		s.logger.Error("welcome email delivery failed", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// ResendVerification reissues the verification token for an unverified user.
func (s *Service) ResendVerification(ctx context.Context, app *tenant.Application, email string) error {
	u, err := s.users.FindByEmail(ctx, app.ID, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.New(domainerrors.CodeNotFound, "user not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "find user")
	}
	if u.EmailVerified {
		return domainerrors.New(domainerrors.CodeInvalidInput, "email already verified")
	}

	expiry := s.now().Add(s.ttls.VerificationToken)
	u.VerificationToken = uuid.NewString()
	u.VerificationTokenExpiry = &expiry
	if err := s.users.Save(ctx, u); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}

	if err := s.notifier.SendVerification(ctx, u.Email, u.VerificationToken, app.Name); err != nil {
		s.logger.Error("verification email delivery failed", "app_id", app.ID, "error", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token for the user. Unknown emails
// return success so the endpoint cannot be used to enumerate registrations.
func (s *Service) RequestPasswordReset(ctx context.Context, app *tenant.Application, email string) error {
	u, err := s.users.FindByEmail(ctx, app.ID, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.Info("password reset for unknown email", "app_id", app.ID)
			return nil
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "find user")
	}

	expiry := s.now().Add(s.ttls.PasswordReset)
	u.PasswordResetToken = uuid.NewString()
	u.PasswordResetTokenExpiry = &expiry
	if err := s.users.Save(ctx, u); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}

	if err := s.notifier.SendPasswordReset(ctx, u.Email, u.PasswordResetToken, app.Name); err != nil {
		s.logger.Error("password reset email delivery failed", "app_id", app.ID, "error", err)
	}
	return nil
}

// ResetPassword sets a new password from a reset token and revokes every
// session of the user. A stolen refresh token dies with the old password.
func (s *Service) ResetPassword(ctx context.Context, cfg *tenant.AuthConfig, resetToken, newPassword string) error {
	u, err := s.users.FindByPasswordResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.New(domainerrors.CodeInvalidInput, "invalid reset token")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "find reset token")
	}
	if u.PasswordResetTokenExpiry == nil || u.PasswordResetTokenExpiry.Before(s.now()) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "reset token expired")
	}

	hash, err := s.hashers.For(cfg.HashAlgorithm).Hash(newPassword)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "hash password")
	}
	u.PasswordHash = hash
	u.PasswordResetToken = ""
	u.PasswordResetTokenExpiry = nil
	if err := s.users.Save(ctx, u); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, u.ID, nil); err != nil {
		s.logger.Error("session revocation after password reset failed", "user_id", u.ID, "error", err)
	}
	s.logger.Info("password reset", "user_id", u.ID)
	return nil
}

// ChangePassword rotates the password of an authenticated user after
// confirming the current one.
func (s *Service) ChangePassword(ctx context.Context, cfg *tenant.AuthConfig, userID uuid.UUID, currentPassword, newPassword string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.New(domainerrors.CodeNotFound, "user not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "find user")
	}

	hasher := s.hashers.For(cfg.HashAlgorithm)
	matched, err := hasher.Verify(currentPassword, u.PasswordHash)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "verify password")
	}
	if !matched {
		return domainerrors.New(domainerrors.CodeUnauthorized, "current password is incorrect")
	}

	hash, err := hasher.Hash(newPassword)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "hash password")
	}
	u.PasswordHash = hash
	if err := s.users.Save(ctx, u); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}
	return nil
}

// Profile returns the user behind a validated access token subject.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "user not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "find user")
	}
	return u, nil
}

// UpdateProfile replaces the user's custom profile payload.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, customData map[string]any) (*user.User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.CustomData = customData
	if err := s.users.Save(ctx, u); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "save user")
	}
	return u, nil
}

// Logout revokes the session holding the presented refresh token. An
// unknown token is not an error; the caller's goal is already met.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	err := s.sessions.RevokeByToken(ctx, refreshToken)
	if err != nil && !domainerrors.HasCode(err, domainerrors.CodeNotFound) {
		return err
	}
	return nil
}

// LogoutAll revokes every session of the user and returns how many fell.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.sessions.RevokeAllForUser(ctx, userID, nil)
}

// ListSessions returns the user's live sessions for device management UIs.
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]*session.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}

// generateOTP draws a uniform 6-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
