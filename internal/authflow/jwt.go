package authflow

import (
	"context"
	"log/slog"
	"time"

	"tokenly/internal/login"
	"tokenly/internal/platform/metrics"
	"tokenly/internal/session"
	"tokenly/internal/tenant"
	"tokenly/internal/token"
	"tokenly/pkg/domainerrors"
)

// JWTFlow issues an access token and, when the tenant allows refresh
// tokens, opens a session so the pair can be rotated later.
type JWTFlow struct {
	handlers  *login.Registry
	issuer    *token.Issuer
	sessions  *session.Service
	recorder  SuccessRecorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	accessTTL time.Duration
}

// JWTOption configures a JWTFlow.
type JWTOption func(*JWTFlow)

// WithJWTRecorder wires login audit recording.
func WithJWTRecorder(r SuccessRecorder) JWTOption {
	return func(f *JWTFlow) { f.recorder = r }
}

// WithJWTMetrics wires login attempt counters.
func WithJWTMetrics(m *metrics.Metrics) JWTOption {
	return func(f *JWTFlow) { f.metrics = m }
}

// WithJWTLogger overrides the default logger.
func WithJWTLogger(l *slog.Logger) JWTOption {
	return func(f *JWTFlow) { f.logger = l }
}

// NewJWTFlow builds the flow. defaultAccessTTL applies when the tenant
// config does not set its own access token lifetime.
func NewJWTFlow(handlers *login.Registry, issuer *token.Issuer, sessions *session.Service, defaultAccessTTL time.Duration, opts ...JWTOption) *JWTFlow {
	f := &JWTFlow{
		handlers:  handlers,
		issuer:    issuer,
		sessions:  sessions,
		logger:    slog.Default(),
		accessTTL: defaultAccessTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *JWTFlow) Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*Result, error) {
	u, err := authenticate(ctx, f.handlers, app, cfg, req)
	if err != nil {
		f.countAttempt(cfg, "failure")
		return nil, err
	}

	accessToken, err := f.issuer.IssueAccessToken(u, app, cfg)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "issue access token")
	}

	result := &Result{
		AccessToken: accessToken,
		ExpiresIn:   int64(cfg.AccessTokenTTL(f.accessTTL).Seconds()),
	}

	if cfg.RefreshTokenEnabled {
		refreshToken, err := f.issuer.IssueRefreshToken()
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "issue refresh token")
		}
		if _, err := f.sessions.CreateSession(ctx, u.ID, app, cfg, refreshToken, req.IPAddress, req.UserAgent); err != nil {
			return nil, err
		}
		result.RefreshToken = refreshToken
	}

	f.countAttempt(cfg, "success")
	if f.recorder != nil {
		f.recorder.RecordSuccess(ctx, app.ID, u.ID, u.Email, req.IPAddress, req.UserAgent)
	}
	return result, nil
}

func (f *JWTFlow) countAttempt(cfg *tenant.AuthConfig, outcome string) {
	if f.metrics == nil {
		return
	}
	f.metrics.LoginAttempts.WithLabelValues(string(cfg.LoginMethod), outcome).Inc()
}
