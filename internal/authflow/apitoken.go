package authflow

import (
	"context"
	"time"

	"tokenly/internal/login"
	"tokenly/internal/platform/metrics"
	"tokenly/internal/tenant"
	"tokenly/internal/token"
	"tokenly/pkg/domainerrors"
)

// APITokenFlow issues a standalone access token with no refresh session.
// Suited to machine clients that re-authenticate instead of rotating.
type APITokenFlow struct {
	handlers  *login.Registry
	issuer    *token.Issuer
	recorder  SuccessRecorder
	metrics   *metrics.Metrics
	accessTTL time.Duration
}

// APITokenOption configures an APITokenFlow.
type APITokenOption func(*APITokenFlow)

// WithAPITokenRecorder wires login audit recording.
func WithAPITokenRecorder(r SuccessRecorder) APITokenOption {
	return func(f *APITokenFlow) { f.recorder = r }
}

// WithAPITokenMetrics wires login attempt counters.
func WithAPITokenMetrics(m *metrics.Metrics) APITokenOption {
	return func(f *APITokenFlow) { f.metrics = m }
}

func NewAPITokenFlow(handlers *login.Registry, issuer *token.Issuer, defaultAccessTTL time.Duration, opts ...APITokenOption) *APITokenFlow {
	f := &APITokenFlow{
		handlers:  handlers,
		issuer:    issuer,
		accessTTL: defaultAccessTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *APITokenFlow) Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*Result, error) {
	u, err := authenticate(ctx, f.handlers, app, cfg, req)
	if err != nil {
		f.countAttempt(cfg, "failure")
		return nil, err
	}

	accessToken, err := f.issuer.IssueAccessToken(u, app, cfg)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "issue access token")
	}

	f.countAttempt(cfg, "success")
	if f.recorder != nil {
		f.recorder.RecordSuccess(ctx, app.ID, u.ID, u.Email, req.IPAddress, req.UserAgent)
	}
	return &Result{
		AccessToken: accessToken,
		ExpiresIn:   int64(cfg.AccessTokenTTL(f.accessTTL).Seconds()),
	}, nil
}

func (f *APITokenFlow) countAttempt(cfg *tenant.AuthConfig, outcome string) {
	if f.metrics == nil {
		return
	}
	f.metrics.LoginAttempts.WithLabelValues(string(cfg.LoginMethod), outcome).Inc()
}
