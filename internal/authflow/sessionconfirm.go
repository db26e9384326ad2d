package authflow

import (
	"context"

	"tokenly/internal/login"
	"tokenly/internal/platform/metrics"
	"tokenly/internal/tenant"
)

// SessionConfirmFlow verifies credentials and returns an empty result.
// Tenants running their own session layer use it as a pure credential
// check; no tokens are minted on this side.
type SessionConfirmFlow struct {
	handlers *login.Registry
	recorder SuccessRecorder
	metrics  *metrics.Metrics
}

// SessionConfirmOption configures a SessionConfirmFlow.
type SessionConfirmOption func(*SessionConfirmFlow)

// WithSessionConfirmRecorder wires login audit recording.
func WithSessionConfirmRecorder(r SuccessRecorder) SessionConfirmOption {
	return func(f *SessionConfirmFlow) { f.recorder = r }
}

// WithSessionConfirmMetrics wires login attempt counters.
func WithSessionConfirmMetrics(m *metrics.Metrics) SessionConfirmOption {
	return func(f *SessionConfirmFlow) { f.metrics = m }
}

func NewSessionConfirmFlow(handlers *login.Registry, opts ...SessionConfirmOption) *SessionConfirmFlow {
	f := &SessionConfirmFlow{handlers: handlers}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SessionConfirmFlow) Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*Result, error) {
	u, err := authenticate(ctx, f.handlers, app, cfg, req)
	if err != nil {
		f.countAttempt(cfg, "failure")
		return nil, err
	}

	f.countAttempt(cfg, "success")
	if f.recorder != nil {
		f.recorder.RecordSuccess(ctx, app.ID, u.ID, u.Email, req.IPAddress, req.UserAgent)
	}
	return &Result{}, nil
}

func (f *SessionConfirmFlow) countAttempt(cfg *tenant.AuthConfig, outcome string) {
	if f.metrics == nil {
		return
	}
	f.metrics.LoginAttempts.WithLabelValues(string(cfg.LoginMethod), outcome).Inc()
}
