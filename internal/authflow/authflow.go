// Package authflow selects what a successful authentication produces: a JWT
// pair with a refresh session, a stateless API token, or a bare
// confirmation. The tenant's auth mode picks the flow; the login method
// registry supplies the authentication step each flow delegates to.
package authflow

import (
	"context"

	"github.com/google/uuid"

	"tokenly/internal/login"
	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/domainerrors"
)

// Result is a login response. Zero fields are omitted on the wire; the
// SESSION mode returns an empty result by design.
type Result struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// Flow turns authenticated credentials into a login response.
type Flow interface {
	Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*Result, error)
}

// SuccessRecorder records successful logins.
type SuccessRecorder interface {
	RecordSuccess(ctx context.Context, appID, userID uuid.UUID, email, ip, userAgent string)
}

// Registry resolves the flow for a tenant's configured auth mode.
type Registry struct {
	flows map[tenant.AuthMode]Flow
}

// NewRegistry builds a registry from explicit mode bindings.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[tenant.AuthMode]Flow)}
}

// Register binds a flow to a mode, replacing any previous binding.
func (r *Registry) Register(mode tenant.AuthMode, f Flow) {
	r.flows[mode] = f
}

// For returns the flow for a mode. A mode without a flow is a deployment
// configuration error, not a credential problem.
func (r *Registry) For(mode tenant.AuthMode) (Flow, error) {
	f, ok := r.flows[mode]
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeInternal, "no auth flow for mode "+string(mode))
	}
	return f, nil
}

// authenticate resolves and runs the tenant's login method handler.
func authenticate(ctx context.Context, handlers *login.Registry, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*user.User, error) {
	h, err := handlers.For(cfg.LoginMethod)
	if err != nil {
		return nil, err
	}
	return h.Authenticate(ctx, app, cfg, req)
}
