// Package login holds the per-method authentication handlers. Each tenant
// configures exactly one login method; the registry resolves the handler for
// it. Every handler answers one question: do these credentials identify an
// end user of this application.
package login

import (
	"context"

	"github.com/google/uuid"

	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/domainerrors"
)

// Failure reasons recorded with failed attempts, consumed by lockout and
// analytics downstream.
const (
	ReasonUserNotFound     = "USER_NOT_FOUND"
	ReasonInvalidPassword  = "INVALID_PASSWORD"
	ReasonEmailNotVerified = "EMAIL_NOT_VERIFIED"
	ReasonInvalidOTP       = "INVALID_OTP"
	ReasonInvalidMagicLink = "INVALID_MAGIC_LINK"
	ReasonOAuthRejected    = "OAUTH_VERIFICATION_FAILED"
)

// Request carries the credentials of one login attempt. Which fields are set
// depends on the tenant's login method.
type Request struct {
	Email          string
	Password       string
	OtpCode        string
	MagicLinkToken string
	ProviderToken  string

	IPAddress string
	UserAgent string
}

// Handler authenticates an end user with one login method.
type Handler interface {
	Authenticate(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *Request) (*user.User, error)
}

// Users is the user lookup surface the handlers need.
type Users interface {
	FindByEmail(ctx context.Context, appID uuid.UUID, email string) (*user.User, error)
	FindOrCreate(ctx context.Context, appID uuid.UUID, email string, candidate *user.User) (*user.User, bool, error)
}

// AttemptRecorder records failed attempts for lockout and analytics.
type AttemptRecorder interface {
	RecordFailure(ctx context.Context, appID uuid.UUID, email, ip, userAgent, reason string)
}

// Registry resolves the handler for a tenant's configured login method.
type Registry struct {
	handlers map[tenant.LoginMethod]Handler
}

// NewRegistry builds a registry from explicit method bindings.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[tenant.LoginMethod]Handler)}
}

// Register binds a handler to a method, replacing any previous binding.
func (r *Registry) Register(method tenant.LoginMethod, h Handler) {
	r.handlers[method] = h
}

// For returns the handler for a method. A method without a handler is a
// deployment configuration error, not a credential problem.
func (r *Registry) For(method tenant.LoginMethod) (Handler, error) {
	h, ok := r.handlers[method]
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeInternal, "no login handler for method "+string(method))
	}
	return h, nil
}

func unauthorized(message string) error {
	return domainerrors.New(domainerrors.CodeUnauthorized, message)
}
