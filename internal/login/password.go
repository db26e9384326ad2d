package login

import (
	"context"
	"errors"

	"tokenly/internal/hashing"
	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/sentinel"
)

// PasswordHandler authenticates with email and password, verified through
// the tenant's configured hash algorithm.
type PasswordHandler struct {
	users    Users
	hashers  *hashing.Registry
	attempts AttemptRecorder
}

// NewPasswordHandler creates the PASSWORD method handler.
func NewPasswordHandler(users Users, hashers *hashing.Registry, attempts AttemptRecorder) *PasswordHandler {
	return &PasswordHandler{users: users, hashers: hashers, attempts: attempts}
}

func (h *PasswordHandler) Authenticate(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *Request) (*user.User, error) {
	u, err := h.users.FindByEmail(ctx, app.ID, req.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.recordFailure(ctx, app, req, ReasonUserNotFound)
			// Same response as a wrong password; the failure reason stays
			// internal so the API does not leak account existence.
			return nil, unauthorized("invalid credentials")
		}
		return nil, err
	}

	hasher := h.hashers.For(cfg.HashAlgorithm)
	matched := false
	if u.PasswordHash != "" {
		matched, err = hasher.Verify(req.Password, u.PasswordHash)
		if err != nil {
			return nil, err
		}
	}
	if !matched {
		h.recordFailure(ctx, app, req, ReasonInvalidPassword)
		return nil, unauthorized("invalid credentials")
	}

	if cfg.EmailVerificationRequired && !u.EmailVerified {
		h.recordFailure(ctx, app, req, ReasonEmailNotVerified)
		return nil, unauthorized("email verification is required to login")
	}

	return u, nil
}

func (h *PasswordHandler) recordFailure(ctx context.Context, app *tenant.Application, req *Request, reason string) {
	if h.attempts != nil {
		h.attempts.RecordFailure(ctx, app.ID, req.Email, req.IPAddress, req.UserAgent, reason)
	}
}
