package login

import (
	"context"
	"errors"

	"tokenly/internal/secrets"
	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/sentinel"
)

// MagicLinkHandler authenticates with an opaque token from a login link.
// The token resolves to the email it was issued for; consumption deletes it.
type MagicLinkHandler struct {
	users    Users
	secrets  secrets.Store
	attempts AttemptRecorder
}

// NewMagicLinkHandler creates the MAGIC_LINK method handler.
func NewMagicLinkHandler(users Users, store secrets.Store, attempts AttemptRecorder) *MagicLinkHandler {
	return &MagicLinkHandler{users: users, secrets: store, attempts: attempts}
}

func (h *MagicLinkHandler) Authenticate(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *Request) (*user.User, error) {
	if req.MagicLinkToken == "" {
		return nil, unauthorized("magic link token is required")
	}

	email, err := h.secrets.Consume(ctx, secrets.PurposeMagicLink, app.ID, req.MagicLinkToken)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.recordFailure(ctx, app, req, ReasonInvalidMagicLink)
			return nil, unauthorized("invalid or expired magic link")
		}
		return nil, err
	}

	u, err := h.users.FindByEmail(ctx, app.ID, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.recordFailure(ctx, app, req, ReasonUserNotFound)
			return nil, unauthorized("invalid credentials")
		}
		return nil, err
	}
	return u, nil
}

func (h *MagicLinkHandler) recordFailure(ctx context.Context, app *tenant.Application, req *Request, reason string) {
	if h.attempts != nil {
		h.attempts.RecordFailure(ctx, app.ID, req.Email, req.IPAddress, req.UserAgent, reason)
	}
}
