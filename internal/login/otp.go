package login

import (
	"context"
	"crypto/subtle"
	"errors"

	"tokenly/internal/secrets"
	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/sentinel"
)

// OtpHandler authenticates with a one-time code previously delivered to the
// user's email. Codes are single use: consumption deletes them.
type OtpHandler struct {
	users    Users
	secrets  secrets.Store
	attempts AttemptRecorder
}

// NewOtpHandler creates the OTP method handler.
func NewOtpHandler(users Users, store secrets.Store, attempts AttemptRecorder) *OtpHandler {
	return &OtpHandler{users: users, secrets: store, attempts: attempts}
}

func (h *OtpHandler) Authenticate(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *Request) (*user.User, error) {
	if req.OtpCode == "" {
		return nil, unauthorized("otp code is required")
	}

	stored, err := h.secrets.Get(ctx, secrets.PurposeOTP, app.ID, req.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.recordFailure(ctx, app, req, ReasonInvalidOTP)
			return nil, unauthorized("invalid or expired otp code")
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(req.OtpCode)) != 1 {
		// A wrong guess must not burn the code; the legitimate attempt
		// still succeeds until the TTL runs out.
		h.recordFailure(ctx, app, req, ReasonInvalidOTP)
		return nil, unauthorized("invalid or expired otp code")
	}
	// Single use: delete only after the match.
	if err := h.secrets.Delete(ctx, secrets.PurposeOTP, app.ID, req.Email); err != nil {
		return nil, err
	}

	u, err := h.users.FindByEmail(ctx, app.ID, req.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.recordFailure(ctx, app, req, ReasonUserNotFound)
			return nil, unauthorized("invalid credentials")
		}
		return nil, err
	}
	return u, nil
}

func (h *OtpHandler) recordFailure(ctx context.Context, app *tenant.Application, req *Request, reason string) {
	if h.attempts != nil {
		h.attempts.RecordFailure(ctx, app.ID, req.Email, req.IPAddress, req.UserAgent, reason)
	}
}
