package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/auth"
	"tokenly/internal/authflow"
	"tokenly/internal/gateway"
	"tokenly/internal/login"
	"tokenly/internal/session"
	"tokenly/internal/tenant"
	"tokenly/internal/token"
	"tokenly/internal/user"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/validation"
)

// AuthService is the domain surface the endpoints delegate to.
type AuthService interface {
	Login(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *login.Request) (*authflow.Result, error)
	Refresh(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, refreshToken string) (*authflow.Result, error)
	RequestOtp(ctx context.Context, app *tenant.Application, email string) error
	RequestMagicLink(ctx context.Context, app *tenant.Application, email string) error
	Signup(ctx context.Context, app *tenant.Application, cfg *tenant.AuthConfig, req *auth.SignupRequest) (*user.User, error)
	VerifyEmail(ctx context.Context, verificationToken string) (*user.User, error)
	ResendVerification(ctx context.Context, app *tenant.Application, email string) error
	RequestPasswordReset(ctx context.Context, app *tenant.Application, email string) error
	ResetPassword(ctx context.Context, cfg *tenant.AuthConfig, resetToken, newPassword string) error
	ChangePassword(ctx context.Context, cfg *tenant.AuthConfig, userID uuid.UUID, currentPassword, newPassword string) error
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*session.Session, error)
	Profile(ctx context.Context, userID uuid.UUID) (*user.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, customData map[string]any) (*user.User, error)
}

// TokenValidator verifies bearer access tokens on self-service endpoints.
type TokenValidator interface {
	ValidateToken(tokenString string) (*token.Claims, error)
}

type loginRequest struct {
	Email          string `json:"email" validate:"omitempty,email"`
	Password       string `json:"password"`
	OtpCode        string `json:"otpCode"`
	MagicLinkToken string `json:"magicLinkToken"`
	ProviderToken  string `json:"providerToken"`
}

type signupRequest struct {
	Email      string         `json:"email" validate:"required,email"`
	Password   string         `json:"password" validate:"omitempty,min=8"`
	CustomData map[string]any `json:"customData"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,notblank"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

type updateProfileRequest struct {
	CustomData map[string]any `json:"customData"`
}

type userResponse struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"emailVerified"`
	Status        string         `json:"status"`
	CustomData    map[string]any `json:"customData,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func toUserResponse(u *user.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Status:        string(u.Status),
		CustomData:    u.CustomData,
		CreatedAt:     u.CreatedAt,
	}
}

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"deviceName"`
	IPAddress  string    `json:"ipAddress"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// decodeValid decodes the body into req and validates it.
func decodeValid(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return domainerrors.New(domainerrors.CodeInvalidInput, "invalid request body")
	}
	return validation.Validate(req)
}

// tenantFrom pulls the gateway-authenticated application and its config.
func (h *Handler) tenantFrom(r *http.Request) (*tenant.Application, *tenant.AuthConfig, error) {
	app := gateway.ApplicationFrom(r.Context())
	if app == nil {
		return nil, nil, domainerrors.New(domainerrors.CodeUnauthorized, "missing application context")
	}
	cfg, err := h.configFor(r.Context(), app.ID)
	if err != nil {
		return nil, nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load auth config")
	}
	return app, cfg, nil
}

// bearerToken extracts the Authorization bearer value.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", domainerrors.New(domainerrors.CodeUnauthorized, "missing bearer token")
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}

// subjectFrom validates the bearer access token and returns its user id.
func (h *Handler) subjectFrom(r *http.Request) (uuid.UUID, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return uuid.Nil, err
	}
	claims, err := h.tokens.ValidateToken(raw)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domainerrors.New(domainerrors.CodeInvalidToken, "malformed token subject")
	}
	return userID, nil
}

func (h *Handler) handleAppInfo(w http.ResponseWriter, r *http.Request) {
	app, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appName":                   app.Name,
		"authMode":                  cfg.AuthMode,
		"loginMethod":               cfg.LoginMethod,
		"signupEnabled":             cfg.SignupEnabled,
		"emailVerificationRequired": cfg.EmailVerificationRequired,
		"refreshTokenEnabled":       cfg.RefreshTokenEnabled,
	})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	app, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req signupRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.auth.Signup(r.Context(), app, cfg, &auth.SignupRequest{
		Email:      req.Email,
		Password:   req.Password,
		CustomData: req.CustomData,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	app, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req loginRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), app, cfg, &login.Request{
		Email:          req.Email,
		Password:       req.Password,
		OtpCode:        req.OtpCode,
		MagicLinkToken: req.MagicLinkToken,
		ProviderToken:  req.ProviderToken,
		IPAddress:      clientIP(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRequestOtp(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req emailRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.RequestOtp(r.Context(), app, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

func (h *Handler) handleRequestMagicLink(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req emailRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.RequestMagicLink(r.Context(), app, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "magic link sent"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	app, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	refreshToken, err := bearerToken(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Refresh(r.Context(), app, cfg, refreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := bearerToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.Logout(r.Context(), refreshToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subjectFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	revoked, err := h.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "logged out from all devices",
		"sessionsRevoked": revoked,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subjectFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sessions, err := h.auth.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		lastUsed := s.CreatedAt
		if s.LastUsedAt != nil {
			lastUsed = *s.LastUsedAt
		}
		out = append(out, sessionResponse{
			ID:         s.ID.String(),
			DeviceName: s.DeviceName,
			IPAddress:  s.IPAddress,
			LastUsedAt: lastUsed,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	verificationToken := r.URL.Query().Get("token")
	if verificationToken == "" {
		writeError(w, domainerrors.New(domainerrors.CodeInvalidInput, "token is required"))
		return
	}
	u, err := h.auth.VerifyEmail(r.Context(), verificationToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req emailRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), app, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "verification email sent"})
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	app, _, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req emailRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), app, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "if the email is registered, a reset link was sent"})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	_, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req resetPasswordRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), cfg, req.Token, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	_, cfg, err := h.tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := h.subjectFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req changePasswordRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), cfg, userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subjectFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := h.auth.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subjectFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateProfileRequest
	if err := decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.auth.UpdateProfile(r.Context(), userID, req.CustomData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
