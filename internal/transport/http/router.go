// Package httptransport is the thin HTTP layer. Handlers decode, validate,
// delegate to domain services, and encode; business rules stay below.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenly/internal/platform/metrics"
	"tokenly/internal/platform/middleware"
	"tokenly/internal/tenant"
	"tokenly/pkg/sentinel"
)

const requestTimeout = 30 * time.Second

// ConfigResolver loads a tenant's auth configuration. Tenants without a
// stored row run on defaults.
type ConfigResolver interface {
	FindConfig(ctx context.Context, appID uuid.UUID) (*tenant.AuthConfig, error)
}

// Handler carries the dependencies of the auth endpoints.
type Handler struct {
	auth    AuthService
	tokens  TokenValidator
	configs ConfigResolver
	logger  *slog.Logger
}

// NewHandler builds the HTTP handler set.
func NewHandler(auth AuthService, tokens TokenValidator, configs ConfigResolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{auth: auth, tokens: tokens, configs: configs, logger: logger}
}

// NewRouter wires every endpoint with the shared middleware stack. The
// gateway middleware authenticates API keys and enforces rate limits and
// origins; it skips the health and metrics paths itself.
func NewRouter(h *Handler, gatewayMW func(http.Handler) http.Handler, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Latency(m))
	if gatewayMW != nil {
		r.Use(gatewayMW)
	}

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/app-info", h.handleAppInfo)
		r.Post("/signup", h.handleSignup)
		r.Post("/login", h.handleLogin)
		r.Post("/request-otp", h.handleRequestOtp)
		r.Post("/request-magic-link", h.handleRequestMagicLink)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout-all", h.handleLogoutAll)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/verify-email", h.handleVerifyEmail)
		r.Post("/resend-verification", h.handleResendVerification)
		r.Post("/forgot-password", h.handleForgotPassword)
		r.Post("/reset-password", h.handleResetPassword)
		r.Put("/change-password", h.handleChangePassword)
		r.Get("/profile", h.handleGetProfile)
		r.Put("/profile", h.handleUpdateProfile)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// configFor loads the tenant's auth config, falling back to defaults when
// none is stored yet.
func (h *Handler) configFor(ctx context.Context, appID uuid.UUID) (*tenant.AuthConfig, error) {
	cfg, err := h.configs.FindConfig(ctx, appID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return tenant.DefaultAuthConfig(appID), nil
		}
		return nil, err
	}
	return cfg, nil
}
