// Package gateway is the inbound filter in front of every end-user
// authentication endpoint. It resolves the tenant API key from the
// X-API-KEY header, enforces the key's rate limit and origin allow-list,
// and attaches the owning application to the request context.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/platform/metrics"
	"tokenly/internal/ratelimit"
	"tokenly/internal/tenant"
	"tokenly/pkg/tokenhash"
)

// HeaderAPIKey is the request header carrying the tenant API key.
const HeaderAPIKey = "X-API-KEY"

// KeyResolver looks up API keys and their owning applications.
type KeyResolver interface {
	FindActiveKey(ctx context.Context, publicKey string) (*tenant.Key, error)
	FindKeyBySecretHash(ctx context.Context, secretHash string) (*tenant.Key, error)
	FindApplication(ctx context.Context, id uuid.UUID) (*tenant.Application, error)
}

// Gateway validates tenant API keys on inbound requests.
type Gateway struct {
	resolver KeyResolver
	limiter  ratelimit.Limiter

	defaultLimit int
	publicPaths  map[string]struct{}
	skipPrefixes []string

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithDefaultLimit sets the per-minute rate limit applied to keys that do
// not carry their own override.
func WithDefaultLimit(limit int) Option {
	return func(g *Gateway) { g.defaultLimit = limit }
}

// WithPublicPaths replaces the set of exact paths the gateway skips.
func WithPublicPaths(paths ...string) Option {
	return func(g *Gateway) {
		g.publicPaths = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			g.publicPaths[p] = struct{}{}
		}
	}
}

// WithSkipPrefixes replaces the path prefixes the gateway skips. These cover
// the tenant-admin and provisioning namespaces, which authenticate with an
// admin bearer token instead of an end-user API key.
func WithSkipPrefixes(prefixes ...string) Option {
	return func(g *Gateway) { g.skipPrefixes = prefixes }
}

// New creates a gateway backed by the given key resolver and rate limiter.
func New(resolver KeyResolver, limiter ratelimit.Limiter, opts ...Option) *Gateway {
	g := &Gateway{
		resolver:     resolver,
		limiter:      limiter,
		defaultLimit: 60,
		publicPaths: map[string]struct{}{
			"/healthz": {},
			"/readyz":  {},
			"/metrics": {},
			// Hit from email links in a bare browser, no key present.
			"/api/auth/verify-email": {},
		},
		skipPrefixes: []string{"/api/admin/", "/api/clients/", "/api/applications"},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware returns the chi-compatible handler wrapper.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		key, app, ok := g.authenticate(w, r)
		if !ok {
			return
		}

		if !g.checkRateLimit(w, r, key) {
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(key.AllowedOrigins, origin) {
			if g.metrics != nil {
				g.metrics.OriginsRejected.Inc()
			}
			g.logger.WarnContext(r.Context(), "origin rejected",
				"origin", origin,
				"public_key", key.PublicKey,
			)
			writeError(w, http.StatusForbidden, "forbidden", "Origin not allowed for this API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), app, key)))
	})
}

// skip reports whether the request bypasses API key enforcement: CORS
// preflight, the public-path allow-list, and admin namespaces.
func (g *Gateway) skip(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	if _, ok := g.publicPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range g.skipPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// authenticate resolves the presented key to an active key and application.
// On failure it writes the response and returns ok=false.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) (*tenant.Key, *tenant.Application, bool) {
	ctx := r.Context()

	raw := r.Header.Get(HeaderAPIKey)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing API key")
		return nil, nil, false
	}

	var (
		key *tenant.Key
		err error
	)
	switch {
	case strings.HasPrefix(raw, tenant.PublicKeyPrefix):
		key, err = g.resolver.FindActiveKey(ctx, raw)
	case strings.HasPrefix(raw, tenant.SecretKeyPrefix):
		key, err = g.resolver.FindKeyBySecretHash(ctx, tokenhash.Hash(raw))
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized", "Malformed API key")
		return nil, nil, false
	}
	if err != nil {
		g.logger.WarnContext(ctx, "api key rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
		return nil, nil, false
	}
	if key.Expired(g.now()) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "API key expired")
		return nil, nil, false
	}

	app, err := g.resolver.FindApplication(ctx, key.ApplicationID)
	if err != nil {
		g.logger.ErrorContext(ctx, "application lookup failed",
			"application_id", key.ApplicationID,
			"error", err,
		)
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
		return nil, nil, false
	}
	if !app.Active() {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Application is inactive")
		return nil, nil, false
	}

	return key, app, true
}

func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, key *tenant.Key) bool {
	limit := key.RateLimitPerMinute
	if limit <= 0 {
		limit = g.defaultLimit
	}

	result, err := g.limiter.Allow(r.Context(), key.PublicKey, limit)
	if err != nil {
		// Fail open: the limiter is a guard rail, not an availability
		// dependency.
		g.logger.ErrorContext(r.Context(), "rate limit check failed", "error", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if !result.Allowed {
		if g.metrics != nil {
			g.metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": message,
	})
}
