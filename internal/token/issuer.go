// Package token mints and validates the deployment's tokens: signed JWT
// access tokens for end users, admin tokens for tenant owners, and opaque
// refresh tokens. All signing uses one symmetric key for the whole
// deployment; per-tenant signing keys are a deliberate non-feature.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tokenly/internal/tenant"
	"tokenly/internal/user"
	"tokenly/pkg/domainerrors"
)

// TypeClient marks tokens issued to the tenant owner identity, used only by
// the tenant-management endpoints.
const TypeClient = "client"

// Claims is the validated content of an access token.
type Claims struct {
	Subject       string
	ApplicationID string
	Email         string
	TokenType     string
	ExpiresAt     time.Time
	Custom        map[string]any
}

// Issuer mints and validates tokens with the deployment signing key.
type Issuer struct {
	signingKey []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// New creates an issuer. defaultTTL applies when a tenant config carries no
// access token TTL of its own.
func New(signingKey string, defaultTTL time.Duration, opts ...Option) *Issuer {
	i := &Issuer{
		signingKey: []byte(signingKey),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueAccessToken mints a signed access token for an end user. The tenant's
// custom claim names are resolved against well-known user attributes first,
// then the user's custom data; names that resolve nowhere are omitted.
func (i *Issuer) IssueAccessToken(u *user.User, app *tenant.Application, cfg *tenant.AuthConfig) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub":    u.ID.String(),
		"app_id": app.ID.String(),
		"email":  u.Email,
		"iat":    jwt.NewNumericDate(now),
		"exp":    jwt.NewNumericDate(now.Add(cfg.AccessTokenTTL(i.defaultTTL))),
	}
	if cfg != nil {
		for _, name := range cfg.CustomClaimNames {
			if value, ok := resolveClaim(u, name); ok {
				claims[name] = value
			}
		}
	}
	return i.sign(claims)
}

// IssueClientToken mints an admin token for the tenant owner identity,
// distinguished by the embedded type marker.
func (i *Issuer) IssueClientToken(appID uuid.UUID) (string, error) {
	now := i.now()
	return i.sign(jwt.MapClaims{
		"sub":  appID.String(),
		"type": TypeClient,
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(i.defaultTTL)),
	})
}

// IssueRefreshToken returns an opaque random token. It carries no structure;
// the session store only ever looks it up by hash.
func (i *Issuer) IssueRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "generate refresh token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateToken parses and verifies an access token. The signing algorithm
// is pinned to HS256; an attacker-chosen alg header is rejected before key
// material is touched.
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidToken, "empty token")
	}

	raw := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, raw, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainerrors.New(domainerrors.CodeInvalidToken, "token expired")
		}
		return nil, domainerrors.New(domainerrors.CodeInvalidToken, "invalid token")
	}
	if !parsed.Valid {
		return nil, domainerrors.New(domainerrors.CodeInvalidToken, "invalid token")
	}

	return claimsFromMap(raw), nil
}

func (i *Issuer) sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "sign token")
	}
	return signed, nil
}

// resolveClaim maps a custom claim name onto its value. Well-known user
// attributes take priority over the custom data blob.
func resolveClaim(u *user.User, name string) (any, bool) {
	switch name {
	case "id":
		return u.ID.String(), true
	case "email":
		return u.Email, true
	case "status":
		return string(u.Status), true
	case "verified", "email_verified":
		return u.EmailVerified, true
	}
	value, ok := u.CustomData[name]
	return value, ok
}

func claimsFromMap(raw jwt.MapClaims) *Claims {
	c := &Claims{Custom: map[string]any{}}
	for name, value := range raw {
		switch name {
		case "sub":
			c.Subject, _ = value.(string)
		case "app_id":
			c.ApplicationID, _ = value.(string)
		case "email":
			c.Email, _ = value.(string)
		case "type":
			c.TokenType, _ = value.(string)
		case "exp":
			if exp, ok := value.(float64); ok {
				c.ExpiresAt = time.Unix(int64(exp), 0)
			}
		case "iat":
		default:
			c.Custom[name] = value
		}
	}
	return c
}
