// Package tenant holds the tenant-side data model: applications, their API
// keys, and their authentication configuration. An application is an isolated
// namespace owning its own end users, auth config, and keys.
package tenant

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokenly/pkg/sentinel"
)

// AppStatus is the lifecycle state of an application.
type AppStatus string

const (
	AppActive   AppStatus = "ACTIVE"
	AppInactive AppStatus = "INACTIVE"
)

// Application is a tenant namespace.
type Application struct {
	ID        uuid.UUID
	Name      string
	Status    AppStatus
	CreatedAt time.Time
}

// Active reports whether the application accepts end-user traffic.
func (a *Application) Active() bool {
	return a.Status == AppActive
}

// AuthMode selects the token-issuance strategy for an application.
type AuthMode string

const (
	ModeJWT      AuthMode = "JWT"
	ModeAPIToken AuthMode = "API_TOKEN"
	ModeSession  AuthMode = "SESSION"
)

// ParseAuthMode maps a stored configuration string onto the enum. An unknown
// value is a configuration error, never silently coerced; the empty value
// defaults to JWT.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case ModeJWT, ModeAPIToken, ModeSession:
		return AuthMode(s), nil
	case "":
		return ModeJWT, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q: %w", s, sentinel.ErrInvalidInput)
	}
}

// LoginMethod selects how an end user proves identity.
type LoginMethod string

const (
	MethodPassword  LoginMethod = "PASSWORD"
	MethodOTP       LoginMethod = "OTP"
	MethodMagicLink LoginMethod = "MAGIC_LINK"
	MethodOAuth     LoginMethod = "OAUTH"
)

// ParseLoginMethod maps a stored configuration string onto the enum, with the
// empty value defaulting to PASSWORD.
func ParseLoginMethod(s string) (LoginMethod, error) {
	switch LoginMethod(s) {
	case MethodPassword, MethodOTP, MethodMagicLink, MethodOAuth:
		return LoginMethod(s), nil
	case "":
		return MethodPassword, nil
	default:
		return "", fmt.Errorf("unknown login method %q: %w", s, sentinel.ErrInvalidInput)
	}
}

// HashAlgorithm identifies the password hashing scheme for an application.
type HashAlgorithm string

const (
	HashBcrypt HashAlgorithm = "BCRYPT"
	HashArgon2 HashAlgorithm = "ARGON2"
	HashPBKDF2 HashAlgorithm = "PBKDF2"
)

// ParseHashAlgorithm maps a stored configuration string onto the enum,
// defaulting to bcrypt when unset.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(s) {
	case HashBcrypt, HashArgon2, HashPBKDF2:
		return HashAlgorithm(s), nil
	case "":
		return HashBcrypt, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q: %w", s, sentinel.ErrInvalidInput)
	}
}

// KeyScope restricts what an API key may do.
type KeyScope string

const (
	ScopeAuthRead   KeyScope = "AUTH_READ"
	ScopeAuthWrite  KeyScope = "AUTH_WRITE"
	ScopeUserRead   KeyScope = "USER_READ"
	ScopeUserWrite  KeyScope = "USER_WRITE"
	ScopeUserDelete KeyScope = "USER_DELETE"
	ScopeAdmin      KeyScope = "ADMIN"
)

// Key is an application's API key. Immutable once active except Active and
// ExpiresAt, which change on revocation.
type Key struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	Name          string
	PublicKey     string
	SecretKeyHash string
	Active        bool
	Scopes        []KeyScope

	// AllowedOrigins is the browser Origin allow-list. Empty means no
	// restriction; the single entry "*" is an explicit wildcard.
	AllowedOrigins []string

	// RateLimitPerMinute overrides the deployment default when > 0.
	RateLimitPerMinute int

	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the key has passed its expiry, if one is set.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// AuthConfig is an application's authentication configuration, one-to-one
// with the application. It is read on every authentication request.
type AuthConfig struct {
	ApplicationID uuid.UUID

	AuthMode      AuthMode
	LoginMethod   LoginMethod
	HashAlgorithm HashAlgorithm

	AccessTokenTTLMinutes  int
	RefreshTokenTTLMinutes int
	RefreshTokenEnabled    bool

	SignupEnabled             bool
	EmailVerificationRequired bool

	// CustomClaimNames is the ordered list of claim names injected into
	// access tokens, resolved against well-known user attributes first and
	// the user's custom data second.
	CustomClaimNames []string

	OAuthClientID string
}

// AccessTokenTTL returns the configured access token lifetime, or the given
// fallback when unset.
func (c *AuthConfig) AccessTokenTTL(fallback time.Duration) time.Duration {
	if c != nil && c.AccessTokenTTLMinutes > 0 {
		return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
	}
	return fallback
}

// RefreshTokenTTL returns the configured refresh token lifetime, or the given
// fallback when unset.
func (c *AuthConfig) RefreshTokenTTL(fallback time.Duration) time.Duration {
	if c != nil && c.RefreshTokenTTLMinutes > 0 {
		return time.Duration(c.RefreshTokenTTLMinutes) * time.Minute
	}
	return fallback
}

// DefaultAuthConfig returns the configuration used when an application has
// none stored: JWT mode with password login.
func DefaultAuthConfig(appID uuid.UUID) *AuthConfig {
	return &AuthConfig{
		ApplicationID:       appID,
		AuthMode:            ModeJWT,
		LoginMethod:         MethodPassword,
		HashAlgorithm:       HashBcrypt,
		RefreshTokenEnabled: true,
		SignupEnabled:       true,
	}
}
