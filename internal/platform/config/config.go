package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	JWTSigningKey string

	// Fallback TTLs when a tenant auth config leaves them unset.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Ephemeral one-time secret lifetimes.
	OtpTTL       time.Duration
	MagicLinkTTL time.Duration

	// Verification and password-reset token lifetimes.
	VerificationTokenTTL  time.Duration
	PasswordResetTokenTTL time.Duration

	// Admission defaults.
	DefaultRateLimitPerMinute int

	// Session maintenance sweep.
	CleanupInterval  time.Duration
	CleanupRetention time.Duration

	// Outbound email. Empty SMTPHost selects the console sender.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	// Link bases embedded in outbound email.
	BackendBaseURL  string
	FrontendBaseURL string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                      envOr("TOKENLY_ADDR", ":8080"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisURL:                  os.Getenv("REDIS_URL"),
		KafkaBrokers:              os.Getenv("KAFKA_BROKERS"),
		JWTSigningKey:             envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AccessTokenTTL:            envDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:           envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		OtpTTL:                    envDuration("OTP_TTL", 5*time.Minute),
		MagicLinkTTL:              envDuration("MAGIC_LINK_TTL", 15*time.Minute),
		VerificationTokenTTL:      envDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
		PasswordResetTokenTTL:     envDuration("PASSWORD_RESET_TOKEN_TTL", time.Hour),
		DefaultRateLimitPerMinute: envInt("DEFAULT_RATE_LIMIT_PER_MINUTE", 60),
		CleanupInterval:           envDuration("SESSION_CLEANUP_INTERVAL", time.Hour),
		CleanupRetention:          envDuration("SESSION_CLEANUP_RETENTION", 7*24*time.Hour),
		SMTPHost:                  os.Getenv("SMTP_HOST"),
		SMTPPort:                  envInt("SMTP_PORT", 587),
		SMTPUsername:              os.Getenv("SMTP_USERNAME"),
		SMTPPassword:              os.Getenv("SMTP_PASSWORD"),
		EmailFrom:                 envOr("EMAIL_FROM", "no-reply@localhost"),
		BackendBaseURL:            envOr("BACKEND_BASE_URL", "http://localhost:8080"),
		FrontendBaseURL:           envOr("FRONTEND_BASE_URL", "http://localhost:3000"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
