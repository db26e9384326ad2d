package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tokenly/internal/tenant"
	"tokenly/pkg/sentinel"
)

// Postgres persists tenant data in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tenant store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) SaveApplication(ctx context.Context, app *tenant.Application) error {
	query := `
		INSERT INTO applications (id, name, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status
	`
	_, err := s.db.ExecContext(ctx, query, app.ID, app.Name, app.Status, app.CreatedAt)
	if err != nil {
		return fmt.Errorf("save application: %w", err)
	}
	return nil
}

func (s *Postgres) FindApplication(ctx context.Context, id uuid.UUID) (*tenant.Application, error) {
	query := `SELECT id, name, status, created_at FROM applications WHERE id = $1`
	var app tenant.Application
	err := s.db.QueryRowContext(ctx, query, id).Scan(&app.ID, &app.Name, &app.Status, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("application not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return &app, nil
}

func (s *Postgres) SaveKey(ctx context.Context, key *tenant.Key) error {
	origins, err := json.Marshal(key.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("marshal allowed origins: %w", err)
	}
	query := `
		INSERT INTO api_keys
			(id, application_id, key_name, public_key, secret_key_hash, active,
			 scopes, allowed_origins, rate_limit_per_minute, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (public_key) DO UPDATE SET active = EXCLUDED.active, expires_at = EXCLUDED.expires_at
	`
	_, err = s.db.ExecContext(ctx, query,
		key.ID,
		key.ApplicationID,
		key.Name,
		key.PublicKey,
		key.SecretKeyHash,
		key.Active,
		joinScopes(key.Scopes),
		origins,
		key.RateLimitPerMinute,
		key.ExpiresAt,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

func (s *Postgres) FindActiveKey(ctx context.Context, publicKey string) (*tenant.Key, error) {
	query := `
		SELECT id, application_id, key_name, public_key, secret_key_hash, active,
		       scopes, allowed_origins, rate_limit_per_minute, expires_at, created_at
		FROM api_keys
		WHERE public_key = $1 AND active = TRUE
	`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, publicKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return key, nil
}

func (s *Postgres) FindKeyBySecretHash(ctx context.Context, secretHash string) (*tenant.Key, error) {
	query := `
		SELECT id, application_id, key_name, public_key, secret_key_hash, active,
		       scopes, allowed_origins, rate_limit_per_minute, expires_at, created_at
		FROM api_keys
		WHERE secret_key_hash = $1 AND active = TRUE
	`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, secretHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return key, nil
}

func (s *Postgres) RevokeKey(ctx context.Context, publicKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE public_key = $1`, publicKey)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) SaveConfig(ctx context.Context, cfg *tenant.AuthConfig) error {
	query := `
		INSERT INTO auth_configs
			(application_id, auth_mode, login_method, password_hash_algorithm,
			 access_token_ttl_minutes, refresh_token_ttl_minutes, refresh_token_enabled,
			 signup_enabled, email_verification_required, custom_claim_names, oauth_client_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (application_id) DO UPDATE SET
			auth_mode = EXCLUDED.auth_mode,
			login_method = EXCLUDED.login_method,
			password_hash_algorithm = EXCLUDED.password_hash_algorithm,
			access_token_ttl_minutes = EXCLUDED.access_token_ttl_minutes,
			refresh_token_ttl_minutes = EXCLUDED.refresh_token_ttl_minutes,
			refresh_token_enabled = EXCLUDED.refresh_token_enabled,
			signup_enabled = EXCLUDED.signup_enabled,
			email_verification_required = EXCLUDED.email_verification_required,
			custom_claim_names = EXCLUDED.custom_claim_names,
			oauth_client_id = EXCLUDED.oauth_client_id
	`
	_, err := s.db.ExecContext(ctx, query,
		cfg.ApplicationID,
		string(cfg.AuthMode),
		string(cfg.LoginMethod),
		string(cfg.HashAlgorithm),
		cfg.AccessTokenTTLMinutes,
		cfg.RefreshTokenTTLMinutes,
		cfg.RefreshTokenEnabled,
		cfg.SignupEnabled,
		cfg.EmailVerificationRequired,
		strings.Join(cfg.CustomClaimNames, ","),
		cfg.OAuthClientID,
	)
	if err != nil {
		return fmt.Errorf("save auth config: %w", err)
	}
	return nil
}

func (s *Postgres) FindConfig(ctx context.Context, appID uuid.UUID) (*tenant.AuthConfig, error) {
	query := `
		SELECT application_id, auth_mode, login_method, password_hash_algorithm,
		       access_token_ttl_minutes, refresh_token_ttl_minutes, refresh_token_enabled,
		       signup_enabled, email_verification_required, custom_claim_names, oauth_client_id
		FROM auth_configs
		WHERE application_id = $1
	`
	var (
		cfg        tenant.AuthConfig
		mode       string
		method     string
		algorithm  string
		claimNames string
	)
	err := s.db.QueryRowContext(ctx, query, appID).Scan(
		&cfg.ApplicationID,
		&mode,
		&method,
		&algorithm,
		&cfg.AccessTokenTTLMinutes,
		&cfg.RefreshTokenTTLMinutes,
		&cfg.RefreshTokenEnabled,
		&cfg.SignupEnabled,
		&cfg.EmailVerificationRequired,
		&claimNames,
		&cfg.OAuthClientID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auth config not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find auth config: %w", err)
	}

	// Stored values are validated on read so a bad row surfaces as a config
	// error instead of a silently defaulted strategy.
	if cfg.AuthMode, err = tenant.ParseAuthMode(mode); err != nil {
		return nil, err
	}
	if cfg.LoginMethod, err = tenant.ParseLoginMethod(method); err != nil {
		return nil, err
	}
	if cfg.HashAlgorithm, err = tenant.ParseHashAlgorithm(algorithm); err != nil {
		return nil, err
	}
	cfg.CustomClaimNames = splitClaims(claimNames)
	return &cfg, nil
}

type keyRow interface {
	Scan(dest ...any) error
}

func scanKey(row keyRow) (*tenant.Key, error) {
	var (
		key       tenant.Key
		scopes    string
		origins   []byte
		rateLimit sql.NullInt64
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&key.ID,
		&key.ApplicationID,
		&key.Name,
		&key.PublicKey,
		&key.SecretKeyHash,
		&key.Active,
		&scopes,
		&origins,
		&rateLimit,
		&expiresAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(origins) > 0 {
		if err := json.Unmarshal(origins, &key.AllowedOrigins); err != nil {
			return nil, fmt.Errorf("unmarshal allowed origins: %w", err)
		}
	}
	for _, s := range splitClaims(scopes) {
		key.Scopes = append(key.Scopes, tenant.KeyScope(s))
	}
	if rateLimit.Valid {
		key.RateLimitPerMinute = int(rateLimit.Int64)
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	return &key, nil
}

func joinScopes(scopes []tenant.KeyScope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// splitClaims parses a stored comma-separated list, dropping blanks.
func splitClaims(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
