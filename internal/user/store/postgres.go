package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"tokenly/internal/user"
	"tokenly/pkg/sentinel"
)

const userColumns = `
	id, application_id, email, password_hash, email_verified, status,
	custom_data, verification_token, verification_token_expiry,
	password_reset_token, password_reset_token_expiry, created_at
`

// Postgres persists end users in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Save(ctx context.Context, u *user.User) error {
	customData, err := u.EncodeCustomData()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			email_verified = EXCLUDED.email_verified,
			status = EXCLUDED.status,
			custom_data = EXCLUDED.custom_data,
			verification_token = EXCLUDED.verification_token,
			verification_token_expiry = EXCLUDED.verification_token_expiry,
			password_reset_token = EXCLUDED.password_reset_token,
			password_reset_token_expiry = EXCLUDED.password_reset_token_expiry
	`
	_, err = s.db.ExecContext(ctx, query,
		u.ID,
		u.ApplicationID,
		u.Email,
		nullString(u.PasswordHash),
		u.EmailVerified,
		string(u.Status),
		customData,
		nullString(u.VerificationToken),
		u.VerificationTokenExpiry,
		nullString(u.PasswordResetToken),
		u.PasswordResetTokenExpiry,
		u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("email already registered: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.findOne(ctx, query, id)
}

func (s *Postgres) FindByEmail(ctx context.Context, appID uuid.UUID, email string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE application_id = $1 AND lower(email) = lower($2)`
	return s.findOne(ctx, query, appID, email)
}

func (s *Postgres) ExistsByEmail(ctx context.Context, appID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE application_id = $1 AND lower(email) = lower($2))`,
		appID, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists by email: %w", err)
	}
	return exists, nil
}

// FindOrCreate inserts the candidate unless a user with the email already
// exists in the application. The unique index on (application_id, email)
// arbitrates concurrent creation.
func (s *Postgres) FindOrCreate(ctx context.Context, appID uuid.UUID, email string, candidate *user.User) (*user.User, bool, error) {
	existing, err := s.FindByEmail(ctx, appID, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, err
	}

	if err := s.Save(ctx, candidate); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// Lost the race; the winner's row is authoritative.
			existing, ferr := s.FindByEmail(ctx, appID, email)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return candidate, true, nil
}

func (s *Postgres) FindByVerificationToken(ctx context.Context, token string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE verification_token = $1`
	return s.findOne(ctx, query, token)
}

func (s *Postgres) FindByPasswordResetToken(ctx context.Context, token string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE password_reset_token = $1`
	return s.findOne(ctx, query, token)
}

func (s *Postgres) findOne(ctx context.Context, query string, args ...any) (*user.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

type userRow interface {
	Scan(dest ...any) error
}

func scanUser(row userRow) (*user.User, error) {
	var (
		u                 user.User
		passwordHash      sql.NullString
		status            string
		customData        []byte
		verificationToken sql.NullString
		verificationExp   sql.NullTime
		resetToken        sql.NullString
		resetExp          sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.ApplicationID,
		&u.Email,
		&passwordHash,
		&u.EmailVerified,
		&status,
		&customData,
		&verificationToken,
		&verificationExp,
		&resetToken,
		&resetExp,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.Status = user.Status(status)
	u.VerificationToken = verificationToken.String
	u.PasswordResetToken = resetToken.String
	if verificationExp.Valid {
		u.VerificationTokenExpiry = &verificationExp.Time
	}
	if resetExp.Valid {
		u.PasswordResetTokenExpiry = &resetExp.Time
	}
	if err := u.DecodeCustomData(customData); err != nil {
		return nil, err
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
