package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/session"
	"tokenly/pkg/domainerrors"
	"tokenly/pkg/sentinel"
)

const sessionColumns = `id, user_id, application_id, refresh_token_hash, token_family,
	revoked, revoked_at, replaced_by, expires_at, last_used_at, ip_address, user_agent, device_name, created_at`

// Postgres persists refresh sessions in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, sess *session.Session) error {
	if err := insertSession(ctx, s.db, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

func (s *Postgres) FindActiveByTokenHash(ctx context.Context, hash string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1 AND revoked = FALSE`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session by hash: %w", err)
	}
	return sess, nil
}

// ListForUser returns the user's non-revoked, unexpired sessions,
// newest first.
func (s *Postgres) ListForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*session.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

// Execute runs the rotation critical section inside one transaction. The
// presented session row is locked with FOR UPDATE, so concurrent rotations
// of the same token serialize: the first wins, the rest see a retired row.
// A non-nil hint from the cache locks by primary key; the row is verified
// against the token hash and a stale hint falls back to the hash lookup.
func (s *Postgres) Execute(
	ctx context.Context,
	tokenHash string,
	hint *uuid.UUID,
	now time.Time,
	validate func(current *session.Session, liveInFamily int) error,
	successor func(current *session.Session) *session.Session,
) (*session.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rotation tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current *session.Session
	if hint != nil {
		query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
		hinted, err := scanSession(tx.QueryRowContext(ctx, query, *hint))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock hinted session: %w", err)
		}
		if err == nil && hinted.TokenHash == tokenHash {
			current = hinted
		}
	}
	if current == nil {
		query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1 FOR UPDATE`
		current, err = scanSession(tx.QueryRowContext(ctx, query, tokenHash))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
			}
			return nil, fmt.Errorf("lock session for rotation: %w", err)
		}
	}

	var live int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE token_family = $1 AND revoked = FALSE`,
		current.FamilyID,
	).Scan(&live)
	if err != nil {
		return nil, fmt.Errorf("count live family sessions: %w", err)
	}

	if err := validate(current, live); err != nil {
		if domainerrors.HasCode(err, domainerrors.CodeReuseDetected) {
			if _, revokeErr := tx.ExecContext(ctx,
				`UPDATE sessions SET revoked = TRUE, revoked_at = $2 WHERE token_family = $1 AND revoked = FALSE`,
				current.FamilyID, now,
			); revokeErr != nil {
				return nil, fmt.Errorf("revoke family on reuse: %w", revokeErr)
			}
			if commitErr := tx.Commit(); commitErr != nil {
				return nil, fmt.Errorf("commit family revocation: %w", commitErr)
			}
		}
		return nil, err
	}

	next := successor(current)
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1`,
		current.ID, now, next.ID,
	); err != nil {
		return nil, fmt.Errorf("retire rotated session: %w", err)
	}

	if err := insertSession(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("insert successor session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return next, nil
}

func (s *Postgres) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (*session.Session, error) {
	query := `
		UPDATE sessions SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND revoked = FALSE
		RETURNING ` + sessionColumns
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already revoked or unknown: check which, revocation is idempotent.
			if existing, findErr := s.FindByID(ctx, id); findErr == nil {
				return existing, nil
			}
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return sess, nil
}

func (s *Postgres) RevokeFamily(ctx context.Context, familyID uuid.UUID, at time.Time) ([]*session.Session, error) {
	query := `
		UPDATE sessions SET revoked = TRUE, revoked_at = $2
		WHERE token_family = $1 AND revoked = FALSE
		RETURNING ` + sessionColumns
	return s.revokeMany(ctx, query, familyID, at)
}

func (s *Postgres) RevokeAllForUser(ctx context.Context, userID uuid.UUID, except *uuid.UUID, at time.Time) ([]*session.Session, error) {
	query := `
		UPDATE sessions SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE AND ($3::uuid IS NULL OR id <> $3)
		RETURNING ` + sessionColumns

	var exceptID any
	if except != nil {
		exceptID = *except
	}
	rows, err := s.db.QueryContext(ctx, query, userID, at, exceptID)
	if err != nil {
		return nil, fmt.Errorf("revoke user sessions: %w", err)
	}
	return collectSessions(rows)
}

func (s *Postgres) DeleteExpiredRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE revoked = TRUE AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows: %w", err)
	}
	return rows, nil
}

func (s *Postgres) revokeMany(ctx context.Context, query string, id uuid.UUID, at time.Time) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, id, at)
	if err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}
	return collectSessions(rows)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSession(ctx context.Context, db execer, sess *session.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := db.ExecContext(ctx, query,
		sess.ID,
		sess.UserID,
		sess.ApplicationID,
		sess.TokenHash,
		sess.FamilyID,
		sess.Revoked,
		nullTime(sess.RevokedAt),
		nullUUID(sess.ReplacedBy),
		sess.ExpiresAt,
		nullTime(sess.LastUsedAt),
		sess.IPAddress,
		sess.UserAgent,
		sess.DeviceName,
		sess.CreatedAt,
	)
	return err
}

type sessionRow interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRow) (*session.Session, error) {
	var (
		sess       session.Session
		revokedAt  sql.NullTime
		replacedBy uuid.NullUUID
		lastUsedAt sql.NullTime
	)
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.ApplicationID,
		&sess.TokenHash,
		&sess.FamilyID,
		&sess.Revoked,
		&revokedAt,
		&replacedBy,
		&sess.ExpiresAt,
		&lastUsedAt,
		&sess.IPAddress,
		&sess.UserAgent,
		&sess.DeviceName,
		&sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		sess.RevokedAt = &revokedAt.Time
	}
	if replacedBy.Valid {
		sess.ReplacedBy = &replacedBy.UUID
	}
	if lastUsedAt.Valid {
		sess.LastUsedAt = &lastUsedAt.Time
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*session.Session, error) {
	defer rows.Close()
	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
