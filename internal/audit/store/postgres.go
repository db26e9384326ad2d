package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokenly/internal/audit"
)

const logColumns = `id, application_id, user_id, email_attempted, ip_address, user_agent,
	status, failure_reason, created_at`

// Postgres persists login logs in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed login log store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Insert(ctx context.Context, e *audit.Entry) error {
	query := `
		INSERT INTO login_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var userID any
	if e.UserID != nil {
		userID = *e.UserID
	}
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.ApplicationID,
		userID,
		e.EmailAttempted,
		e.IPAddress,
		e.UserAgent,
		e.Status,
		e.FailureReason,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert login log: %w", err)
	}
	return nil
}

func (s *Postgres) ListForApplication(ctx context.Context, appID uuid.UUID, limit int) ([]*audit.Entry, error) {
	query := `
		SELECT ` + logColumns + `
		FROM login_logs
		WHERE application_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("list login logs: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			userID uuid.NullUUID
			reason sql.NullString
			ip     sql.NullString
			agent  sql.NullString
		)
		err := rows.Scan(&e.ID, &e.ApplicationID, &userID, &e.EmailAttempted,
			&ip, &agent, &e.Status, &reason, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan login log: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.UUID
		}
		e.FailureReason = reason.String
		e.IPAddress = ip.String
		e.UserAgent = agent.String
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate login logs: %w", err)
	}
	return out, nil
}

func (s *Postgres) CountRecentFailures(ctx context.Context, appID uuid.UUID, email string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_logs
		WHERE application_id = $1 AND email_attempted = $2 AND status = $3 AND created_at >= $4
	`, appID, email, audit.StatusFailure, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}

func (s *Postgres) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old login logs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old login logs rows: %w", err)
	}
	return rows, nil
}
