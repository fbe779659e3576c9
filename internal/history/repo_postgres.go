package history

import (
	"context"
	"database/sql"
	"time"

	"paycall/internal/pricing"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, rec Record) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO call_history (
			id, session_id, principal_id, destination, duration_seconds,
			cost, rate, status, reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		ON CONFLICT (session_id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.PrincipalID, rec.Destination, rec.DurationSeconds,
		int64(rec.Cost), int64(rec.Rate), string(rec.Status), rec.Reason, rec.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyRecorded
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, principalID string, before time.Time, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, principal_id, destination, duration_seconds,
			cost, rate, status, COALESCE(reason, ''), created_at
		FROM call_history
		WHERE principal_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, principalID, before, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *PostgresRepo) ListRange(ctx context.Context, principalID string, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, principal_id, destination, duration_seconds,
			cost, rate, status, COALESCE(reason, ''), created_at
		FROM call_history
		WHERE principal_id = $1 AND created_at >= $2 AND created_at < $3
	`, principalID, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec        Record
			cost, rate int64
			status     string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.PrincipalID, &rec.Destination, &rec.DurationSeconds,
			&cost, &rate, &status, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Cost = pricing.Credits(cost)
		rec.Rate = pricing.Credits(rate)
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
