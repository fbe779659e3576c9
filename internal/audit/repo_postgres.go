package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to audit_events. The table has no UPDATE/DELETE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, principal_id, type, actor_id, actor_role, ip_address,
			session_id, amount, message, metadata, created_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, '')::jsonb, $11)
	`, e.ID, e.PrincipalID, string(e.Type), e.ActorID, e.ActorRole, e.IPAddress,
		e.SessionID, e.Amount, e.Message, e.Metadata, e.CreatedAt)
	return err
}
