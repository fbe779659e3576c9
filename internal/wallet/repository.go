package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paycall/internal/pricing"
)

// Tables: credit_balances (projection, one row per principal), credit_ledger
// (append-only, UNIQUE (principal_id, idempotency_key)), admin_credit_actions.

func readBalance(ctx context.Context, db *sql.DB, principalID string) (pricing.Credits, error) {
	const q = `SELECT balance FROM credit_balances WHERE principal_id = $1`
	var bal int64
	if err := db.QueryRowContext(ctx, q, principalID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return pricing.Credits(bal), nil
}

// lockBalance creates the projection row if needed and locks it, serializing
// money operations per principal.
func lockBalance(ctx context.Context, tx *sql.Tx, principalID string, now time.Time) (pricing.Credits, error) {
	const ensure = `
INSERT INTO credit_balances (principal_id, balance, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (principal_id) DO NOTHING
`
	if _, err := tx.ExecContext(ctx, ensure, principalID, now); err != nil {
		return 0, err
	}

	const q = `
SELECT balance
FROM credit_balances
WHERE principal_id = $1
FOR UPDATE
`
	var bal int64
	if err := tx.QueryRowContext(ctx, q, principalID).Scan(&bal); err != nil {
		return 0, err
	}
	return pricing.Credits(bal), nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, principalID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, principal_id, type, amount, COALESCE(external_ref, ''), idempotency_key, COALESCE(metadata::text, ''), created_at
FROM credit_ledger
WHERE principal_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var (
		e      LedgerEntry
		amount int64
	)
	err := tx.QueryRowContext(ctx, q, principalID, key).Scan(
		&e.ID,
		&e.PrincipalID,
		&e.Type,
		&amount,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	e.Amount = pricing.Credits(amount)
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO credit_ledger (
  id, principal_id, type, amount, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, '')::jsonb, $8
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.PrincipalID,
		string(e.Type),
		int64(e.Amount),
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, principalID string, delta pricing.Credits, now time.Time) (pricing.Credits, error) {
	const q = `
UPDATE credit_balances
SET balance = balance + $2, updated_at = $3
WHERE principal_id = $1
RETURNING balance
`
	var bal int64
	if err := tx.QueryRowContext(ctx, q, principalID, int64(delta), now).Scan(&bal); err != nil {
		return 0, err
	}
	return pricing.Credits(bal), nil
}

func insertAdminAction(ctx context.Context, tx *sql.Tx, a AdminAction) error {
	const q = `
INSERT INTO admin_credit_actions (
  id, principal_id, admin_user_id, admin_role, reason, amount, related_ledger_id, created_at
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8
)
`
	_, err := tx.ExecContext(ctx, q,
		a.ID,
		a.PrincipalID,
		a.AdminUserID,
		a.AdminRole,
		a.Reason,
		int64(a.Amount),
		a.RelatedLedgerID,
		a.CreatedAt,
	)
	return err
}

func findAdminActionByLedger(ctx context.Context, tx *sql.Tx, principalID, ledgerID string) (AdminAction, bool, error) {
	const q = `
SELECT id, principal_id, admin_user_id, admin_role, reason, amount, related_ledger_id, created_at
FROM admin_credit_actions
WHERE principal_id = $1 AND related_ledger_id = $2
LIMIT 1
`
	var (
		a      AdminAction
		amount int64
	)
	err := tx.QueryRowContext(ctx, q, principalID, ledgerID).Scan(
		&a.ID,
		&a.PrincipalID,
		&a.AdminUserID,
		&a.AdminRole,
		&a.Reason,
		&amount,
		&a.RelatedLedgerID,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminAction{}, false, nil
		}
		return AdminAction{}, false, err
	}
	a.Amount = pricing.Credits(amount)
	return a, true, nil
}
