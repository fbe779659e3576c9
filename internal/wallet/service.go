package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"paycall/internal/pricing"
	"paycall/pkg/utils"

	"github.com/google/uuid"
)

// Ledger is the full credit ledger surface. Service (Postgres) and MemoryLedger
// implement it.
type Ledger interface {
	GetBalance(ctx context.Context, principalID string) (pricing.Credits, error)
	Charge(ctx context.Context, principalID, sessionID string, amount pricing.Credits) (pricing.Credits, error)
	Credit(ctx context.Context, principalID string, req CreditRequest) (LedgerEntry, pricing.Credits, error)
	AdminManualCredit(ctx context.Context, principalID, adminUserID, adminRole string, req AdminCreditRequest) (AdminAction, LedgerEntry, pricing.Credits, error)
}

var (
	ErrInvalidArgument = errors.New("wallet: invalid argument")
)

// Service is the Postgres credit ledger.
//
// Money invariants:
// - No balance update without a ledger entry, both in one transaction.
// - The ledger is append-only.
// - Each (principal, idempotency key) posts at most once.
// - A charge never drives the balance below zero; it debits min(amount, balance).
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

func (s *Service) GetBalance(ctx context.Context, principalID string) (pricing.Credits, error) {
	if principalID == "" {
		return 0, ErrInvalidArgument
	}
	return readBalance(ctx, s.db, principalID)
}

func (s *Service) Credit(ctx context.Context, principalID string, req CreditRequest) (LedgerEntry, pricing.Credits, error) {
	if principalID == "" || req.IdempotencyKey == "" || req.Amount <= 0 {
		return LedgerEntry{}, 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var (
		out    LedgerEntry
		outBal pricing.Credits
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, principalID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			out, outBal = existing, bal
			return nil
		}

		entry := LedgerEntry{
			ID:             uuid.NewString(),
			PrincipalID:    principalID,
			Type:           LedgerEntryTypeCredit,
			Amount:         req.Amount,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, principalID, req.Amount, now)
		if err != nil {
			return err
		}
		out, outBal = entry, b
		return nil
	})
	return out, outBal, err
}

// Charge settles one call. A repeated charge for the same session returns the
// current balance without posting again.
func (s *Service) Charge(ctx context.Context, principalID, sessionID string, amount pricing.Credits) (pricing.Credits, error) {
	if principalID == "" || sessionID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	key := ChargeKey(sessionID)
	var outBal pricing.Credits

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		if _, ok, err := findLedgerByIdempotency(ctx, tx, principalID, key); err != nil {
			return err
		} else if ok {
			outBal = bal
			return nil
		}

		debit := chargeable(amount, bal)
		entry := LedgerEntry{
			ID:             uuid.NewString(),
			PrincipalID:    principalID,
			Type:           LedgerEntryTypeDebit,
			Amount:         -debit,
			ExternalRef:    sessionID,
			IdempotencyKey: key,
			Metadata:       chargeMetadata(amount, debit),
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, principalID, -debit, now)
		if err != nil {
			return err
		}
		outBal = b
		return nil
	})
	return outBal, err
}

func (s *Service) AdminManualCredit(ctx context.Context, principalID, adminUserID, adminRole string, req AdminCreditRequest) (AdminAction, LedgerEntry, pricing.Credits, error) {
	if err := validateAdminCredit(principalID, adminUserID, adminRole, req); err != nil {
		return AdminAction{}, LedgerEntry{}, 0, err
	}

	now := s.clock().UTC()
	var (
		outAction AdminAction
		outLedger LedgerEntry
		outBal    pricing.Credits
	)
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, principalID, now)
		if err != nil {
			return err
		}
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, principalID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger, outBal = existing, bal
			act, ok, err := findAdminActionByLedger(ctx, tx, principalID, existing.ID)
			if err != nil {
				return err
			}
			if ok {
				outAction = act
			}
			return nil
		}

		entry := LedgerEntry{
			ID:             uuid.NewString(),
			PrincipalID:    principalID,
			Type:           LedgerEntryTypeCredit,
			Amount:         req.Amount,
			ExternalRef:    externalRefAdminCredit,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, principalID, req.Amount, now)
		if err != nil {
			return err
		}

		action := AdminAction{
			ID:              uuid.NewString(),
			PrincipalID:     principalID,
			AdminUserID:     adminUserID,
			AdminRole:       adminRole,
			Reason:          req.Reason,
			Amount:          req.Amount,
			RelatedLedgerID: entry.ID,
			CreatedAt:       now,
		}
		if err := insertAdminAction(ctx, tx, action); err != nil {
			return err
		}
		outAction, outLedger, outBal = action, entry, b
		return nil
	})
	return outAction, outLedger, outBal, err
}

func validateAdminCredit(principalID, adminUserID, adminRole string, req AdminCreditRequest) error {
	if principalID == "" || adminUserID == "" || adminRole == "" {
		return ErrInvalidArgument
	}
	if req.Reason == "" || req.IdempotencyKey == "" || req.Amount <= 0 {
		return ErrInvalidArgument
	}
	return nil
}

// chargeable clamps a debit to the available balance.
func chargeable(amount, balance pricing.Credits) pricing.Credits {
	if balance <= 0 {
		return 0
	}
	if amount > balance {
		return balance
	}
	return amount
}

func chargeMetadata(requested, debited pricing.Credits) string {
	if requested == debited {
		return ""
	}
	raw, _ := json.Marshal(map[string]string{
		"requested": requested.String(),
		"debited":   debited.String(),
	})
	return string(raw)
}
