package wallet

import (
	"time"

	"paycall/internal/pricing"
)

// LedgerEntry is an immutable append-only row. Every balance change has one.
type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`
	PrincipalID string          `json:"principal_id" db:"principal_id"`
	Type        LedgerEntryType `json:"type" db:"type"`

	// Amount is signed: credits positive, debits negative.
	Amount pricing.Credits `json:"amount" db:"amount"`

	// ExternalRef is optional: session id, payment event id, admin_manual_credit.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is unique per principal.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit"
	LedgerEntryTypeDebit  LedgerEntryType = "debit"
)

// AdminAction tracks manual balance changes made by operators. The money
// movement itself is always a LedgerEntry; this row links to it.
type AdminAction struct {
	ID          string `json:"id" db:"id"`
	PrincipalID string `json:"principal_id" db:"principal_id"`

	AdminUserID string `json:"admin_user_id" db:"admin_user_id"`
	AdminRole   string `json:"admin_role" db:"admin_role"`

	Reason string          `json:"reason" db:"reason"`
	Amount pricing.Credits `json:"amount" db:"amount"`

	RelatedLedgerID string `json:"related_ledger_id" db:"related_ledger_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type CreditRequest struct {
	Amount         pricing.Credits `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

type AdminCreditRequest struct {
	Amount         pricing.Credits `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ChargeKey is the idempotency key for the settlement debit of one call.
func ChargeKey(sessionID string) string { return "call:" + sessionID }

const externalRefAdminCredit = "admin_manual_credit"
