package wallet

import (
	"context"
	"sync"
	"time"

	"paycall/internal/pricing"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger with the same invariants as Service.
// Used for local runs without Postgres and in tests.
type MemoryLedger struct {
	mu       sync.Mutex
	clock    func() time.Time
	balances map[string]pricing.Credits
	entries  []LedgerEntry
	byKey    map[string]int
	actions  []AdminAction
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		clock:    time.Now,
		balances: map[string]pricing.Credits{},
		byKey:    map[string]int{},
	}
}

func (m *MemoryLedger) GetBalance(_ context.Context, principalID string) (pricing.Credits, error) {
	if principalID == "" {
		return 0, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[principalID], nil
}

func (m *MemoryLedger) Credit(_ context.Context, principalID string, req CreditRequest) (LedgerEntry, pricing.Credits, error) {
	if principalID == "" || req.IdempotencyKey == "" || req.Amount <= 0 {
		return LedgerEntry{}, 0, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.lookup(principalID, req.IdempotencyKey); ok {
		return e, m.balances[principalID], nil
	}
	e := m.post(principalID, LedgerEntryTypeCredit, req.Amount, req.ExternalRef, req.IdempotencyKey, req.Metadata)
	return e, m.balances[principalID], nil
}

func (m *MemoryLedger) Charge(_ context.Context, principalID, sessionID string, amount pricing.Credits) (pricing.Credits, error) {
	if principalID == "" || sessionID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ChargeKey(sessionID)
	if _, ok := m.lookup(principalID, key); ok {
		return m.balances[principalID], nil
	}
	debit := chargeable(amount, m.balances[principalID])
	m.post(principalID, LedgerEntryTypeDebit, -debit, sessionID, key, chargeMetadata(amount, debit))
	return m.balances[principalID], nil
}

func (m *MemoryLedger) AdminManualCredit(_ context.Context, principalID, adminUserID, adminRole string, req AdminCreditRequest) (AdminAction, LedgerEntry, pricing.Credits, error) {
	if err := validateAdminCredit(principalID, adminUserID, adminRole, req); err != nil {
		return AdminAction{}, LedgerEntry{}, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.lookup(principalID, req.IdempotencyKey); ok {
		for _, a := range m.actions {
			if a.RelatedLedgerID == e.ID {
				return a, e, m.balances[principalID], nil
			}
		}
		return AdminAction{}, e, m.balances[principalID], nil
	}

	e := m.post(principalID, LedgerEntryTypeCredit, req.Amount, externalRefAdminCredit, req.IdempotencyKey, "")
	a := AdminAction{
		ID:              uuid.NewString(),
		PrincipalID:     principalID,
		AdminUserID:     adminUserID,
		AdminRole:       adminRole,
		Reason:          req.Reason,
		Amount:          req.Amount,
		RelatedLedgerID: e.ID,
		CreatedAt:       e.CreatedAt,
	}
	m.actions = append(m.actions, a)
	return a, e, m.balances[principalID], nil
}

// Entries returns the principal's ledger rows in posting order.
func (m *MemoryLedger) Entries(principalID string) []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerEntry, 0)
	for _, e := range m.entries {
		if e.PrincipalID == principalID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLedger) lookup(principalID, key string) (LedgerEntry, bool) {
	i, ok := m.byKey[principalID+"|"+key]
	if !ok {
		return LedgerEntry{}, false
	}
	return m.entries[i], true
}

// post must be called with mu held.
func (m *MemoryLedger) post(principalID string, typ LedgerEntryType, amount pricing.Credits, ref, key, meta string) LedgerEntry {
	e := LedgerEntry{
		ID:             uuid.NewString(),
		PrincipalID:    principalID,
		Type:           typ,
		Amount:         amount,
		ExternalRef:    ref,
		IdempotencyKey: key,
		Metadata:       meta,
		CreatedAt:      m.clock().UTC(),
	}
	m.byKey[principalID+"|"+key] = len(m.entries)
	m.entries = append(m.entries, e)
	m.balances[principalID] += amount
	return e
}
