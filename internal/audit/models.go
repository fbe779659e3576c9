package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - principal_id names the account the event concerns.
// - Audit writes are best-effort; callers never block a call or a payment on them.
type Event struct {
	ID          string    `json:"id" db:"id"`
	PrincipalID string    `json:"principal_id" db:"principal_id"`
	Type        EventType `json:"type" db:"type"`

	// ActorID is the authenticated user causing the event, empty for system events.
	ActorID   string `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	SessionID string `json:"session_id,omitempty" db:"session_id"`
	// Amount is in hundredths of a credit.
	Amount int64 `json:"amount,omitempty" db:"amount"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminCredit      EventType = "admin_credit"
	EventTypePaymentCredit    EventType = "payment_credit"
	EventTypeSettlementFailed EventType = "settlement_failed"
)
