package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"paycall/internal/pricing"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are not exposed to callers.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.PrincipalID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminCredit records a manual credit adjustment made by an operator.
func (s *Service) LogAdminCredit(ctx context.Context, principalID, actorID, actorRole, ip, reason string, amount pricing.Credits) error {
	return s.Append(ctx, Event{
		PrincipalID: principalID,
		Type:        EventTypeAdminCredit,
		ActorID:     actorID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Amount:      int64(amount),
		Message:     reason,
	})
}

// LogPaymentCredit records a top-up applied from the payment webhook.
func (s *Service) LogPaymentCredit(ctx context.Context, principalID, eventID string, amount pricing.Credits) error {
	meta, _ := json.Marshal(map[string]string{"event_id": eventID})
	return s.Append(ctx, Event{
		PrincipalID: principalID,
		Type:        EventTypePaymentCredit,
		Amount:      int64(amount),
		Message:     "payment credited",
		Metadata:    string(meta),
	})
}

// LogSettlementFailed leaves a reconciliation marker for a call whose charge
// could not be written. The ledger idempotency key is carried in metadata so a
// retry cannot double charge.
func (s *Service) LogSettlementFailed(ctx context.Context, principalID, sessionID, idempotencyKey string, amount pricing.Credits, cause error) error {
	meta := map[string]string{"idempotency_key": idempotencyKey}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	raw, _ := json.Marshal(meta)
	return s.Append(ctx, Event{
		PrincipalID: principalID,
		Type:        EventTypeSettlementFailed,
		SessionID:   sessionID,
		Amount:      int64(amount),
		Message:     "call charge not written",
		Metadata:    string(raw),
	})
}
