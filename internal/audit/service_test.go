package audit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"paycall/internal/pricing"
)

func TestService_AppendRequiresPrincipalAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminCredit}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{PrincipalID: "p"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_LogAdminCredit(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminCredit(context.Background(), "p1", "admin1", "admin", "1.2.3.4", "goodwill", pricing.MustCredits("5.00")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.Type != EventTypeAdminCredit || e.IPAddress != "1.2.3.4" || e.Amount != 500 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_LogSettlementFailedCarriesKey(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.LogSettlementFailed(context.Background(), "p1", "s1", "call:s1", pricing.MustCredits("2.40"), errors.New("db down"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	evs := repo.ForSession("s1")
	if len(evs) != 1 {
		t.Fatalf("expected 1 event for s1, got %d", len(evs))
	}
	if len(repo.ForSession("other")) != 0 {
		t.Fatal("unexpected events for another session")
	}
	e := evs[0]
	if e.SessionID != "s1" || e.Type != EventTypeSettlementFailed {
		t.Fatalf("unexpected event: %+v", e)
	}
	if !strings.Contains(e.Metadata, `"idempotency_key":"call:s1"`) || !strings.Contains(e.Metadata, "db down") {
		t.Fatalf("unexpected metadata: %s", e.Metadata)
	}
}
