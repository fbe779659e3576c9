package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used when DATABASE_URL is unset and in tests.
type MemoryRepo struct {
	mu  sync.RWMutex
	log []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.log = append(r.log, e)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot in append order.
func (r *MemoryRepo) Events() []Event { return r.filter(func(Event) bool { return true }) }

// ForSession returns the events recorded against one call session.
func (r *MemoryRepo) ForSession(sessionID string) []Event {
	return r.filter(func(e Event) bool { return e.SessionID == sessionID })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.log {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
