package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps records in process. Reads are principal-scoped.
type MemoryRepo struct {
	mu        sync.Mutex
	records   []Record
	bySession map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{bySession: map[string]struct{}{}} }

func (r *MemoryRepo) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[rec.SessionID]; ok {
		return ErrAlreadyRecorded
	}
	r.bySession[rec.SessionID] = struct{}{}
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, principalID string, before time.Time, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.PrincipalID != principalID || !rec.CreatedAt.Before(before) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListRange(_ context.Context, principalID string, from, to time.Time) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.PrincipalID != principalID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Records returns every stored record, for tests.
func (r *MemoryRepo) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}
