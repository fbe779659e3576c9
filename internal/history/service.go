package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRecord   = errors.New("history: invalid record")
	ErrInvalidRequest  = errors.New("history: invalid request")
	ErrAlreadyRecorded = errors.New("history: session already recorded")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Repository stores records. Insert must reject a second record for the same session.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, principalID string, before time.Time, limit int) ([]Record, error)
	ListRange(ctx context.Context, principalID string, from, to time.Time) ([]Record, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

// Record persists one session summary.
func (s *Service) Record(ctx context.Context, rec Record) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if rec.SessionID == "" || rec.PrincipalID == "" || rec.Destination == "" {
		return ErrInvalidRecord
	}
	if !rec.Status.Valid() || rec.DurationSeconds < 0 || rec.Cost < 0 || rec.Rate < 0 {
		return ErrInvalidRecord
	}
	if rec.Status != StatusCompleted && (rec.DurationSeconds != 0 || rec.Cost != 0) {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	return s.repo.Insert(ctx, rec)
}

func (s *Service) List(ctx context.Context, req ListRequest) ([]Record, error) {
	if req.PrincipalID == "" || req.Limit < 0 {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	before := req.Before
	if before.IsZero() {
		before = s.clock().UTC().Add(time.Second)
	}
	return s.repo.List(ctx, req.PrincipalID, before, limit)
}

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.PrincipalID == "" {
		return Summary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Summary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Summary{}, errors.New("history: repository not configured")
	}

	rows, err := s.repo.ListRange(ctx, req.PrincipalID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{PrincipalID: req.PrincipalID}
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		out.TotalSpend += r.Cost
		switch r.Status {
		case StatusCompleted:
			out.CompletedCalls++
		case StatusNoAnswer:
			out.NoAnswerCalls++
		case StatusFailed:
			out.FailedCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.CompletedCalls)
	}
	return out, nil
}
