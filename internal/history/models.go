package history

import (
	"time"

	"paycall/internal/pricing"
)

// Record is the write-once summary of one call session.
type Record struct {
	ID          string `json:"id" db:"id"`
	SessionID   string `json:"session_id" db:"session_id"`
	PrincipalID string `json:"principal_id" db:"principal_id"`
	Destination string `json:"destination" db:"destination"`

	// DurationSeconds is the billed connected time, zero when the call never connected.
	DurationSeconds int64           `json:"duration_seconds" db:"duration_seconds"`
	Cost            pricing.Credits `json:"cost" db:"cost"`
	Rate            pricing.Credits `json:"rate" db:"rate"`

	Status Status `json:"status" db:"status"`
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Status string

const (
	// StatusCompleted is a call that connected and then ended.
	StatusCompleted Status = "completed"
	// StatusNoAnswer ended before it was answered.
	StatusNoAnswer Status = "no_answer"
	StatusFailed   Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusNoAnswer, StatusFailed:
		return true
	default:
		return false
	}
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ListRequest pages a principal's history, newest first.
type ListRequest struct {
	PrincipalID string
	Limit       int
	Before      time.Time
}

type SummaryRequest struct {
	PrincipalID string    `json:"principal_id"`
	Range       TimeRange `json:"range"`
}

type Summary struct {
	PrincipalID string `json:"principal_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	FailedCalls    int `json:"failed_calls"`

	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`

	TotalSpend pricing.Credits `json:"total_spend"`
}
