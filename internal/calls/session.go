package calls

import (
	"errors"
	"time"

	"paycall/internal/pricing"
)

// StartRequest is what the UI supplies to place a call.
type StartRequest struct {
	PrincipalID    string
	Destination    string
	InitialBalance pricing.Credits
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	// Destination is normalized E.164.
	Destination string          `json:"destination"`
	Rate        pricing.Credits `json:"rate"`

	State  State  `json:"state"`
	Reason Reason `json:"reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`

	ElapsedSeconds   int64           `json:"elapsed_seconds"`
	Cost             pricing.Credits `json:"cost"`
	InitialBalance   pricing.Credits `json:"initial_balance"`
	ProjectedBalance pricing.Credits `json:"projected_balance"`

	Muted        bool   `json:"muted"`
	ErrorMessage string `json:"error_message,omitempty"`

	// abandonedInSetup marks a session that ended before its outbound leg
	// existed or whose connect attempt failed.
	abandonedInSetup bool
}

func (s Snapshot) connected() bool { return !s.ConnectedAt.IsZero() }

// Update is published to subscribers on every state change and tick.
type Update struct {
	SessionID        string          `json:"session_id"`
	State            State           `json:"state"`
	ElapsedSeconds   int64           `json:"elapsed_seconds"`
	Cost             pricing.Credits `json:"cost"`
	ProjectedBalance pricing.Credits `json:"projected_balance"`
	Muted            bool            `json:"muted"`
	ErrorMessage     string          `json:"error_message,omitempty"`
}

func (s Snapshot) update() Update {
	return Update{
		SessionID:        s.ID,
		State:            s.State,
		ElapsedSeconds:   s.ElapsedSeconds,
		Cost:             s.Cost,
		ProjectedBalance: s.ProjectedBalance,
		Muted:            s.Muted,
		ErrorMessage:     s.ErrorMessage,
	}
}

// Result is the final outcome published once per session.
type Result struct {
	SessionID        string          `json:"session_id"`
	State            State           `json:"state"`
	Reason           Reason          `json:"reason"`
	DurationSeconds  int64           `json:"duration_seconds"`
	Cost             pricing.Credits `json:"cost"`
	RemainingBalance pricing.Credits `json:"remaining_balance"`
	Charged          bool            `json:"charged"`
	Message          string          `json:"message"`
	Warnings         []string        `json:"warnings,omitempty"`

	errs []error
}

// Err joins the settlement warnings; nil when settlement was clean.
func (r Result) Err() error { return errors.Join(r.errs...) }

func (r *Result) warn(err error) {
	r.errs = append(r.errs, err)
	r.Warnings = append(r.Warnings, err.Error())
}
