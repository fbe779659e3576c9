package telephony

import (
	"context"
	"errors"
	"time"
)

// Adapter is the provider-agnostic boundary the call controller consumes.
//
// Rules:
// - No provider SDK or transport details leak past this interface.
// - Every method may block indefinitely; callers bound them with their own deadlines.
// - A credential is scoped to one principal identity and is short-lived.
type Adapter interface {
	AcquireCredential(ctx context.Context, principalID string) (Credential, error)
	Open(ctx context.Context, cred Credential) (Device, error)
}

// Device is an opened softphone endpoint able to place one outbound call.
type Device interface {
	Connect(ctx context.Context, destination string) (Connection, error)
	Close() error
}

// Connection is a live outbound call leg.
type Connection interface {
	// Events delivers lifecycle events in arrival order.
	Events() <-chan Event
	Hangup(ctx context.Context) error
	SendTone(ctx context.Context, digits string) error
	SetMuted(ctx context.Context, muted bool) error
}

// Credential is a capability token authorizing one telephony session.
type Credential struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EventType string

const (
	EventRinging      EventType = "ringing"
	EventAccepted     EventType = "accepted"
	EventDisconnected EventType = "disconnected"
	EventRejected     EventType = "rejected"
	EventError        EventType = "error"
)

// Event is a connection lifecycle event.
type Event struct {
	Type EventType
	// Reason is optional detail for disconnected/rejected events.
	Reason string
	// Err is set for EventError.
	Err error
	// At is when the event reached this process.
	At time.Time
}

var (
	ErrNoSoftphone    = errors.New("telephony: no softphone connected for principal")
	ErrDeviceRejected = errors.New("telephony: device setup rejected")
	ErrClosed         = errors.New("telephony: connection closed")
	ErrInvalidNumber  = errors.New("telephony: invalid phone number")
)
