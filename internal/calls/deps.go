package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paycall/internal/history"
	"paycall/internal/pricing"
	"paycall/internal/telephony"
)

// Ledger is the credit ledger surface the controller settles against.
type Ledger interface {
	GetBalance(ctx context.Context, principalID string) (pricing.Credits, error)
	// Charge debits amount for sessionID at most once and returns the new balance.
	Charge(ctx context.Context, principalID, sessionID string, amount pricing.Credits) (pricing.Credits, error)
}

type HistoryRecorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// RateSource resolves the per-minute rate for a normalized destination.
type RateSource interface {
	RateFor(destination string) pricing.Credits
}

// SettlementAuditor receives a reconciliation marker when a charge is not written.
type SettlementAuditor interface {
	LogSettlementFailed(ctx context.Context, principalID, sessionID, idempotencyKey string, amount pricing.Credits, cause error) error
}

// Deps are the collaborators of one controller. Adapter, Ledger, History and
// Rates are required.
type Deps struct {
	Adapter telephony.Adapter
	Ledger  Ledger
	History HistoryRecorder
	Rates   RateSource
	Audit   SettlementAuditor

	Now    func() time.Time
	Logger *slog.Logger

	SetupTimeout  time.Duration
	TickInterval  time.Duration
	SettleTimeout time.Duration
}

const (
	DefaultSetupTimeout  = 15 * time.Second
	DefaultTickInterval  = time.Second
	DefaultSettleTimeout = 10 * time.Second
)

func (d Deps) withDefaults() (Deps, error) {
	if d.Adapter == nil || d.Ledger == nil || d.History == nil || d.Rates == nil {
		return Deps{}, errors.New("calls: adapter, ledger, history and rates are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.SetupTimeout <= 0 {
		d.SetupTimeout = DefaultSetupTimeout
	}
	if d.TickInterval <= 0 {
		d.TickInterval = DefaultTickInterval
	}
	if d.SettleTimeout <= 0 {
		d.SettleTimeout = DefaultSettleTimeout
	}
	return d, nil
}
