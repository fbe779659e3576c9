package calls

import (
	"context"
	"fmt"

	"paycall/internal/history"
	"paycall/internal/pricing"
	"paycall/internal/wallet"
)

const msgNoCharge = "could not start call (no charge)"

// settle runs exactly once, after the loop has exited. A session that never
// got past setup leaves no ledger entry and no history record. Ledger and
// history failures become warnings; the session is never reopened and nothing
// is retried here. It uses its own deadline so a departed caller cannot abort it.
func (c *Controller) settle() Result {
	c.mu.Lock()
	if c.settled {
		res := c.result
		c.mu.Unlock()
		return res
	}
	c.settled = true
	snap := c.sess
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.deps.SettleTimeout)
	defer cancel()

	res := Result{
		SessionID:        snap.ID,
		State:            snap.State,
		Reason:           snap.Reason,
		RemainingBalance: snap.InitialBalance,
	}
	rec := history.Record{
		SessionID:   snap.ID,
		PrincipalID: snap.PrincipalID,
		Destination: snap.Destination,
		Rate:        snap.Rate,
		Reason:      string(snap.Reason),
		CreatedAt:   snap.EndedAt.UTC(),
	}

	if !snap.connected() {
		res.Message = msgNoCharge
		if snap.abandonedInSetup {
			c.log.Debug("call abandoned during setup, nothing to record")
			return res
		}
		if snap.State == StateEnded {
			rec.Status = history.StatusNoAnswer
		} else {
			rec.Status = history.StatusFailed
		}
		c.recordHistory(ctx, rec, &res)
		return res
	}

	res.DurationSeconds = snap.ElapsedSeconds
	res.Cost = snap.Cost
	minutes := pricing.BilledMinutes(snap.ElapsedSeconds)
	res.Message = fmt.Sprintf("call ended, charged for %d minute(s)", minutes)

	amount := snap.Cost
	if amount > snap.InitialBalance {
		amount = snap.InitialBalance
	}
	res.RemainingBalance = snap.InitialBalance - amount

	if amount > 0 {
		bal, err := c.deps.Ledger.Charge(ctx, snap.PrincipalID, snap.ID, amount)
		if err != nil {
			res.warn(fmt.Errorf("%w: %v", ErrLedgerWrite, err))
			res.Message = fmt.Sprintf("call ended, %d minute(s) billed; charge pending", minutes)
			c.log.Error("settlement charge failed", "amount", amount, "err", err)
			c.auditSettlementFailure(ctx, snap, amount, err)
		} else {
			res.Charged = true
			res.RemainingBalance = bal
		}
	}

	rec.Status = history.StatusCompleted
	rec.DurationSeconds = snap.ElapsedSeconds
	rec.Cost = snap.Cost
	c.recordHistory(ctx, rec, &res)

	c.log.Info("call settled",
		"duration_seconds", res.DurationSeconds,
		"cost", res.Cost,
		"charged", res.Charged,
		"remaining_balance", res.RemainingBalance,
	)
	return res
}

func (c *Controller) recordHistory(ctx context.Context, rec history.Record, res *Result) {
	if err := c.deps.History.Record(ctx, rec); err != nil {
		res.warn(fmt.Errorf("%w: %v", ErrHistoryWrite, err))
		c.log.Warn("call history write failed", "err", err)
	}
}

func (c *Controller) auditSettlementFailure(ctx context.Context, snap Snapshot, amount pricing.Credits, cause error) {
	if c.deps.Audit == nil {
		return
	}
	if err := c.deps.Audit.LogSettlementFailed(ctx, snap.PrincipalID, snap.ID, wallet.ChargeKey(snap.ID), amount, cause); err != nil {
		c.log.Error("settlement audit failed", "err", err)
	}
}
