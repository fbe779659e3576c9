package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paycall/internal/history"
	"paycall/internal/pricing"
	"paycall/internal/telephony"
	"paycall/internal/wallet"
)

func TestStartRejectsBadInput(t *testing.T) {
	h := newHarness(t, "10.00")
	cases := []StartRequest{
		{PrincipalID: "", Destination: ukNumber},
		{PrincipalID: "p1", Destination: "not-a-number"},
		{PrincipalID: "p1", Destination: ukNumber, InitialBalance: -1},
	}
	for _, req := range cases {
		c, err := NewController(h.deps)
		if err != nil {
			t.Fatalf("controller: %v", err)
		}
		if _, err := c.Start(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Start(%+v) err = %v, want ErrInvalidInput", req, err)
		}
		if c.Started() {
			t.Fatalf("Start(%+v) left the controller started", req)
		}
	}
}

func TestUKCallBilledPerStartedMinute(t *testing.T) {
	h := newHarness(t, "10.00")
	c, _ := h.connected(t, ukNumber)

	h.clock.Advance(90 * time.Second)
	waitFor(t, "metering", func() bool { return c.Snapshot().ElapsedSeconds == 90 })
	if got := c.Snapshot().ProjectedBalance; got != pricing.MustCredits("7.60") {
		t.Fatalf("projected balance = %s, want 7.60", got)
	}
	c.Hangup()

	res := waitResult(t, c)
	if res.State != StateEnded || res.Reason != ReasonUserHangup {
		t.Fatalf("result = %s/%s, want ended/user_hangup", res.State, res.Reason)
	}
	if res.DurationSeconds != 90 {
		t.Fatalf("duration = %d, want 90", res.DurationSeconds)
	}
	if res.Cost != pricing.MustCredits("2.40") {
		t.Fatalf("cost = %s, want 2.40", res.Cost)
	}
	if !res.Charged || res.RemainingBalance != pricing.MustCredits("7.60") {
		t.Fatalf("charged=%v remaining=%s, want true 7.60", res.Charged, res.RemainingBalance)
	}
	if res.Message != "call ended, charged for 2 minute(s)" {
		t.Fatalf("message = %q", res.Message)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected settlement warning: %v", err)
	}
	if h.ledger.chargeCount() != 1 {
		t.Fatalf("charges = %d, want 1", h.ledger.chargeCount())
	}

	recs := h.history.all()
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Status != history.StatusCompleted || recs[0].Cost != pricing.MustCredits("2.40") || recs[0].DurationSeconds != 90 {
		t.Fatalf("history record = %+v", recs[0])
	}
}

func TestCreditExhaustionEndsCall(t *testing.T) {
	h := newHarness(t, "2.00")
	c, conn := h.connected(t, defaultRated)
	if got := c.AffordableSeconds(); got != 60 {
		t.Fatalf("affordable = %d, want 60", got)
	}

	h.clock.Advance(59 * time.Second)
	waitFor(t, "metering", func() bool { return c.Snapshot().ElapsedSeconds == 59 })
	time.Sleep(10 * time.Millisecond)
	if st := c.Snapshot().State; st != StateConnected {
		t.Fatalf("state at 59s = %s, want connected", st)
	}

	h.clock.Advance(time.Second)
	res := waitResult(t, c)
	if res.Reason != ReasonCreditExhausted {
		t.Fatalf("reason = %s, want credit_exhausted", res.Reason)
	}
	if res.DurationSeconds != 60 || res.Cost != pricing.MustCredits("2.00") {
		t.Fatalf("duration=%d cost=%s, want 60 2.00", res.DurationSeconds, res.Cost)
	}
	if res.RemainingBalance != 0 {
		t.Fatalf("remaining = %s, want 0.00", res.RemainingBalance)
	}
	waitFor(t, "adapter hangup", func() bool { return conn.hangupCount() == 1 })
}

func TestLateTickBillsRealDuration(t *testing.T) {
	h := newHarness(t, "3.00")
	c, conn := h.connected(t, defaultRated)

	h.clock.Advance(75 * time.Second)
	res := waitResult(t, c)
	if res.Reason != ReasonCreditExhausted {
		t.Fatalf("reason = %s, want credit_exhausted", res.Reason)
	}
	if res.DurationSeconds != 75 || res.Cost != pricing.MustCredits("4.00") {
		t.Fatalf("duration=%d cost=%s, want 75 4.00", res.DurationSeconds, res.Cost)
	}
	if res.RemainingBalance != 0 || !res.Charged {
		t.Fatalf("remaining=%s charged=%v, want 0.00 true", res.RemainingBalance, res.Charged)
	}
	if bal := h.ledger.balance("p1"); bal != 0 {
		t.Fatalf("ledger balance = %s, want 0.00", bal)
	}
	if snap := c.Snapshot(); snap.ProjectedBalance != 0 {
		t.Fatalf("projected balance = %s, want floor at 0.00", snap.ProjectedBalance)
	}
	waitFor(t, "adapter hangup", func() bool { return conn.hangupCount() == 1 })
}

func TestZeroBalanceEndsOnConnect(t *testing.T) {
	h := newHarness(t, "0.00")
	c, _ := h.connected(t, ukNumber)

	res := waitResult(t, c)
	if res.Reason != ReasonCreditExhausted {
		t.Fatalf("reason = %s, want credit_exhausted", res.Reason)
	}
	if res.Cost != 0 || res.Charged {
		t.Fatalf("cost=%s charged=%v, want nothing billed", res.Cost, res.Charged)
	}
	if h.ledger.chargeCount() != 0 {
		t.Fatalf("ledger charged %d times for a zero amount", h.ledger.chargeCount())
	}
}

func TestSetupFailuresAreNeverCharged(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeAdapter)
		want  error
	}{
		{"credential", func(a *fakeAdapter) { a.credErr = errBoom }, ErrCredential},
		{"device", func(a *fakeAdapter) { a.openErr = telephony.ErrNoSoftphone }, ErrDevice},
		{"connect", func(a *fakeAdapter) { a.connectErr = errBoom }, ErrConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, "10.00")
			tc.setup(h.adapter)

			c, err := h.start(t, ukNumber)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			res := waitResult(t, c)
			if res.State != StateFailed || res.Reason != ReasonSetupError {
				t.Fatalf("result = %s/%s, want failed/setup_error", res.State, res.Reason)
			}
			if res.Message != msgNoCharge || res.Charged {
				t.Fatalf("message=%q charged=%v", res.Message, res.Charged)
			}
			if h.ledger.chargeCount() != 0 {
				t.Fatalf("ledger charged on setup failure")
			}
			if recs := h.history.all(); len(recs) != 0 {
				t.Fatalf("history records after setup failure = %d (%+v), want 0", len(recs), recs)
			}
		})
	}
}

func TestSetupTimeout(t *testing.T) {
	h := newHarness(t, "10.00")
	h.deps.SetupTimeout = 30 * time.Millisecond
	h.adapter.blockOpen = true

	c, err := h.start(t, ukNumber)
	if !errors.Is(err, ErrSetupTimeout) {
		t.Fatalf("err = %v, want ErrSetupTimeout", err)
	}
	res := waitResult(t, c)
	if res.State != StateFailed || res.Reason != ReasonSetupError {
		t.Fatalf("result = %s/%s", res.State, res.Reason)
	}
}

func TestHangupDuringSetupCancels(t *testing.T) {
	h := newHarness(t, "10.00")
	h.deps.SetupTimeout = time.Minute
	h.adapter.blockOpen = true

	c, err := NewController(h.deps)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background(), StartRequest{PrincipalID: "p1", Destination: ukNumber, InitialBalance: pricing.MustCredits("10.00")})
		errCh <- err
	}()

	waitFor(t, "setup", func() bool { return c.Snapshot().State == StateAcquiringCredential })
	c.Hangup()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Start err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after hangup")
	}

	res := waitResult(t, c)
	if res.State != StateEnded || res.Reason != ReasonUserHangup || res.Charged {
		t.Fatalf("result = %+v", res)
	}
	if recs := h.history.all(); len(recs) != 0 {
		t.Fatalf("history = %+v, want none for a call cancelled during setup", recs)
	}
}

func TestStartContextCancelledHangsUp(t *testing.T) {
	h := newHarness(t, "10.00")
	h.deps.SetupTimeout = time.Minute
	h.adapter.blockOpen = true

	c, err := NewController(h.deps)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Start(ctx, StartRequest{PrincipalID: "p1", Destination: ukNumber}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	res := waitResult(t, c)
	if res.Reason != ReasonUserHangup {
		t.Fatalf("reason = %s, want user_hangup", res.Reason)
	}
}

func TestRemoteOutcomesBeforeAnswer(t *testing.T) {
	cases := []struct {
		event telephony.EventType
		want  Reason
	}{
		{telephony.EventRejected, ReasonRemoteRejected},
		{telephony.EventDisconnected, ReasonRemoteHangup},
	}
	for _, tc := range cases {
		t.Run(string(tc.event), func(t *testing.T) {
			h := newHarness(t, "10.00")
			c, err := h.start(t, ukNumber)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			conn := h.adapter.lastConn()
			conn.emit(telephony.EventRinging)
			conn.emit(tc.event)

			res := waitResult(t, c)
			if res.State != StateEnded || res.Reason != tc.want {
				t.Fatalf("result = %s/%s, want ended/%s", res.State, res.Reason, tc.want)
			}
			if res.Charged || h.ledger.chargeCount() != 0 {
				t.Fatal("unanswered call was charged")
			}
			recs := h.history.all()
			if len(recs) != 1 || recs[0].Status != history.StatusNoAnswer {
				t.Fatalf("history = %+v", recs)
			}
			if conn.hangupCount() != 0 {
				t.Fatal("remote-ended leg should not be hung up again")
			}
		})
	}
}

func TestNetworkError(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		h := newHarness(t, "10.00")
		c, conn := h.connected(t, ukNumber)
		h.clock.Advance(10 * time.Second)
		conn.events <- telephony.Event{Type: telephony.EventError, Err: telephony.ErrClosed}

		res := waitResult(t, c)
		if res.State != StateEnded || res.Reason != ReasonNetworkError {
			t.Fatalf("result = %s/%s, want ended/network_error", res.State, res.Reason)
		}
		if !res.Charged || res.Cost != pricing.MustCredits("1.20") {
			t.Fatalf("charged=%v cost=%s, want one minute billed", res.Charged, res.Cost)
		}
	})
	t.Run("before answer", func(t *testing.T) {
		h := newHarness(t, "10.00")
		c, err := h.start(t, ukNumber)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		h.adapter.lastConn().events <- telephony.Event{Type: telephony.EventError, Reason: "ice failed"}

		res := waitResult(t, c)
		if res.State != StateFailed || res.Reason != ReasonNetworkError {
			t.Fatalf("result = %s/%s, want failed/network_error", res.State, res.Reason)
		}
		if c.Snapshot().ErrorMessage != "ice failed" {
			t.Fatalf("error message = %q", c.Snapshot().ErrorMessage)
		}
	})
}

func TestSettlementHappensOnce(t *testing.T) {
	h := newHarness(t, "10.00")
	c, conn := h.connected(t, ukNumber)
	h.clock.Advance(30 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Hangup()
		}()
	}
	conn.emit(telephony.EventDisconnected)
	wg.Wait()

	res := waitResult(t, c)
	if res.Reason != ReasonUserHangup && res.Reason != ReasonRemoteHangup {
		t.Fatalf("reason = %s", res.Reason)
	}
	if h.ledger.chargeCount() != 1 {
		t.Fatalf("charges = %d, want exactly 1", h.ledger.chargeCount())
	}
	if n := len(h.history.all()); n != 1 {
		t.Fatalf("history records = %d, want 1", n)
	}

	c.Hangup()
	again := waitResult(t, c)
	if again.Cost != res.Cost || again.Reason != res.Reason {
		t.Fatalf("result changed after a late hangup: %+v vs %+v", again, res)
	}
	if h.ledger.chargeCount() != 1 {
		t.Fatal("late hangup charged again")
	}
}

func TestLedgerFailureBecomesWarning(t *testing.T) {
	h := newHarness(t, "10.00")
	h.ledger.chargeErr = errBoom
	c, _ := h.connected(t, ukNumber)
	h.clock.Advance(45 * time.Second)
	c.Hangup()

	res := waitResult(t, c)
	if res.State != StateEnded {
		t.Fatalf("state = %s, want ended", res.State)
	}
	if res.Charged {
		t.Fatal("charged should be false when the ledger write failed")
	}
	if !errors.Is(res.Err(), ErrLedgerWrite) {
		t.Fatalf("warnings = %v, want ErrLedgerWrite", res.Err())
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	h.audit.mu.Lock()
	keys := append([]string(nil), h.audit.keys...)
	h.audit.mu.Unlock()
	if len(keys) != 1 || keys[0] != wallet.ChargeKey(res.SessionID) {
		t.Fatalf("audit keys = %v", keys)
	}
	if recs := h.history.all(); len(recs) != 1 || recs[0].Status != history.StatusCompleted {
		t.Fatalf("history = %+v, want completed record despite ledger failure", recs)
	}
}

func TestHistoryFailureBecomesWarning(t *testing.T) {
	h := newHarness(t, "10.00")
	h.history.err = errBoom
	c, _ := h.connected(t, ukNumber)
	h.clock.Advance(5 * time.Second)
	c.Hangup()

	res := waitResult(t, c)
	if !res.Charged {
		t.Fatal("history failure must not undo the charge")
	}
	if !errors.Is(res.Err(), ErrHistoryWrite) {
		t.Fatalf("warnings = %v, want ErrHistoryWrite", res.Err())
	}
}

func TestSendTone(t *testing.T) {
	h := newHarness(t, "10.00")
	c, err := h.start(t, ukNumber)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.SendTone("12"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("tone before answer err = %v, want ErrNotConnected", err)
	}

	conn := h.adapter.lastConn()
	conn.emit(telephony.EventAccepted)
	waitFor(t, "connected", func() bool { return c.Snapshot().State == StateConnected })

	if err := c.SendTone("12x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad digits err = %v, want ErrInvalidInput", err)
	}
	if err := c.SendTone("1w#*"); err != nil {
		t.Fatalf("SendTone: %v", err)
	}
	conn.mu.Lock()
	tones := append([]string(nil), conn.tones...)
	conn.mu.Unlock()
	if len(tones) != 1 || tones[0] != "1w#*" {
		t.Fatalf("tones = %v", tones)
	}

	c.Hangup()
	waitResult(t, c)
	if err := c.SendTone("1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("tone after end err = %v, want ErrNotConnected", err)
	}
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t, "10.00")
	c, conn := h.connected(t, ukNumber)

	muted, err := c.ToggleMute()
	if err != nil || !muted {
		t.Fatalf("first toggle = %v, %v", muted, err)
	}
	muted, err = c.ToggleMute()
	if err != nil || muted {
		t.Fatalf("second toggle = %v, %v", muted, err)
	}
	conn.mu.Lock()
	got := append([]bool(nil), conn.muted...)
	conn.muteErr = errBoom
	conn.mu.Unlock()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("adapter saw %v", got)
	}

	if _, err := c.ToggleMute(); !errors.Is(err, ErrConnection) {
		t.Fatalf("failed toggle err = %v, want ErrConnection", err)
	}
	waitFor(t, "mute revert", func() bool { return !c.Snapshot().Muted })
	c.Hangup()
	waitResult(t, c)
}

func TestUpdatesAreMonotonicAndClose(t *testing.T) {
	h := newHarness(t, "10.00")
	c, _ := h.connected(t, ukNumber)

	var (
		mu   sync.Mutex
		seen []Update
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for u := range c.Updates() {
			mu.Lock()
			seen = append(seen, u)
			mu.Unlock()
		}
	}()

	for i := 0; i < 5; i++ {
		h.clock.Advance(20 * time.Second)
		time.Sleep(3 * time.Millisecond)
	}
	c.Hangup()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel not closed after settlement")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no updates received")
	}
	var lastCost pricing.Credits
	var lastElapsed int64
	for _, u := range seen {
		if u.Cost < lastCost || u.ElapsedSeconds < lastElapsed {
			t.Fatalf("update went backwards: %+v after cost=%s elapsed=%d", u, lastCost, lastElapsed)
		}
		lastCost, lastElapsed = u.Cost, u.ElapsedSeconds
	}
	if final := seen[len(seen)-1]; final.State != StateEnded {
		t.Fatalf("final update state = %s, want ended", final.State)
	}
}
