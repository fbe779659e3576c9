package calls

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"paycall/internal/history"
	"paycall/internal/pricing"
	"paycall/internal/telephony"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeConn struct {
	events chan telephony.Event

	mu      sync.Mutex
	hangups int
	tones   []string
	muted   []bool
	muteErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan telephony.Event, 16)}
}

func (f *fakeConn) Events() <-chan telephony.Event { return f.events }

func (f *fakeConn) emit(t telephony.EventType) {
	f.events <- telephony.Event{Type: t, At: time.Now()}
}

func (f *fakeConn) Hangup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
	return nil
}

func (f *fakeConn) SendTone(_ context.Context, digits string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tones = append(f.tones, digits)
	return nil
}

func (f *fakeConn) SetMuted(_ context.Context, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.muteErr != nil {
		return f.muteErr
	}
	f.muted = append(f.muted, muted)
	return nil
}

func (f *fakeConn) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hangups
}

type fakeDevice struct {
	adapter *fakeAdapter
}

func (d *fakeDevice) Connect(context.Context, string) (telephony.Connection, error) {
	a := d.adapter
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	a.conn = newFakeConn()
	return a.conn, nil
}

func (d *fakeDevice) Close() error {
	d.adapter.mu.Lock()
	defer d.adapter.mu.Unlock()
	d.adapter.closed++
	return nil
}

type fakeAdapter struct {
	mu         sync.Mutex
	credErr    error
	openErr    error
	connectErr error
	// blockOpen makes Open wait for its context.
	blockOpen bool
	conn      *fakeConn
	closed    int
}

func (a *fakeAdapter) AcquireCredential(_ context.Context, principalID string) (telephony.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.credErr != nil {
		return telephony.Credential{}, a.credErr
	}
	return telephony.Credential{Identity: principalID, Token: "tok"}, nil
}

func (a *fakeAdapter) Open(ctx context.Context, _ telephony.Credential) (telephony.Device, error) {
	a.mu.Lock()
	block, err := a.blockOpen, a.openErr
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &fakeDevice{adapter: a}, nil
}

func (a *fakeAdapter) lastConn() *fakeConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *fakeAdapter) closedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]pricing.Credits
	charges   int
	chargeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]pricing.Credits{}}
}

func (l *fakeLedger) GetBalance(_ context.Context, principalID string) (pricing.Credits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principalID], nil
}

func (l *fakeLedger) Charge(_ context.Context, principalID, _ string, amount pricing.Credits) (pricing.Credits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charges++
	if l.chargeErr != nil {
		return 0, l.chargeErr
	}
	bal := l.balances[principalID]
	if amount > bal {
		amount = bal
	}
	l.balances[principalID] = bal - amount
	return l.balances[principalID], nil
}

func (l *fakeLedger) chargeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.charges
}

func (l *fakeLedger) balance(principalID string) pricing.Credits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principalID]
}

type fakeHistory struct {
	mu      sync.Mutex
	records []history.Record
	err     error
}

func (h *fakeHistory) Record(_ context.Context, rec history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) all() []history.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]history.Record, len(h.records))
	copy(out, h.records)
	return out
}

type fakeAuditor struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeAuditor) LogSettlementFailed(_ context.Context, _, _, key string, _ pricing.Credits, _ error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type harness struct {
	clock   *fakeClock
	adapter *fakeAdapter
	ledger  *fakeLedger
	history *fakeHistory
	audit   *fakeAuditor
	deps    Deps
}

const (
	ukNumber     = "+447700900123"
	defaultRated = "+33123456789"
)

func newHarness(t *testing.T, balance string) *harness {
	t.Helper()
	rates, err := pricing.NewRateTable(pricing.MustCredits("2.00"), []pricing.RateEntry{
		{Prefix: "44", Country: "GB", Rate: pricing.MustCredits("1.20")},
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	h := &harness{
		clock:   newFakeClock(),
		adapter: &fakeAdapter{},
		ledger:  newFakeLedger(),
		history: &fakeHistory{},
		audit:   &fakeAuditor{},
	}
	h.ledger.balances["p1"] = pricing.MustCredits(balance)
	h.deps = Deps{
		Adapter:       h.adapter,
		Ledger:        h.ledger,
		History:       h.history,
		Rates:         rates,
		Audit:         h.audit,
		Now:           h.clock.Now,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		SetupTimeout:  200 * time.Millisecond,
		TickInterval:  time.Millisecond,
		SettleTimeout: time.Second,
	}
	return h
}

func (h *harness) start(t *testing.T, destination string) (*Controller, error) {
	t.Helper()
	c, err := NewController(h.deps)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	_, err = c.Start(context.Background(), StartRequest{
		PrincipalID:    "p1",
		Destination:    destination,
		InitialBalance: h.ledger.balances["p1"],
	})
	return c, err
}

// connected starts a call and drives it to Connected.
func (h *harness) connected(t *testing.T, destination string) (*Controller, *fakeConn) {
	t.Helper()
	c, err := h.start(t, destination)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := h.adapter.lastConn()
	conn.emit(telephony.EventRinging)
	conn.emit(telephony.EventAccepted)
	waitFor(t, "connected", func() bool {
		s := c.Snapshot().State
		return s == StateConnected || s.IsTerminal()
	})
	return c, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitResult(t *testing.T, c *Controller) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return res
}

var errBoom = errors.New("boom")
