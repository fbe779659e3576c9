package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"paycall/internal/pricing"
	"paycall/internal/telephony"

	"github.com/google/uuid"
)

const updateBuffer = 16

// Controller drives one call session.
//
// All state changes happen on a single loop goroutine: adapter events, ticks,
// setup results and user commands arrive on channels consumed by one select.
// Readers get copies through Snapshot and Updates.
type Controller struct {
	deps Deps
	log  *slog.Logger

	mu   sync.RWMutex
	sess Snapshot
	// affordable is the longest connected duration the initial balance pays for.
	affordable int64
	settled    bool
	result     Result

	started atomic.Bool

	cmds        chan command
	setupCh     chan setupResult
	connectCh   chan connectResult
	muteResults chan muteResult
	updates     chan Update
	ready       chan error
	stopped     chan struct{}
	done        chan struct{}

	// Loop-owned.
	device      telephony.Device
	conn        telephony.Connection
	events      <-chan telephony.Event
	ticker      *time.Ticker
	setupTimer  *time.Timer
	cancelSetup context.CancelFunc
	readySent   bool
}

type cmdKind int

const (
	cmdHangup cmdKind = iota
	cmdTone
	cmdMute
)

type command struct {
	kind   cmdKind
	digits string
	reply  chan cmdReply
}

type cmdReply struct {
	muted bool
	err   error
}

type setupResult struct {
	device telephony.Device
	err    error
}

type connectResult struct {
	conn telephony.Connection
	err  error
}

type muteResult struct {
	want bool
	err  error
}

// NewController builds a controller for one call.
func NewController(deps Deps) (*Controller, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Controller{
		deps:        d,
		log:         d.Logger,
		sess:        Snapshot{State: StateIdle},
		cmds:        make(chan command),
		setupCh:     make(chan setupResult),
		connectCh:   make(chan connectResult),
		muteResults: make(chan muteResult, 1),
		updates:     make(chan Update, updateBuffer),
		ready:       make(chan error, 1),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Start validates the request, resolves the rate and runs setup. It returns
// once the outbound connect has been issued, or with the setup error. A call
// that fails setup is never charged.
func (c *Controller) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	if req.PrincipalID == "" {
		return Snapshot{}, fmt.Errorf("%w: principal required", ErrInvalidInput)
	}
	if req.InitialBalance < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative balance", ErrInvalidInput)
	}
	dest, err := telephony.NormalizeE164(req.Destination)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rate := c.deps.Rates.RateFor(dest)
	if rate <= 0 {
		return Snapshot{}, fmt.Errorf("%w: no rate for %s", ErrInvalidInput, dest)
	}
	if !c.started.CompareAndSwap(false, true) {
		return Snapshot{}, fmt.Errorf("%w: controller already started", ErrInvalidInput)
	}

	now := c.deps.Now()
	c.mu.Lock()
	c.sess = Snapshot{
		ID:               uuid.NewString(),
		PrincipalID:      req.PrincipalID,
		Destination:      dest,
		Rate:             rate,
		State:            StateIdle,
		StartedAt:        now,
		InitialBalance:   req.InitialBalance,
		ProjectedBalance: req.InitialBalance,
	}
	c.affordable = pricing.AffordableSeconds(req.InitialBalance, rate)
	c.mu.Unlock()

	c.log = c.log.With("session_id", c.sess.ID, "principal_id", req.PrincipalID)
	c.transition(StateAcquiringCredential)

	setupCtx, cancel := context.WithTimeout(context.Background(), c.deps.SetupTimeout)
	c.cancelSetup = cancel
	c.setupTimer = time.NewTimer(c.deps.SetupTimeout)
	go c.runSetup(setupCtx, req.PrincipalID)
	go c.run()

	select {
	case err := <-c.ready:
		return c.Snapshot(), err
	case <-ctx.Done():
		c.Hangup()
		return c.Snapshot(), ctx.Err()
	}
}

// Started reports whether Start got past validation.
func (c *Controller) Started() bool { return c.started.Load() }

func (c *Controller) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.ID
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// AffordableSeconds is the connected time the initial balance pays for.
func (c *Controller) AffordableSeconds() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.affordable
}

// Updates streams state changes. Only the latest updates are kept for a slow
// reader. The channel is closed after the Result is available.
func (c *Controller) Updates() <-chan Update { return c.updates }

// Done is closed after settlement.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the session is settled.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Hangup ends the call from the user side. It returns once the loop has
// stopped metering and requested adapter teardown, or has already exited.
// Safe to call in any state, any number of times.
func (c *Controller) Hangup() {
	if !c.started.Load() {
		return
	}
	reply := make(chan cmdReply, 1)
	select {
	case c.cmds <- command{kind: cmdHangup, reply: reply}:
	case <-c.stopped:
		return
	}
	select {
	case <-reply:
	case <-c.stopped:
	}
}

// Close is the teardown path for a UI that goes away; it hangs up.
func (c *Controller) Close() { c.Hangup() }

// SendTone sends DTMF digits on a connected call. Allowed: 0-9 * # and w (pause).
func (c *Controller) SendTone(digits string) error {
	if !validTones(digits) {
		return fmt.Errorf("%w: tone digits must be 0-9 * # w", ErrInvalidInput)
	}
	r, err := c.command(command{kind: cmdTone, digits: digits})
	if err != nil {
		return err
	}
	return r.err
}

// ToggleMute flips the microphone mute and returns the new state.
func (c *Controller) ToggleMute() (bool, error) {
	r, err := c.command(command{kind: cmdMute})
	if err != nil {
		return false, err
	}
	return r.muted, r.err
}

func (c *Controller) command(cmd command) (cmdReply, error) {
	if !c.started.Load() {
		return cmdReply{}, ErrNotConnected
	}
	cmd.reply = make(chan cmdReply, 1)
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return cmdReply{}, ErrNotConnected
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-c.stopped:
		return cmdReply{}, ErrNotConnected
	}
}

func validTones(digits string) bool {
	if digits == "" {
		return false
	}
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#', r == 'w':
		default:
			return false
		}
	}
	return true
}

// runSetup acquires the credential and opens the device. Both calls may never
// return; the loop enforces the setup deadline independently.
func (c *Controller) runSetup(ctx context.Context, principalID string) {
	var res setupResult
	cred, err := c.deps.Adapter.AcquireCredential(ctx, principalID)
	if err != nil {
		res.err = fmt.Errorf("%w: %v", ErrCredential, err)
	} else if dev, err := c.deps.Adapter.Open(ctx, cred); err != nil {
		res.err = fmt.Errorf("%w: %v", ErrDevice, err)
	} else {
		res.device = dev
	}
	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.err = ErrSetupTimeout
	}

	select {
	case c.setupCh <- res:
	case <-c.stopped:
		if res.device != nil {
			_ = res.device.Close()
		}
	}
}

func (c *Controller) runConnect(ctx context.Context, dev telephony.Device, dest string) {
	conn, err := dev.Connect(ctx, dest)
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = ErrSetupTimeout
	default:
		err = fmt.Errorf("%w: %v", ErrConnection, err)
	}
	select {
	case c.connectCh <- connectResult{conn: conn, err: err}:
	case <-c.stopped:
		if conn != nil {
			c.bounded(func(ctx context.Context) error { return conn.Hangup(ctx) })
		}
	}
}

func (c *Controller) run() {
	defer c.finish()

	for !c.state().IsTerminal() {
		var tickC <-chan time.Time
		if c.ticker != nil {
			tickC = c.ticker.C
		}
		var setupC <-chan time.Time
		if c.setupTimer != nil {
			setupC = c.setupTimer.C
		}

		select {
		case res := <-c.setupCh:
			c.onSetup(res)
		case res := <-c.connectCh:
			c.onConnect(res)
		case ev, ok := <-c.events:
			c.onEvent(ev, ok)
		case <-tickC:
			c.onTick()
		case <-setupC:
			c.setupTimer = nil
			c.fail(ReasonSetupError, ErrSetupTimeout)
		case cmd := <-c.cmds:
			c.onCommand(cmd)
		case m := <-c.muteResults:
			c.onMuteResult(m)
		}
	}
}

func (c *Controller) onSetup(res setupResult) {
	if res.err != nil {
		c.fail(ReasonSetupError, res.err)
		return
	}
	c.device = res.device
	c.transition(StateDeviceReady)

	c.transition(StateDialing)
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.SetupTimeout)
	prev := c.cancelSetup
	c.cancelSetup = func() { cancel(); prev() }
	go c.runConnect(ctx, c.device, c.Snapshot().Destination)
}

func (c *Controller) onConnect(res connectResult) {
	if res.err != nil {
		c.fail(ReasonSetupError, res.err)
		return
	}
	c.conn = res.conn
	c.events = res.conn.Events()
	c.stopSetupTimer()
	c.signalReady(nil)
}

func (c *Controller) onEvent(ev telephony.Event, ok bool) {
	if !ok {
		c.events = nil
		c.endOnError(errors.New("event stream closed"))
		return
	}

	st := c.state()
	switch ev.Type {
	case telephony.EventRinging:
		if st == StateDialing {
			c.transition(StateRinging)
		}
	case telephony.EventAccepted:
		if st == StateDialing || st == StateRinging {
			c.connect()
		}
	case telephony.EventRejected:
		if st == StateDialing || st == StateRinging {
			c.end(StateEnded, ReasonRemoteRejected, nil)
		}
	case telephony.EventDisconnected:
		c.end(StateEnded, ReasonRemoteHangup, nil)
	case telephony.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New(ev.Reason)
		}
		c.endOnError(err)
	default:
		c.log.Debug("ignoring adapter event", "type", ev.Type)
	}
}

func (c *Controller) endOnError(err error) {
	if c.state() == StateConnected {
		c.end(StateEnded, ReasonNetworkError, err)
		return
	}
	c.end(StateFailed, ReasonNetworkError, err)
}

// connect is the only place ConnectedAt is set and metering starts.
func (c *Controller) connect() {
	now := c.deps.Now()
	c.mu.Lock()
	c.sess.ConnectedAt = now
	c.mu.Unlock()
	c.transition(StateConnected)

	c.ticker = time.NewTicker(c.deps.TickInterval)
	c.onTick()
}

// onTick re-derives elapsed time from ConnectedAt and ends the call once the
// next minute could not be paid for.
func (c *Controller) onTick() {
	if c.state() != StateConnected {
		return
	}
	c.meter(c.deps.Now())
	c.publish()

	c.mu.RLock()
	exhausted := c.sess.ElapsedSeconds >= c.affordable
	c.mu.RUnlock()
	if exhausted {
		c.end(StateEnded, ReasonCreditExhausted, nil)
	}
}

// meter recomputes elapsed, cost and projected balance. Elapsed never goes
// backwards. A late tick may push cost past the balance; the projection
// shown to the caller stops at zero and settlement floors the charge.
func (c *Controller) meter(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.ConnectedAt.IsZero() {
		return
	}
	elapsed := int64(now.Sub(c.sess.ConnectedAt) / time.Second)
	if elapsed < c.sess.ElapsedSeconds {
		elapsed = c.sess.ElapsedSeconds
	}
	cost, err := pricing.BilledCost(elapsed, c.sess.Rate)
	if err != nil {
		c.log.Error("cost computation failed", "err", err)
		return
	}
	c.sess.ElapsedSeconds = elapsed
	c.sess.Cost = cost
	c.sess.ProjectedBalance = max(c.sess.InitialBalance-cost, 0)
}

func (c *Controller) onCommand(cmd command) {
	switch cmd.kind {
	case cmdHangup:
		if !c.state().IsTerminal() {
			c.end(StateEnded, ReasonUserHangup, nil)
		}
		cmd.reply <- cmdReply{}

	case cmdTone:
		if c.state() != StateConnected || c.conn == nil {
			cmd.reply <- cmdReply{err: ErrNotConnected}
			return
		}
		conn := c.conn
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.deps.SettleTimeout)
			defer cancel()
			err := conn.SendTone(ctx, cmd.digits)
			if err != nil {
				err = fmt.Errorf("%w: %v", ErrConnection, err)
			}
			cmd.reply <- cmdReply{err: err}
		}()

	case cmdMute:
		if c.conn == nil || c.state().IsTerminal() {
			cmd.reply <- cmdReply{err: ErrNotConnected}
			return
		}
		c.mu.Lock()
		c.sess.Muted = !c.sess.Muted
		want := c.sess.Muted
		c.mu.Unlock()
		c.publish()

		conn := c.conn
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.deps.SettleTimeout)
			defer cancel()
			err := conn.SetMuted(ctx, want)
			if err != nil {
				err = fmt.Errorf("%w: %v", ErrConnection, err)
				select {
				case c.muteResults <- muteResult{want: want, err: err}:
				case <-c.stopped:
				}
			}
			cmd.reply <- cmdReply{muted: want, err: err}
		}()
	}
}

// onMuteResult reverts an optimistic mute flip the adapter refused.
func (c *Controller) onMuteResult(m muteResult) {
	c.mu.Lock()
	if c.sess.Muted == m.want {
		c.sess.Muted = !m.want
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) fail(reason Reason, err error) {
	c.end(StateFailed, reason, err)
}

// end moves the session to a terminal state: metering stops, setup is
// cancelled and adapter teardown is requested. Settlement happens in finish.
func (c *Controller) end(st State, reason Reason, cause error) {
	prev := c.state()
	if prev.IsTerminal() {
		return
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.stopSetupTimer()
	if c.cancelSetup != nil {
		c.cancelSetup()
	}

	now := c.deps.Now()
	c.meter(now)
	c.mu.Lock()
	c.sess.EndedAt = now
	c.sess.Reason = reason
	c.sess.abandonedInSetup = prev.IsSetup() || reason == ReasonSetupError
	if cause != nil {
		c.sess.ErrorMessage = cause.Error()
	}
	c.mu.Unlock()
	c.transition(st)

	conn, dev := c.conn, c.device
	c.events = nil
	if conn != nil || dev != nil {
		go c.teardown(conn, dev, reason.needsAdapterHangup())
	}

	switch {
	case cause != nil:
		c.signalReady(cause)
	case reason == ReasonUserHangup:
		c.signalReady(ErrCancelled)
	default:
		c.signalReady(nil)
	}

	attrs := []any{"state", st, "reason", reason}
	if cause != nil {
		attrs = append(attrs, "err", cause)
	}
	c.log.Info("call ended", attrs...)
}

func (c *Controller) teardown(conn telephony.Connection, dev telephony.Device, hangup bool) {
	if conn != nil && hangup {
		c.bounded(func(ctx context.Context) error { return conn.Hangup(ctx) })
	}
	if dev != nil {
		c.bounded(func(context.Context) error { return dev.Close() })
	}
}

// bounded runs an adapter call that may never return, giving up after SettleTimeout.
func (c *Controller) bounded(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.deps.SettleTimeout)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, telephony.ErrClosed) {
			c.log.Warn("adapter teardown failed", "err", err)
		}
	case <-ctx.Done():
		c.log.Warn("adapter teardown timed out")
	}
}

func (c *Controller) stopSetupTimer() {
	if c.setupTimer != nil {
		c.setupTimer.Stop()
		c.setupTimer = nil
	}
}

func (c *Controller) signalReady(err error) {
	if c.readySent {
		return
	}
	c.readySent = true
	c.ready <- err
}

func (c *Controller) state() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.State
}

// transition is the only writer of State.
func (c *Controller) transition(next State) {
	c.mu.Lock()
	cur := c.sess.State
	if !cur.CanTransitionTo(next) {
		c.mu.Unlock()
		c.log.Error("invalid call state transition", "from", cur, "to", next)
		return
	}
	c.sess.State = next
	c.mu.Unlock()

	c.log.Debug("call state", "from", cur, "to", next)
	c.publish()
}

// publish never blocks the loop; a full buffer drops its oldest update.
func (c *Controller) publish() {
	u := c.Snapshot().update()
	for {
		select {
		case c.updates <- u:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

func (c *Controller) finish() {
	close(c.stopped)
	res := c.settle()

	c.mu.Lock()
	c.result = res
	c.mu.Unlock()

	close(c.updates)
	close(c.done)
}
