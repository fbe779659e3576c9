package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
	eventBuffer    = 32
)

// Bridge is an Adapter whose media endpoint is the user's browser softphone.
// Each principal keeps one websocket; device and call control commands go down
// it and lifecycle events come back up.
type Bridge struct {
	issuer *CapabilityIssuer
	log    *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	peers map[string]*Peer

	onDisconnect func(principalID string)
}

func NewBridge(issuer *CapabilityIssuer, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{issuer: issuer, log: log, now: time.Now, peers: map[string]*Peer{}}
}

// OnDisconnect registers a hook run when a principal's socket goes away, before
// its open calls are failed. Used to route page teardown into the hangup path.
func (b *Bridge) OnDisconnect(fn func(principalID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = fn
}

// Attach takes ownership of conn for principalID and starts its pumps. An older
// socket for the same principal is closed.
func (b *Bridge) Attach(principalID string, conn *websocket.Conn) *Peer {
	p := &Peer{
		principalID: principalID,
		conn:        conn,
		bridge:      b,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		pending:     map[string]chan Message{},
		calls:       map[string]*bridgeConnection{},
	}

	b.mu.Lock()
	old := b.peers[principalID]
	b.peers[principalID] = p
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go p.writePump()
	go p.readPump()
	return p
}

// Peer returns the live socket for principalID.
func (b *Bridge) Peer(principalID string) (*Peer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[principalID]
	return p, ok
}

func (b *Bridge) detach(p *Peer) {
	b.mu.Lock()
	if cur, ok := b.peers[p.principalID]; ok && cur == p {
		delete(b.peers, p.principalID)
	}
	hook := b.onDisconnect
	b.mu.Unlock()

	if hook != nil {
		hook(p.principalID)
	}
}

func (b *Bridge) AcquireCredential(ctx context.Context, principalID string) (Credential, error) {
	if b.issuer == nil {
		return Credential{}, ErrCapabilityConfig
	}
	return b.issuer.Issue(ctx, principalID)
}

func (b *Bridge) Open(ctx context.Context, cred Credential) (Device, error) {
	p, ok := b.Peer(cred.Identity)
	if !ok {
		return nil, ErrNoSoftphone
	}

	reqID := uuid.NewString()
	wait := make(chan Message, 1)
	p.mu.Lock()
	p.pending[reqID] = wait
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, reqID)
		p.mu.Unlock()
	}()

	if err := p.write(ctx, Message{Type: msgDeviceSetup, ID: reqID, Token: cred.Token}); err != nil {
		return nil, err
	}

	select {
	case m := <-wait:
		if m.Type == msgDeviceError {
			return nil, fmt.Errorf("%w: %s", ErrDeviceRejected, m.Message)
		}
		return &bridgeDevice{peer: p}, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peer is one principal's softphone socket.
type Peer struct {
	principalID string
	conn        *websocket.Conn
	bridge      *Bridge

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan Message
	calls   map[string]*bridgeConnection
}

func (p *Peer) PrincipalID() string { return p.principalID }

// Done is closed once the socket is gone.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Notify sends an application message (state updates, results) to the browser.
func (p *Peer) Notify(ctx context.Context, msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.write(ctx, Message{Type: msgType, Payload: raw})
}

// Close tears the socket down. Safe to call multiple times.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		p.bridge.detach(p)

		p.mu.Lock()
		calls := p.calls
		p.calls = map[string]*bridgeConnection{}
		p.mu.Unlock()

		at := p.bridge.now()
		for _, c := range calls {
			c.deliver(Event{Type: EventError, Err: ErrClosed, Reason: "softphone disconnected", At: at})
		}
	})
}

func (p *Peer) write(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case p.send <- raw:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Peer) readPump() {
	defer p.Close()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.bridge.log.Warn("softphone read failed", "principal_id", p.principalID, "err", err)
			}
			return
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			p.bridge.log.Debug("softphone sent invalid frame", "principal_id", p.principalID, "err", err)
			continue
		}
		p.handle(m)
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case raw := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				p.bridge.log.Warn("softphone write failed", "principal_id", p.principalID, "err", err)
				p.Close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) handle(m Message) {
	switch m.Type {
	case msgDeviceReady, msgDeviceError:
		p.mu.Lock()
		wait, ok := p.pending[m.ID]
		p.mu.Unlock()
		if ok {
			select {
			case wait <- m:
			default:
			}
		}
		return
	}

	et, ok := eventTypeFor(m.Type)
	if !ok {
		p.bridge.log.Debug("softphone sent unknown message", "principal_id", p.principalID, "type", m.Type)
		return
	}

	p.mu.Lock()
	c, ok := p.calls[m.CallID]
	if ok && (et == EventDisconnected || et == EventRejected || et == EventError) {
		delete(p.calls, m.CallID)
	}
	p.mu.Unlock()
	if !ok {
		p.bridge.log.Debug("softphone event for unknown call", "principal_id", p.principalID, "call_id", m.CallID, "type", m.Type)
		return
	}

	ev := Event{Type: et, Reason: m.Reason, At: p.bridge.now()}
	if et == EventError {
		msg := m.Message
		if msg == "" {
			msg = "softphone error"
		}
		ev.Err = errors.New(msg)
	}
	c.deliver(ev)
}

type bridgeDevice struct {
	peer *Peer

	closeOnce sync.Once
}

func (d *bridgeDevice) Connect(ctx context.Context, destination string) (Connection, error) {
	c := &bridgeConnection{
		id:     uuid.NewString(),
		peer:   d.peer,
		events: make(chan Event, eventBuffer),
	}

	d.peer.mu.Lock()
	d.peer.calls[c.id] = c
	d.peer.mu.Unlock()

	if err := d.peer.write(ctx, Message{Type: msgCallConnect, CallID: c.id, To: destination}); err != nil {
		d.peer.mu.Lock()
		delete(d.peer.calls, c.id)
		d.peer.mu.Unlock()
		return nil, err
	}
	return c, nil
}

func (d *bridgeDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err = d.peer.write(ctx, Message{Type: msgDeviceDestroy})
		if errors.Is(err, ErrClosed) {
			err = nil
		}
	})
	return err
}

type bridgeConnection struct {
	id     string
	peer   *Peer
	events chan Event
}

func (c *bridgeConnection) Events() <-chan Event { return c.events }

func (c *bridgeConnection) Hangup(ctx context.Context) error {
	c.peer.mu.Lock()
	delete(c.peer.calls, c.id)
	c.peer.mu.Unlock()
	return c.peer.write(ctx, Message{Type: msgCallHangup, CallID: c.id})
}

func (c *bridgeConnection) SendTone(ctx context.Context, digits string) error {
	return c.peer.write(ctx, Message{Type: msgCallDigits, CallID: c.id, Digits: digits})
}

func (c *bridgeConnection) SetMuted(ctx context.Context, muted bool) error {
	return c.peer.write(ctx, Message{Type: msgCallMute, CallID: c.id, Muted: &muted})
}

// deliver never blocks the socket reader. Progress events give way when the
// buffer runs low so the single terminal event of a call always has a slot.
func (c *bridgeConnection) deliver(ev Event) {
	if len(c.events) >= cap(c.events)-reservedSlots(ev.Type) {
		c.peer.bridge.log.Warn("call event dropped", "call_id", c.id, "type", ev.Type)
		return
	}
	select {
	case c.events <- ev:
	default:
		c.peer.bridge.log.Error("call event dropped", "call_id", c.id, "type", ev.Type)
	}
}

// reservedSlots is the buffer headroom an event of type t must leave behind:
// one for the terminal event, and one more for the answer.
func reservedSlots(t EventType) int {
	switch t {
	case EventDisconnected, EventRejected, EventError:
		return 0
	case EventAccepted:
		return 1
	default:
		return 2
	}
}
