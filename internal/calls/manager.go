package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paycall/internal/telephony"
	"paycall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	activeKeyPrefix = "calls:active:"
	// activeCapTTL bounds a leaked slot after a crash.
	activeCapTTL = 4 * time.Hour
)

// Notifier receives the live feed of every managed call.
type Notifier interface {
	CallUpdated(principalID string, u Update)
	CallEnded(principalID string, r Result)
}

// Manager owns the live controllers, keyed by session and by principal, and
// caps concurrent calls per principal.
type Manager struct {
	deps     Deps
	rdb      *redis.Client
	limit    int
	notifier Notifier
	log      *slog.Logger

	mu          sync.Mutex
	byID        map[string]*Controller
	byPrincipal map[string]*Controller
	// local counts active calls per principal when Redis is not configured.
	local map[string]int
	wg    sync.WaitGroup
}

type ManagerOption func(*Manager)

// WithRedisCap enforces the per-principal cap across processes.
func WithRedisCap(rdb *redis.Client) ManagerOption {
	return func(m *Manager) { m.rdb = rdb }
}

func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithMaxConcurrent sets the per-principal cap; default 1.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

func NewManager(deps Deps, opts ...ManagerOption) (*Manager, error) {
	d, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		deps:        d,
		limit:       1,
		log:         d.Logger,
		byID:        map[string]*Controller{},
		byPrincipal: map[string]*Controller{},
		local:       map[string]int{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start places a call for principalID using the principal's current balance.
func (m *Manager) Start(ctx context.Context, principalID, destination string) (*Controller, Snapshot, error) {
	if principalID == "" {
		return nil, Snapshot{}, fmt.Errorf("%w: principal required", ErrInvalidInput)
	}
	balance, err := m.deps.Ledger.GetBalance(ctx, principalID)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("balance lookup: %w", err)
	}

	ok, err := m.acquire(ctx, principalID)
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("active call cap: %w", err)
	}
	if !ok {
		return nil, Snapshot{}, ErrCallActive
	}

	c, err := NewController(m.deps)
	if err != nil {
		m.release(principalID)
		return nil, Snapshot{}, err
	}

	m.mu.Lock()
	m.byPrincipal[principalID] = c
	m.mu.Unlock()

	snap, err := c.Start(ctx, StartRequest{
		PrincipalID:    principalID,
		Destination:    destination,
		InitialBalance: balance,
	})
	if !c.Started() {
		m.forget(principalID, c)
		m.release(principalID)
		return nil, snap, err
	}

	m.mu.Lock()
	m.byID[snap.ID] = c
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(principalID, snap.ID, c)

	return c, snap, err
}

// watch forwards updates, then unregisters the call and frees its slot.
func (m *Manager) watch(principalID, sessionID string, c *Controller) {
	defer m.wg.Done()

	for u := range c.Updates() {
		if m.notifier != nil {
			m.notifier.CallUpdated(principalID, u)
		}
	}
	res, _ := c.Wait(context.Background())
	if m.notifier != nil {
		m.notifier.CallEnded(principalID, res)
	}

	m.mu.Lock()
	delete(m.byID, sessionID)
	m.mu.Unlock()
	m.forget(principalID, c)
	m.release(principalID)
}

func (m *Manager) forget(principalID string, c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byPrincipal[principalID]; ok && cur == c {
		delete(m.byPrincipal, principalID)
	}
}

// Get returns a live session owned by principalID.
func (m *Manager) Get(principalID, sessionID string) (*Controller, error) {
	m.mu.Lock()
	c, ok := m.byID[sessionID]
	m.mu.Unlock()
	if !ok || c.Snapshot().PrincipalID != principalID {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Active returns the principal's live session, if any.
func (m *Manager) Active(principalID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byPrincipal[principalID]
	return c, ok
}

// HangupPrincipal runs the teardown path for the principal's live call, used
// when the softphone goes away.
func (m *Manager) HangupPrincipal(principalID string) {
	if c, ok := m.Active(principalID); ok {
		c.Close()
	}
}

// ResolveOutbound reports the session the principal's browser leg belongs to.
// Only a session that has issued its connect and is not yet answered qualifies.
func (m *Manager) ResolveOutbound(_ context.Context, principalID string) (telephony.OutboundTarget, bool) {
	c, ok := m.Active(principalID)
	if !ok {
		return telephony.OutboundTarget{}, false
	}
	snap := c.Snapshot()
	if snap.State != StateDialing && snap.State != StateRinging {
		return telephony.OutboundTarget{}, false
	}
	return telephony.OutboundTarget{
		SessionID:   snap.ID,
		Destination: snap.Destination,
		MaxSeconds:  c.AffordableSeconds(),
	}, true
}

// Shutdown hangs up every live call and waits for settlement.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Controller, 0, len(m.byID))
	for _, c := range m.byID {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Hangup()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) acquire(ctx context.Context, principalID string) (bool, error) {
	if m.rdb != nil {
		return utils.AcquireSlot(ctx, m.rdb, activeKeyPrefix+principalID, m.limit, activeCapTTL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local[principalID] >= m.limit {
		return false, nil
	}
	m.local[principalID]++
	return true, nil
}

func (m *Manager) release(principalID string) {
	if m.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseSlot(ctx, m.rdb, activeKeyPrefix+principalID); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("active call slot release failed", "principal_id", principalID, "err", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local[principalID] <= 1 {
		delete(m.local, principalID)
		return
	}
	m.local[principalID]--
}
