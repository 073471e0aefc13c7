package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/metrics"
)

// State is the subscription connection state.
//
// State transitions:
//
//	Connecting   -> Connected     on subscription acknowledgement
//	Connected    -> Degraded      when the health probe sees staleness
//	Connected    -> Reconnecting  on transport drop or explicit Restart
//	Degraded     -> Reconnecting  on transport drop or explicit Restart
//	Reconnecting -> Connected     on successful re-subscription
//	Reconnecting -> Failed        after the bounded retry budget runs out
//	Failed       -> Reconnecting  only on explicit Restart
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDegraded
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only connection state exposed to the diagnostics panel
// and the health monitor.
type Snapshot struct {
	State               string    `json:"state"`
	LastEventAt         time.Time `json:"last_event_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Handler consumes normalized feed events in receipt order.
type Handler func(ctx context.Context, evt Event)

// Reconciler runs the catch-up query after a reconnect.
type Reconciler interface {
	ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*db.Order, error)
}

// Config tunes the subscription manager.
type Config struct {
	// Backoff between reconnect attempts: base doubles up to the cap with
	// ±JitterFraction applied.
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64
	// MaxRetries bounds consecutive failed attempts before StateFailed.
	MaxRetries int
	// HeartbeatInterval is the quiet-period probe cadence on the feed
	// connection.
	HeartbeatInterval time.Duration
	// ReconcileTimeout bounds the catch-up query; on timeout the attempt
	// fails and is retried on the normal backoff cycle.
	ReconcileTimeout time.Duration
	ReconcileLimit   int
}

// Manager owns the change-feed subscription. Transport errors never escape to
// callers; they observe only Snapshot and events.
type Manager struct {
	listener Listener
	orders   Reconciler
	config   Config
	logger   *zap.Logger

	mu             sync.Mutex
	state          State
	lastEventAt    time.Time
	lastActivityAt time.Time
	failures       int
	lastErr        string
	handlers       []Handler
	consumeCancel  context.CancelFunc

	restartCh chan struct{}
	readyOnce sync.Once
	readyCh   chan struct{}
}

// New creates a subscription manager. Zero config fields get defaults.
func New(listener Listener, orders Reconciler, cfg Config, logger *zap.Logger) *Manager {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 10 * time.Second
	}
	if cfg.ReconcileLimit <= 0 {
		cfg.ReconcileLimit = 500
	}

	return &Manager{
		listener:  listener,
		orders:    orders,
		config:    cfg,
		logger:    logger,
		state:     StateConnecting,
		restartCh: make(chan struct{}, 1),
		readyCh:   make(chan struct{}),
	}
}

// OnEvent registers an event handler. Handlers run synchronously in receipt
// order on the feed goroutine, so each event is one discrete handoff.
func (m *Manager) OnEvent(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Ready is closed once the first subscription is established.
func (m *Manager) Ready() <-chan struct{} {
	return m.readyCh
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:               m.state.String(),
		LastEventAt:         m.lastEventAt,
		LastActivityAt:      m.lastActivityAt,
		ConsecutiveFailures: m.failures,
		LastError:           m.lastErr,
	}
}

// MarkDegraded flags a connected subscription as stale. The next event or
// heartbeat ack moves it back to connected.
func (m *Manager) MarkDegraded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return
	}
	m.state = StateDegraded
	m.lastErr = reason
	metrics.SetConnectionState(m.state.String())
	m.logger.Warn("subscription degraded", zap.String("reason", reason))
}

// Restart forces a reconnect. It is the only way out of StateFailed, and on a
// live subscription it drops the current consume loop.
func (m *Manager) Restart() {
	m.mu.Lock()
	if m.state == StateFailed {
		m.failures = 0
	}
	cancel := m.consumeCancel
	m.mu.Unlock()

	select {
	case m.restartCh <- struct{}{}:
	default:
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("subscription restart requested")
}

// Run drives the subscription until ctx is cancelled. Call it on its own
// goroutine; it never returns an error, only state.
func (m *Manager) Run(ctx context.Context) {
	wasConnected := false

	for {
		if ctx.Err() != nil {
			return
		}

		if m.currentState() == StateFailed {
			select {
			case <-ctx.Done():
				return
			case <-m.restartCh:
				m.setState(StateReconnecting)
			}
		} else if wasConnected {
			m.setState(StateReconnecting)
		} else {
			m.setState(StateConnecting)
		}

		err := m.listener.Listen(ctx)
		if err == nil && wasConnected {
			err = m.reconcile(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.closeListener()
			if !m.backoff(ctx, err) {
				return
			}
			continue
		}

		m.setConnected()
		m.readyOnce.Do(func() { close(m.readyCh) })

		err = m.consume(ctx)
		m.closeListener()
		if ctx.Err() != nil {
			return
		}
		wasConnected = true
		metrics.FeedReconnect()
		m.logger.Warn("subscription dropped", zap.Error(err))
	}
}

// consume drains the feed until a transport error, a restart, or shutdown.
func (m *Manager) consume(ctx context.Context) error {
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.consumeCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.consumeCancel = nil
		m.mu.Unlock()
	}()

	for {
		waitCtx, waitCancel := context.WithTimeout(consumeCtx, m.config.HeartbeatInterval)
		evt, err := m.listener.WaitForEvent(waitCtx)
		waitCancel()

		if err != nil {
			if consumeCtx.Err() != nil {
				return fmt.Errorf("consume loop cancelled: %w", consumeCtx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Quiet period: probe the connection instead of assuming
				// the feed is healthy.
				pingCtx, pingCancel := context.WithTimeout(consumeCtx, 5*time.Second)
				perr := m.listener.Ping(pingCtx)
				pingCancel()
				if perr != nil {
					return fmt.Errorf("heartbeat probe failed: %w", perr)
				}
				m.touchActivity(nil)
				continue
			}
			return err
		}

		m.touchActivity(evt)
		m.deliver(consumeCtx, *evt)
	}
}

// reconcile replays orders inserted while the subscription was down. It runs
// after LISTEN is re-established and before the consume loop drains buffered
// notifications, so replays strictly precede live events.
func (m *Manager) reconcile(ctx context.Context) error {
	m.mu.Lock()
	since := m.lastEventAt
	m.mu.Unlock()

	if since.IsZero() {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, m.config.ReconcileTimeout)
	defer cancel()

	orders, err := m.orders.ListCreatedAfter(rctx, since, m.config.ReconcileLimit)
	if err != nil {
		return fmt.Errorf("reconciliation fetch: %w", err)
	}

	for _, o := range orders {
		evt := Event{Kind: KindInsert, Order: *o}
		m.touchActivity(&evt)
		m.deliver(ctx, evt)
	}

	if len(orders) > 0 {
		metrics.FeedReconciled(len(orders))
		m.logger.Info("reconciliation replayed missed orders",
			zap.Int("orders", len(orders)),
			zap.Time("since", since),
		)
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, evt Event) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()

	metrics.FeedEventReceived(string(evt.Kind))
	for _, h := range handlers {
		h(ctx, evt)
	}
}

// touchActivity records liveness. Inserts advance the reconciliation
// watermark; updates and heartbeat acks only refresh activity. Either clears
// a degraded state.
func (m *Manager) touchActivity(evt *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivityAt = time.Now()
	if evt != nil && evt.Kind == KindInsert && evt.Order.CreatedAt.After(m.lastEventAt) {
		m.lastEventAt = evt.Order.CreatedAt
	}
	if m.state == StateDegraded {
		m.state = StateConnected
		metrics.SetConnectionState(m.state.String())
	}
}

// backoff sleeps the exponential delay for the current failure count.
// Returns false when ctx ended. A restart request skips the remaining wait.
func (m *Manager) backoff(ctx context.Context, cause error) bool {
	m.mu.Lock()
	m.failures++
	m.lastErr = cause.Error()
	failures := m.failures
	m.mu.Unlock()

	if failures > m.config.MaxRetries {
		m.setState(StateFailed)
		m.logger.Error("subscription failed, waiting for operator restart",
			zap.Int("attempts", failures),
			zap.Error(cause),
		)
		return true
	}

	delay := m.delayFor(failures)
	m.logger.Warn("subscription attempt failed, backing off",
		zap.Int("attempt", failures),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)

	select {
	case <-ctx.Done():
		return false
	case <-m.restartCh:
		return true
	case <-time.After(delay):
		return true
	}
}

// delayFor computes base*2^(attempt-1) capped at MaxBackoff with
// ±JitterFraction jitter.
func (m *Manager) delayFor(attempt int) time.Duration {
	delay := m.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxBackoff {
			delay = m.config.MaxBackoff
			break
		}
	}

	jitter := 1 + m.config.JitterFraction*(2*rand.Float64()-1)
	delay = time.Duration(float64(delay) * jitter)
	if delay > time.Duration(float64(m.config.MaxBackoff)*(1+m.config.JitterFraction)) {
		delay = m.config.MaxBackoff
	}
	return delay
}

func (m *Manager) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s {
		return
	}
	m.state = s
	metrics.SetConnectionState(s.String())
}

func (m *Manager) setConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnected
	m.failures = 0
	m.lastErr = ""
	m.lastActivityAt = time.Now()
	if m.lastEventAt.IsZero() {
		// Anchor the reconciliation watermark at the first successful
		// LISTEN. Without a base, a drop on a quiet feed would skip the
		// catch-up query and lose orders inserted during the outage.
		m.lastEventAt = time.Now()
	}
	metrics.SetConnectionState(m.state.String())
	m.logger.Info("subscription established")
}

func (m *Manager) closeListener() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.listener.Close(closeCtx)
}
