package connection

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Manager maintains at most one physical socket per logical endpoint key,
// with connect throttling and resilient reconnection.
type Manager struct {
	cfg    Config
	events Events
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.Mutex
	endpoints map[string]*endpoint
	closed    bool
}

// endpoint tracks one logical connection target. The generation counter
// guards timer callbacks and pump goroutines: replacement or teardown bumps
// it, so a stale timer cannot race a newer socket.
type endpoint struct {
	key    string
	url    string
	header http.Header
	ctx    context.Context

	state            State
	client           *client
	gen              int
	attempts         int
	lastAttempt      time.Time
	stable           bool
	reconnectEnabled bool

	reconnectTimer *time.Timer
	stabilityTimer *time.Timer
}

// NewManager creates a connection manager. Event callbacks may be zero.
func NewManager(cfg Config, events Events, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		events:    events,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		endpoints: make(map[string]*endpoint),
	}
}

// Connect opens a socket to the given URL, returning its endpoint key. An
// existing socket for the same key is forcibly replaced. An attempt arriving
// within MinConnectInterval of the previous one returns a ThrottledError;
// the caller retries after the indicated wait. A manual Connect resets the
// reconnect attempt counter.
func (m *Manager) Connect(ctx context.Context, rawURL string, header http.Header) (string, error) {
	key := EndpointKey(rawURL)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return key, ErrClosed
	}

	ep, ok := m.endpoints[key]
	if !ok {
		ep = &endpoint{key: key, state: StateIdle}
		m.endpoints[key] = ep
	}

	if wait := m.throttleRemaining(ep); wait > 0 {
		m.mu.Unlock()
		return key, &ThrottledError{Wait: wait}
	}

	// Replacement: close any existing socket for this key and cancel its
	// pending timers before opening a new one.
	m.teardownLocked(ep, "replaced")

	ep.url = rawURL
	ep.header = header
	ep.ctx = ctx
	ep.attempts = 0
	ep.reconnectEnabled = true
	ep.lastAttempt = time.Now()
	ep.state = StateConnecting
	gen := ep.gen
	m.mu.Unlock()

	return key, m.establish(ctx, ep, gen, rawURL, header)
}

// Reconnect manually retries a terminal endpoint, resetting the attempt
// counter.
func (m *Manager) Reconnect(ctx context.Context, key string) error {
	m.mu.Lock()
	ep, ok := m.endpoints[key]
	if !ok {
		m.mu.Unlock()
		return ErrNoEndpoint
	}
	url, header := ep.url, ep.header
	m.mu.Unlock()

	_, err := m.Connect(ctx, url, header)
	return err
}

// Disconnect performs a clean client-initiated close. No reconnect is
// scheduled and pending timers are cancelled.
func (m *Manager) Disconnect(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.endpoints[key]
	if !ok {
		return
	}
	ep.reconnectEnabled = false
	m.teardownLocked(ep, "")
	ep.state = StateIdle
}

// Send writes bytes on the endpoint's current socket.
func (m *Manager) Send(key string, data []byte) error {
	m.mu.Lock()
	ep, ok := m.endpoints[key]
	var cl *client
	if ok {
		cl = ep.client
	}
	m.mu.Unlock()

	if cl == nil {
		return ErrNotConnected
	}
	return cl.send(data)
}

// State returns the endpoint's lifecycle state.
func (m *Manager) State(key string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.endpoints[key]; ok {
		return ep.state
	}
	return StateIdle
}

// Close tears down every endpoint.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, ep := range m.endpoints {
		ep.reconnectEnabled = false
		m.teardownLocked(ep, "")
		ep.state = StateIdle
	}
}

// throttleRemaining returns how long the endpoint must still wait before the
// next connect attempt, zero if it may proceed.
func (m *Manager) throttleRemaining(ep *endpoint) time.Duration {
	if ep.lastAttempt.IsZero() {
		return 0
	}
	elapsed := time.Since(ep.lastAttempt)
	if elapsed >= m.cfg.MinConnectInterval {
		return 0
	}
	return m.cfg.MinConnectInterval - elapsed
}

// teardownLocked closes the endpoint's socket (close reason "replaced" for
// replacements) and cancels reconnect and stability timers atomically. Bumps
// the generation so in-flight callbacks for the old socket become no-ops.
func (m *Manager) teardownLocked(ep *endpoint, reason string) {
	ep.gen++
	if ep.reconnectTimer != nil {
		ep.reconnectTimer.Stop()
		ep.reconnectTimer = nil
	}
	if ep.stabilityTimer != nil {
		ep.stabilityTimer.Stop()
		ep.stabilityTimer = nil
	}
	if ep.client != nil {
		ep.client.close(websocket.CloseNormalClosure, reason)
		ep.client = nil
	}
	ep.stable = false
}

// establish dials the endpoint and installs the socket if the endpoint was
// not replaced or torn down during the handshake. The URL and header are
// passed in as a snapshot taken under the manager lock, since a concurrent
// Connect for the same key may rewrite them on the endpoint.
func (m *Manager) establish(ctx context.Context, ep *endpoint, gen int, rawURL string, header http.Header) error {
	cl, err := dial(ctx, rawURL, header, m.cfg, m.logger.With("endpoint", ep.key))
	if err != nil {
		m.mu.Lock()
		if ep.gen == gen {
			ep.state = StateClosed
		}
		m.mu.Unlock()
		m.handleClose(ep.key, gen, CloseReason{Err: err})
		return err
	}

	m.mu.Lock()
	if ep.gen != gen || m.closed {
		m.mu.Unlock()
		cl.close(websocket.CloseNormalClosure, "replaced")
		return ErrClosed
	}
	ep.client = cl
	ep.state = StateOpen
	ep.stable = false
	ep.stabilityTimer = time.AfterFunc(m.cfg.StabilityWindow, func() {
		m.markStable(ep.key, gen)
	})
	m.mu.Unlock()

	if m.events.OnOpen != nil {
		m.events.OnOpen(ep.key)
	}

	go m.pump(ep.key, gen, cl)
	return nil
}

// markStable fires when a connection has stayed open for the stability
// window: the reconnect attempt counter resets to zero.
func (m *Manager) markStable(key string, gen int) {
	m.mu.Lock()
	ep, ok := m.endpoints[key]
	if !ok || ep.gen != gen || ep.client == nil {
		m.mu.Unlock()
		return
	}
	ep.stable = true
	ep.attempts = 0
	ep.state = StateStable
	m.mu.Unlock()

	m.logger.Debug("connection stable", "endpoint", key)
	if m.events.OnStable != nil {
		m.events.OnStable(key)
	}
}

// pump forwards inbound messages and dispatches the close when the socket
// dies.
func (m *Manager) pump(key string, gen int, cl *client) {
	for data := range cl.messages {
		if m.events.OnMessage != nil {
			m.events.OnMessage(key, data)
		}
	}
	reason := <-cl.closedCh
	m.handleClose(key, gen, reason)
}

// handleClose runs the reconnect decision for a dead socket.
func (m *Manager) handleClose(key string, gen int, reason CloseReason) {
	m.mu.Lock()
	ep, ok := m.endpoints[key]
	if !ok || ep.gen != gen {
		// Socket already replaced or torn down; its closure was handled.
		m.mu.Unlock()
		return
	}

	reason.WasStable = ep.stable
	if ep.stabilityTimer != nil {
		ep.stabilityTimer.Stop()
		ep.stabilityTimer = nil
	}
	ep.client = nil
	ep.stable = false
	ep.state = StateClosed

	reconnect := ep.reconnectEnabled && shouldReconnect(reason)
	gaveUp := false
	var delay time.Duration
	var attempt int

	if reconnect {
		if ep.attempts >= m.cfg.MaxAttempts {
			gaveUp = true
			ep.state = StateDisconnected
		} else {
			delay = m.delay(ep.attempts, abnormalClosure(reason))
			ep.attempts++
			attempt = ep.attempts
			ep.state = StateReconnectScheduled
			ep.reconnectTimer = time.AfterFunc(delay, func() {
				m.attemptReconnect(key, gen)
			})
		}
	} else if !reason.ClientInitiated {
		ep.state = StateDisconnected
	}
	m.mu.Unlock()

	m.logger.Debug("connection closed",
		"endpoint", key,
		"code", reason.Code,
		"client_initiated", reason.ClientInitiated,
		"was_stable", reason.WasStable,
	)

	if m.events.OnClose != nil {
		m.events.OnClose(key, reason)
	}
	if gaveUp {
		m.logger.Warn("reconnect budget exhausted", "endpoint", key, "attempts", m.cfg.MaxAttempts)
		if m.events.OnGiveUp != nil {
			m.events.OnGiveUp(key)
		}
	} else if reconnect {
		m.logger.Debug("reconnect scheduled", "endpoint", key, "attempt", attempt, "delay", delay)
		if m.events.OnReconnectScheduled != nil {
			m.events.OnReconnectScheduled(key, attempt, delay)
		}
	}
}

// attemptReconnect fires from the reconnect timer. A throttled attempt is
// rescheduled for the remaining wait rather than failed.
func (m *Manager) attemptReconnect(key string, gen int) {
	m.mu.Lock()
	ep, ok := m.endpoints[key]
	if !ok || ep.gen != gen || !ep.reconnectEnabled || m.closed {
		m.mu.Unlock()
		return
	}

	if wait := m.throttleRemaining(ep); wait > 0 {
		ep.reconnectTimer = time.AfterFunc(wait, func() {
			m.attemptReconnect(key, gen)
		})
		m.mu.Unlock()
		return
	}

	ep.reconnectTimer = nil
	ep.lastAttempt = time.Now()
	ep.state = StateConnecting
	ctx := ep.ctx
	rawURL, header := ep.url, ep.header
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	m.logger.Info("attempting reconnection", "endpoint", key)
	_ = m.establish(ctx, ep, gen, rawURL, header)
}

func (m *Manager) delay(attempts int, abnormal bool) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.cfg.reconnectDelay(attempts, abnormal, m.rng)
}
