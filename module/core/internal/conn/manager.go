package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nandanugg/tj-tracking/module/core/domain"
	"github.com/nandanugg/tj-tracking/module/core/internal/observability"
)

var ErrNotConnected = errors.New("conn: not connected")

type Config struct {
	URL            string
	ReconnectDelay time.Duration
	MaxAttempts    int
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ReconnectDelay: 3 * time.Second,
		MaxAttempts:    10,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Handler consumes one decoded feed event.
type Handler func(domain.Event) error

type StateFunc func(from, to State)

// FailureFunc is told once that the manager gave up reconnecting.
type FailureFunc func(attempts int, lastErr error)

type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Manager owns the single live connection of one client session to the
// tracking feed and keeps it alive with a fixed-delay reconnect policy.
type Manager struct {
	cfg      Config
	dialer   Dialer
	logger   *slog.Logger
	clientID string
	schedule scheduleFunc

	mu          sync.Mutex
	state       State
	gen         uint64
	attempts    int
	conn        Conn
	stopTimer   func() bool
	cancelDial  context.CancelFunc
	notified    bool
	transitions [][2]State

	writeMu sync.Mutex

	hooksMu   sync.RWMutex
	handlers  []Handler
	onState   []StateFunc
	onFailure []FailureFunc
}

func NewManager(cfg Config, dialer Dialer, logger *slog.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger.With("component", "conn", "client_id", id),
		clientID: id,
		schedule: afterFunc,
	}
}

func (m *Manager) ClientID() string {
	return m.clientID
}

// Endpoint is the per-session channel on the feed.
func (m *Manager) Endpoint() string {
	return strings.TrimRight(m.cfg.URL, "/") + "/ws/tracking/" + m.clientID
}

func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RegisterHandler adds h to the handlers invoked, in registration order,
// for every decoded event.
func (m *Manager) RegisterHandler(h Handler) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) OnStateChange(fn StateFunc) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onState = append(m.onState, fn)
}

func (m *Manager) OnFailure(fn FailureFunc) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onFailure = append(m.onFailure, fn)
}

// Connect opens the feed connection. It is a no-op while connecting or
// connected, and restarts the attempt budget from Disconnected or Failed.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	switch m.state {
	case Connecting, Connected:
		m.mu.Unlock()
		return
	case Reconnecting:
		m.stopTimerLocked()
	case Disconnected, Failed:
		m.attempts = 0
		m.notified = false
	}
	gen := m.beginAttemptLocked()
	m.unlockAndNotify()

	m.dial(ctx, gen)
}

// Disconnect closes the connection from any state and cancels a pending
// reconnect. No event is delivered after Disconnect returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.attempts = 0
	m.setStateLocked(Disconnected)
	m.unlockAndNotify()

	m.logger.Info("disconnected")
}

// Send writes cmd to the feed. Outside Connected it drops the command and
// returns ErrNotConnected.
func (m *Manager) Send(cmd domain.Command) error {
	m.mu.Lock()
	c, gen, state := m.conn, m.gen, m.state
	m.mu.Unlock()

	if state != Connected || c == nil {
		observability.SendDropped.Inc()
		m.logger.Warn("send dropped, feed not connected",
			"command", cmd.CommandType(), "state", state.String())
		return ErrNotConnected
	}

	data, err := Encode(cmd)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	if m.cfg.WriteTimeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	err = c.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		m.transportFailed(gen, fmt.Errorf("write: %w", err))
		return fmt.Errorf("send %s: %w", cmd.CommandType(), err)
	}
	return nil
}

func (m *Manager) beginAttemptLocked() uint64 {
	m.gen++
	m.setStateLocked(Connecting)
	return m.gen
}

func (m *Manager) dial(parent context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.DialTimeout)
	defer cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.cancelDial = cancel
	m.mu.Unlock()

	m.logger.Info("connecting", "url", m.Endpoint())
	c, err := m.dialer.Dial(ctx, m.Endpoint())
	if err != nil {
		m.transportFailed(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = c.Close()
		return
	}
	m.cancelDial = nil
	m.conn = c
	m.attempts = 0
	m.setStateLocked(Connected)
	m.unlockAndNotify()

	m.logger.Info("connected")
	go m.readLoop(gen, c)
}

func (m *Manager) readLoop(gen uint64, c Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.transportFailed(gen, fmt.Errorf("read: %w", err))
			return
		}
		m.deliver(gen, data)
	}
}

// transportFailed handles a dial failure, close or error of the connection
// belonging to gen. Stale generations are ignored.
func (m *Manager) transportFailed(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || (m.state != Connecting && m.state != Connected) {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.cancelDial = nil
	m.attempts++
	attempts := m.attempts

	if attempts >= m.cfg.MaxAttempts {
		m.gen++
		m.setStateLocked(Failed)
		notify := !m.notified
		m.notified = true
		m.unlockAndNotify()

		m.logger.Error("max reconnect attempts exceeded",
			"attempts", attempts, "error", cause)
		if notify {
			m.notifyFailure(attempts, cause)
		}
		return
	}

	m.setStateLocked(Reconnecting)
	m.stopTimer = m.schedule(m.cfg.ReconnectDelay, func() { m.reconnect(gen) })
	m.unlockAndNotify()

	observability.ReconnectAttempts.Inc()
	m.logger.Warn("feed transport failed, reconnecting",
		"error", cause,
		"attempt", attempts,
		"max_attempts", m.cfg.MaxAttempts,
		"delay", m.cfg.ReconnectDelay,
	)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	next := m.beginAttemptLocked()
	m.unlockAndNotify()

	m.dial(context.Background(), next)
}

func (m *Manager) stopTimerLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && m.state == Connected
}

func (m *Manager) deliver(gen uint64, data []byte) {
	if !m.current(gen) {
		return
	}

	ev, err := Decode(data)
	if err != nil {
		observability.DecodeErrors.Inc()
		m.logger.Warn("dropping malformed message", "error", err, "size", len(data))
		return
	}
	observability.MessagesReceived.WithLabelValues(string(ev.Type)).Inc()

	m.hooksMu.RLock()
	handlers := append([]Handler(nil), m.handlers...)
	m.hooksMu.RUnlock()

	for i, h := range handlers {
		if !m.current(gen) {
			return
		}
		m.invoke(i, h, ev)
	}
}

func (m *Manager) invoke(i int, h Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.HandlerFailures.Inc()
			m.logger.Error("handler panicked", "handler", i, "type", ev.Type, "panic", r)
		}
	}()
	if err := h(ev); err != nil {
		observability.HandlerFailures.Inc()
		m.logger.Error("handler failed", "handler", i, "type", ev.Type, "error", err)
	}
}

func (m *Manager) setStateLocked(to State) {
	if m.state == to {
		return
	}
	m.transitions = append(m.transitions, [2]State{m.state, to})
	m.state = to
	observability.ConnectionState.Set(float64(to))
}

// unlockAndNotify releases m.mu and then runs state hooks for the
// transitions recorded while it was held.
func (m *Manager) unlockAndNotify() {
	pending := m.transitions
	m.transitions = nil
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	m.hooksMu.RLock()
	hooks := append([]StateFunc(nil), m.onState...)
	m.hooksMu.RUnlock()

	for _, t := range pending {
		for _, fn := range hooks {
			fn(t[0], t[1])
		}
	}
}

func (m *Manager) notifyFailure(attempts int, cause error) {
	m.hooksMu.RLock()
	hooks := append([]FailureFunc(nil), m.onFailure...)
	m.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(attempts, cause)
	}
}
