package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrConnectionClosed     = errors.New("connection closed")
	ErrConnectTimeout       = errors.New("connection timeout")
	ErrAlreadyConnected     = errors.New("already connected")
	ErrNotConnected         = errors.New("not connected")
	ErrMaxReconnectAttempts = errors.New("maximum reconnect attempts exceeded")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the connection manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish a connection.
// It should return nil on success or an error on failure.
type ConnectFunc func(ctx context.Context) error

// Manager manages connection lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	// Current state
	state State

	// Backoff calculator
	backoff *Backoff

	// Connection function
	connectFn ConnectFunc

	// Auto-reconnect enabled
	autoReconnect bool

	// Maximum consecutive reconnect attempts before giving up
	maxAttempts int

	// Per-attempt connect timeout during reconnection
	attemptTimeout time.Duration

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for reconnection goroutine
	wg sync.WaitGroup

	// Channel to signal reconnection should start
	reconnectCh chan struct{}

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
	onGaveUp       func(err error)
}

// ManagerConfig configures a connection manager.
type ManagerConfig struct {
	// Backoff configures reconnect delays. Zero values use defaults.
	Backoff BackoffConfig

	// MaxAttempts limits consecutive reconnect attempts (default 5).
	MaxAttempts int

	// AttemptTimeout bounds each reconnect attempt (default 30s).
	AttemptTimeout time.Duration
}

// NewManager creates a connection manager with default settings.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithConfig(connectFn, ManagerConfig{})
}

// NewManagerWithConfig creates a connection manager with custom settings.
func NewManagerWithConfig(connectFn ConnectFunc, cfg ManagerConfig) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		state:          StateDisconnected,
		backoff:        NewBackoffWithConfig(cfg.Backoff),
		connectFn:      connectFn,
		autoReconnect:  true,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect initiates a connection.
// Returns ErrAlreadyConnected if already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}

	oldState := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.notifyStateChange(StateConnecting, StateDisconnected)
		return err
	}

	m.state = StateConnected
	m.backoff.Reset()
	m.mu.Unlock()

	m.notifyStateChange(StateConnecting, StateConnected)
	if m.onConnected != nil {
		m.onConnected()
	}

	return nil
}

// Disconnect marks the connection as cooperatively closed.
// The reconnect path is never taken for an explicit disconnect: a
// Disconnect issued while reconnection is in progress aborts the
// in-flight retry loop.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateDisconnected)
	if oldState == StateConnected && m.onDisconnected != nil {
		m.onDisconnected()
	}
}

// NotifyConnectionLost should be called when an abnormal connection loss
// is detected. This triggers automatic reconnection if enabled.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	autoReconnect := m.autoReconnect

	if autoReconnect {
		m.state = StateReconnecting
	} else {
		m.state = StateDisconnected
	}
	newState := m.state
	m.mu.Unlock()

	m.notifyStateChange(oldState, newState)
	if m.onDisconnected != nil {
		m.onDisconnected()
	}

	if autoReconnect {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the connection manager and stops the reconnect loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// triggerReconnect signals that reconnection should be attempted.
func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// Already pending
	}
}

// reconnectLoop runs in a goroutine and handles reconnection attempts.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect performs reconnection with backoff, giving up after
// maxAttempts consecutive failures. The loop is only valid while the
// manager remains in RECONNECTING: any other state means a Disconnect,
// Close, or concurrent Connect has taken over, and the loop must stop
// without dialing again.
func (m *Manager) attemptReconnect() {
	m.backoff.Reset()

	for {
		m.mu.RLock()
		state := m.state
		m.mu.RUnlock()

		if state != StateReconnecting {
			return
		}

		if m.backoff.Attempts() >= m.maxAttempts {
			m.giveUp()
			return
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		if m.onReconnecting != nil {
			m.onReconnecting(attempt, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(m.ctx, m.attemptTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.mu.Lock()
			oldState := m.state
			m.state = StateConnected
			m.backoff.Reset()
			m.mu.Unlock()

			m.notifyStateChange(oldState, StateConnected)
			if m.onConnected != nil {
				m.onConnected()
			}
			return
		}

		// Failed - continue looping with next backoff
	}
}

// giveUp surfaces the terminal reconnect failure. Subscription records
// are owned elsewhere and stay intact.
func (m *Manager) giveUp() {
	m.mu.Lock()
	oldState := m.state
	if oldState != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.notifyStateChange(oldState, StateDisconnected)
	if m.onGaveUp != nil {
		m.onGaveUp(ErrMaxReconnectAttempts)
	}
}

// notifyStateChange invokes the state-change callback if set.
func (m *Manager) notifyStateChange(oldState, newState State) {
	if m.onStateChange != nil && oldState != newState {
		m.onStateChange(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for disconnection.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnGaveUp sets a callback for when reconnection is abandoned after the
// attempt cap is reached.
func (m *Manager) OnGaveUp(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGaveUp = fn
}

// BackoffAttempts returns the current number of reconnection attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
