package client

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/tradewire-protocol/tradewire-go/pkg/auth"
	"github.com/tradewire-protocol/tradewire-go/pkg/config"
	"github.com/tradewire-protocol/tradewire-go/pkg/connection"
	"github.com/tradewire-protocol/tradewire-go/pkg/keystore"
	tlog "github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/multiplex"
	"github.com/tradewire-protocol/tradewire-go/pkg/transport"
)

// ErrClientClosed is returned for operations after Shutdown.
var ErrClientClosed = errors.New("client: closed")

// stateEventBuffer bounds the connection-state event stream.
const stateEventBuffer = 16

// StateEvent is one entry of the connection-state event stream.
type StateEvent struct {
	// Old and New are the connection states.
	Old, New connection.State

	// Err is set for terminal failures, notably
	// connection.ErrMaxReconnectAttempts.
	Err error
}

// Options carries the client's collaborators.
type Options struct {
	// Store persists device identity and session. Required.
	Store keystore.Store

	// Logger receives protocol events. Defaults to NoopLogger.
	Logger tlog.Logger

	// HTTPClient overrides the auth HTTP client.
	HTTPClient *http.Client
}

// Client is a streaming protocol client over one logical connection.
type Client struct {
	cfg          *config.Config
	connectionID string
	logger       tlog.Logger

	auth    *auth.Manager
	mux     *multiplex.Multiplexer
	manager *connection.Manager

	mu     sync.Mutex
	conn   *transport.Conn
	closed bool

	events chan StateEvent
}

// New creates a client. No I/O happens until Connect.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = tlog.NoopLogger{}
	}

	connectionID := uuid.NewString()

	authManager, err := auth.NewManager(auth.Config{
		BaseURL:    cfg.API.BaseURL,
		Store:      opts.Store,
		HTTPClient: opts.HTTPClient,
		RateLimit:  cfg.API.RateLimit,
		RateWindow: cfg.API.RateWindow,
		Logger:     opts.Logger,
		ClientID:   connectionID,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		connectionID: connectionID,
		logger:       opts.Logger,
		auth:         authManager,
		mux: multiplex.New(multiplex.Config{
			Logger:       opts.Logger,
			ConnectionID: connectionID,
		}),
		events: make(chan StateEvent, stateEventBuffer),
	}

	c.manager = connection.NewManagerWithConfig(c.dial, connection.ManagerConfig{
		Backoff: connection.BackoffConfig{
			Initial: cfg.Reconnect.BaseDelay,
			Jitter:  cfg.Reconnect.Jitter,
		},
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	})
	c.manager.OnStateChange(func(oldState, newState connection.State) {
		c.publish(StateEvent{Old: oldState, New: newState})
	})
	c.manager.OnGaveUp(func(err error) {
		// Subscription records survive; the caller decides what next.
		c.publish(StateEvent{
			Old: connection.StateReconnecting,
			New: connection.StateDisconnected,
			Err: err,
		})
	})
	c.manager.StartReconnectLoop()

	return c, nil
}

// Auth exposes the credential manager for pairing and login flows.
func (c *Client) Auth() *auth.Manager {
	return c.auth
}

// Events is the connection-state event stream. Events are dropped if
// the consumer falls more than the buffer behind.
func (c *Client) Events() <-chan StateEvent {
	return c.events
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Connect ensures a valid session, dials the stream and performs the
// connect handshake. Registered subscriptions are replayed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	return c.manager.Connect(ctx)
}

// dial is the connect function driven by the connection manager, for
// both the initial connect and every reconnect attempt.
func (c *Client) dial(ctx context.Context) error {
	session, err := c.auth.EnsureValidSession(ctx)
	if err != nil {
		return err
	}

	conn, err := transport.Dial(ctx, transport.Config{
		URL:              c.cfg.Stream.URL,
		ProtocolVersion:  config.ProtocolVersion,
		Metadata:         c.cfg.HandshakeMetadata(session.SessionToken),
		HandshakeTimeout: c.cfg.Stream.HandshakeTimeout,
		PingInterval:     c.cfg.Stream.PingInterval,
		PongTimeout:      c.cfg.Stream.PongTimeout,
		Logger:           c.logger,
		ConnectionID:     c.connectionID,
	}, (*transportHandler)(c))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Clears baselines and re-sends sub frames with their original ids.
	return c.mux.Replay(conn)
}

// transportHandler adapts the client to the transport callbacks.
type transportHandler Client

func (h *transportHandler) OnFrame(text string) {
	(*Client)(h).mux.HandleFrame(text)
}

func (h *transportHandler) OnConnectionLost(err error) {
	c := (*Client)(h)
	c.mux.ConnectionLost()
	c.manager.NotifyConnectionLost()
}

// Subscribe registers a subscription. When connected the sub frame goes
// out immediately; otherwise it is sent on the next (re)connect.
func (c *Client) Subscribe(subType string, params map[string]any, handler multiplex.Handler) (string, error) {
	return c.mux.Subscribe(subType, params, handler)
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (c *Client) Unsubscribe(id string) error {
	return c.mux.Unsubscribe(id)
}

// WaitFirst subscribes and blocks until the first full payload.
func (c *Client) WaitFirst(ctx context.Context, subType string, params map[string]any, handler multiplex.Handler) (string, string, error) {
	return c.mux.WaitFirst(ctx, subType, params, handler)
}

// Subscriptions returns the number of registered subscriptions.
func (c *Client) Subscriptions() int {
	return c.mux.Count()
}

// Close suspends the client: the socket is closed cooperatively,
// pending waiters are settled with a cancellation error, and the
// subscription table is kept. A later Connect resumes the streams.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.manager.Disconnect()
	c.mux.Suspend()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Shutdown is final: like Close but also clears the subscription table
// and stops the reconnect loop. The client cannot be reused.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.manager.Close()
	c.mux.Shutdown()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// publish pushes a state event without blocking the dispatch path.
func (c *Client) publish(event StateEvent) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- event:
	default:
	}
}
