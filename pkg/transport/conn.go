package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradewire-protocol/tradewire-go/pkg/connection"
	tlog "github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// Default transport settings.
const (
	// DefaultHandshakeTimeout bounds the whole connect handshake, from
	// dial to the server's acknowledgement frame.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultPingInterval is the keepalive ping period once live.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxFrameSize is the maximum inbound frame size in bytes.
	DefaultMaxFrameSize = 1 << 20
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: connection closed")

	// ErrHandshakeRejected is returned when the socket opens but the
	// server closes it before acknowledging the connect frame.
	ErrHandshakeRejected = errors.New("transport: handshake rejected")
)

// Config configures a websocket connection.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://stream.example.com".
	URL string

	// ProtocolVersion is the handshake protocol version.
	ProtocolVersion int

	// Metadata is sent in the connect frame: locale, platform, client
	// version and the session token.
	Metadata map[string]string

	// Header carries extra HTTP headers for the websocket upgrade.
	Header http.Header

	// TLSConfig is the TLS client configuration (nil = defaults).
	TLSConfig *tls.Config

	// HandshakeTimeout bounds dial plus connect handshake
	// (default 10s).
	HandshakeTimeout time.Duration

	// PingInterval is the keepalive ping period (default 30s).
	PingInterval time.Duration

	// PongTimeout enforces a read deadline refreshed by pongs. Zero
	// disables liveness enforcement; absence of traffic is not itself a
	// failure.
	PongTimeout time.Duration

	// WriteTimeout bounds a single frame write (default 10s).
	WriteTimeout time.Duration

	// MaxFrameSize is the inbound frame size limit (default 1MB).
	MaxFrameSize int64

	// Logger receives frame and control events. Defaults to NoopLogger.
	Logger tlog.Logger

	// ConnectionID tags log events.
	ConnectionID string
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Logger == nil {
		c.Logger = tlog.NoopLogger{}
	}
}

// Handler receives inbound frames and connection loss.
type Handler interface {
	// OnFrame is called for every inbound text frame after the
	// handshake, in read order.
	OnFrame(text string)

	// OnConnectionLost is called exactly once when the connection fails
	// without a prior Close: read error, abnormal close code or pong
	// deadline. Never called after Close.
	OnConnectionLost(err error)
}

// Conn is a single live websocket connection. Created by Dial, already
// past the connect handshake.
type Conn struct {
	cfg     Config
	ws      *websocket.Conn
	handler Handler
	logger  tlog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// Dial opens the websocket, performs the connect handshake and starts
// the read and keepalive loops. The connection is live only once the
// server has acknowledged the connect frame; the whole handshake is
// bounded by HandshakeTimeout and fails with
// connection.ErrConnectTimeout when exceeded.
func Dial(ctx context.Context, cfg Config, handler Handler) (*Conn, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, errors.New("transport: URL is required")
	}
	if handler == nil {
		return nil, errors.New("transport: handler is required")
	}

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  cfg.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dialing %s (status %d): %w", cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	ws.SetReadLimit(cfg.MaxFrameSize)

	c := &Conn{
		cfg:     cfg,
		ws:      ws,
		handler: handler,
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}

	if err := c.handshake(deadline); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readPump()
	go c.pingLoop()

	return c, nil
}

// handshake sends the connect frame and waits for the literal
// acknowledgement. Other inbound text before the acknowledgement is not
// a handshake result and is ignored.
func (c *Conn) handshake(deadline time.Time) error {
	frame, err := wire.EncodeConnect(c.cfg.ProtocolVersion, c.cfg.Metadata)
	if err != nil {
		return err
	}
	if err := c.write(frame); err != nil {
		return fmt.Errorf("sending connect frame: %w", err)
	}
	c.logFrame(tlog.DirectionOut, "connect", frame)

	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return connection.ErrConnectTimeout
			}
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if string(data) == wire.HandshakeAck {
			c.logFrame(tlog.DirectionIn, wire.HandshakeAck, wire.HandshakeAck)
			break
		}
	}

	// Live. Clear the handshake deadline unless pong liveness is on.
	var readDeadline time.Time
	if c.cfg.PongTimeout > 0 {
		readDeadline = time.Now().Add(c.cfg.PongTimeout)
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		})
	}
	return c.ws.SetReadDeadline(readDeadline)
}

// Send writes a text frame. Writes are serialized; concurrent callers
// are safe.
func (c *Conn) Send(text string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.write(text); err != nil {
		return err
	}
	c.logFrame(tlog.DirectionOut, frameVerb(text), text)
	return nil
}

func (c *Conn) write(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close performs a cooperative shutdown: a normal-closure frame, then
// the socket. Connection loss is never reported for a closed
// connection. Idempotent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		// Already closed or lost; just release the socket.
		return c.ws.Close()
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.logControl(tlog.ControlMsgClose, websocket.CloseNormalClosure)

	// Give the peer a moment to echo the close frame, then tear down.
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}

	if closeErr := c.ws.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Done is closed when the read loop has exited, for either reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readPump delivers inbound text frames to the handler until the
// connection fails or is closed.
func (c *Conn) readPump() {
	defer close(c.done)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.closed.Store(true)
			c.ws.Close()
			c.logError("read", err)
			c.handler.OnConnectionLost(connectionLost(err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		text := string(data)
		c.logFrame(tlog.DirectionIn, "", text)
		c.handler.OnFrame(text)
	}
}

// pingLoop sends a websocket ping every PingInterval while the
// connection lives.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil,
				time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
			c.logControl(tlog.ControlMsgPing, 0)
		}
	}
}

// connectionLost wraps a read failure, distinguishing abnormal close
// codes from plain read errors. A normal closure from the peer still
// counts as loss here; only the local Close suppresses the callback.
func connectionLost(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseNormalClosure {
		return fmt.Errorf("abnormal close (code %d): %w", closeErr.Code, err)
	}
	return fmt.Errorf("connection lost: %w", err)
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// frameVerb extracts the leading verb of an outbound frame for logging.
func frameVerb(text string) string {
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			return text[:i]
		}
	}
	return text
}

func (c *Conn) logFrame(dir tlog.Direction, code, text string) {
	c.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    dir,
		Layer:        tlog.LayerTransport,
		Category:     tlog.CategoryFrame,
		Frame:        tlog.NewFrameEvent(code, text),
	})
}

func (c *Conn) logControl(msgType tlog.ControlMsgType, closeCode int) {
	event := tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    tlog.DirectionOut,
		Layer:        tlog.LayerTransport,
		Category:     tlog.CategoryControl,
		ControlMsg:   &tlog.ControlMsgEvent{Type: msgType},
	}
	if closeCode != 0 {
		event.ControlMsg.CloseCode = &closeCode
	}
	c.logger.Log(event)
}

func (c *Conn) logError(context string, err error) {
	c.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    tlog.DirectionIn,
		Layer:        tlog.LayerTransport,
		Category:     tlog.CategoryError,
		Error: &tlog.ErrorEventData{
			Layer:   tlog.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}
