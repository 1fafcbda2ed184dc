package multiplex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/delta"
	tlog "github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// ErrMultiplexerClosed is returned by Subscribe after Shutdown.
var ErrMultiplexerClosed = errors.New("multiplex: multiplexer closed")

// DefaultWaitTimeout bounds WaitFirst when the caller's context carries
// no deadline.
const DefaultWaitTimeout = 15 * time.Second

// Sender writes outbound text frames. Satisfied by *transport.Conn.
type Sender interface {
	Send(text string) error
}

// Config configures a Multiplexer.
type Config struct {
	// Logger receives wire-layer events. Defaults to NoopLogger.
	Logger tlog.Logger

	// ConnectionID tags log events.
	ConnectionID string
}

// Multiplexer owns the subscription table and routes inbound frames.
// Safe for concurrent use; frame handling itself is serialized by the
// transport's single read loop.
type Multiplexer struct {
	logger       tlog.Logger
	connectionID string

	mu     sync.Mutex
	nextID uint64
	subs   map[string]*subscription
	sender Sender
	closed bool

	waiters *waiterTable
}

// New creates a multiplexer with no connection attached. Subscriptions
// made before Attach are queued and sent on the first Replay.
func New(cfg Config) *Multiplexer {
	if cfg.Logger == nil {
		cfg.Logger = tlog.NoopLogger{}
	}
	return &Multiplexer{
		logger:       cfg.Logger,
		connectionID: cfg.ConnectionID,
		subs:         make(map[string]*subscription),
		waiters:      newWaiterTable(),
	}
}

// Subscribe records a subscription and, when connected, sends its sub
// frame immediately. The returned id is a monotonic decimal string,
// unique for the lifetime of the multiplexer. When disconnected the
// subscription is queued and sent by the next Replay.
func (m *Multiplexer) Subscribe(subType string, params map[string]any, handler Handler) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrMultiplexerClosed
	}
	m.nextID++
	id := strconv.FormatUint(m.nextID, 10)
	sub := newSubscription(id, subType, params, handler)
	m.subs[id] = sub
	sender := m.sender
	m.mu.Unlock()

	m.logSubscriptionState(id, "", "REGISTERED", subType)

	if sender != nil {
		frame, err := wire.EncodeSub(id, subType, params)
		if err != nil {
			m.removeSubscription(id)
			return "", err
		}
		if err := m.send(sender, frame); err != nil {
			// Keep the record; Replay will resend once reconnected.
			m.logError("subscribe", err)
		}
	}
	return id, nil
}

// Unsubscribe removes the subscription and, when connected, sends an
// unsub frame. Unknown ids are a no-op. Pending waiters for the id are
// settled with ErrWaitCanceled.
func (m *Multiplexer) Unsubscribe(id string) error {
	m.mu.Lock()
	sub, exists := m.subs[id]
	if exists {
		delete(m.subs, id)
	}
	sender := m.sender
	m.mu.Unlock()

	for _, w := range m.waiters.take(id) {
		w.settle("", ErrWaitCanceled)
	}
	if !exists {
		return nil
	}

	sub.stop()
	m.logSubscriptionState(id, "REGISTERED", "REMOVED", "unsubscribed")

	if sender != nil {
		if err := m.send(sender, wire.EncodeUnsub(id)); err != nil {
			return err
		}
	}
	return nil
}

// HandleFrame routes one inbound text frame. Implements the transport
// frame callback. Frames for unknown subscriptions and frames with
// unknown codes are dropped with a diagnostic.
func (m *Multiplexer) HandleFrame(text string) {
	if text == wire.HandshakeAck {
		return
	}

	frame, err := wire.ParseInbound(text)
	if err != nil {
		m.logError("parse", err)
		return
	}
	if !frame.Code.Known() {
		m.logError("dispatch", fmt.Errorf("dropping frame with code %s for subscription %s",
			frame.Code, frame.SubscriptionID))
		return
	}

	m.mu.Lock()
	sub, exists := m.subs[frame.SubscriptionID]
	m.mu.Unlock()
	if !exists {
		m.logError("dispatch", fmt.Errorf("dropping %s frame for unknown subscription %s",
			frame.Code, frame.SubscriptionID))
		return
	}

	switch frame.Code {
	case wire.FrameFull:
		m.handlePayload(sub, frame.Payload)

	case wire.FrameDelta:
		m.handleDelta(sub, frame.Payload)

	case wire.FrameError:
		m.deliver(sub, Event{
			SubscriptionID: sub.id,
			Kind:           EventError,
			Payload:        frame.Payload,
		})
		for _, w := range m.waiters.take(sub.id) {
			w.settle("", fmt.Errorf("multiplex: subscription %s: server error: %s", sub.id, frame.Payload))
		}

	case wire.FrameComplete:
		m.mu.Lock()
		delete(m.subs, sub.id)
		m.mu.Unlock()
		m.deliver(sub, Event{SubscriptionID: sub.id, Kind: EventComplete})
		sub.stop()
		for _, w := range m.waiters.take(sub.id) {
			w.settle("", ErrWaitCanceled)
		}
		m.logSubscriptionState(sub.id, "REGISTERED", "REMOVED", "stream complete")
	}
}

// handlePayload stores a full payload as the new baseline and
// dispatches it.
func (m *Multiplexer) handlePayload(sub *subscription, payload string) {
	m.mu.Lock()
	sub.baseline = payload
	sub.hasBaseline = true
	m.mu.Unlock()

	m.deliver(sub, Event{SubscriptionID: sub.id, Kind: EventData, Payload: payload})
	for _, w := range m.waiters.take(sub.id) {
		w.settle(payload, nil)
	}
}

// handleDelta reconstructs the payload from the baseline. Decode
// failures are isolated to this subscription: they are dispatched as a
// local error event and do not touch other subscriptions.
func (m *Multiplexer) handleDelta(sub *subscription, payload string) {
	m.mu.Lock()
	baseline, hasBaseline := sub.baseline, sub.hasBaseline
	m.mu.Unlock()

	if !hasBaseline {
		err := wire.NewProtocolError(sub.id, "delta frame before any full frame", wire.ErrNoBaseline)
		m.dispatchDecodeError(sub, err)
		return
	}

	reconstructed, err := delta.Apply(baseline, payload)
	if err != nil {
		m.dispatchDecodeError(sub, wire.NewProtocolError(sub.id, "applying delta frame", err))
		return
	}
	m.handlePayload(sub, reconstructed)
}

func (m *Multiplexer) dispatchDecodeError(sub *subscription, err error) {
	m.logError("decode", err)
	m.deliver(sub, Event{SubscriptionID: sub.id, Kind: EventError, Err: err})
	for _, w := range m.waiters.take(sub.id) {
		w.settle("", err)
	}
}

// Attach binds a live connection without replaying. Used for the very
// first connect when no subscriptions exist yet.
func (m *Multiplexer) Attach(sender Sender) {
	m.mu.Lock()
	m.sender = sender
	m.mu.Unlock()
}

// Replay binds a (re)connected sender, clears every baseline and
// re-sends the sub frame for each registered subscription with its
// original id. The server restarts each stream with a full frame, so a
// baseline from before the disconnect must never be patched again.
func (m *Multiplexer) Replay(sender Sender) error {
	m.mu.Lock()
	m.sender = sender
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		sub.baseline = ""
		sub.hasBaseline = false
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		frame, err := wire.EncodeSub(sub.id, sub.subType, sub.params)
		if err != nil {
			return err
		}
		if err := m.send(sender, frame); err != nil {
			return fmt.Errorf("replaying subscription %s: %w", sub.id, err)
		}
	}
	return nil
}

// ConnectionLost detaches the sender and settles every pending waiter
// with ErrConnectionLost. Subscription records survive for replay.
func (m *Multiplexer) ConnectionLost() {
	m.mu.Lock()
	m.sender = nil
	m.mu.Unlock()

	for _, w := range m.waiters.takeAll() {
		w.settle("", ErrConnectionLost)
	}
}

// Suspend detaches and settles all waiters with ErrWaitCanceled but
// keeps the subscription table for a later resume.
func (m *Multiplexer) Suspend() {
	m.mu.Lock()
	m.sender = nil
	m.mu.Unlock()

	for _, w := range m.waiters.takeAll() {
		w.settle("", ErrWaitCanceled)
	}
}

// Shutdown is final: settles all waiters, stops every dispatch queue
// and clears the table. The multiplexer accepts no new subscriptions
// afterwards.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.sender = nil
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, w := range m.waiters.takeAll() {
		w.settle("", ErrWaitCanceled)
	}
	for _, sub := range subs {
		sub.stop()
	}
}

// AwaitData registers a one-shot waiter for the next full payload on
// id. Zero timeout means DefaultWaitTimeout.
func (m *Multiplexer) AwaitData(id string, timeout time.Duration) *PendingWaiter {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return m.waiters.add(id, timeout)
}

// WaitFirst subscribes and blocks until the first full payload arrives,
// returning the subscription id alongside it. The subscription stays
// registered; events keep flowing to handler.
func (m *Multiplexer) WaitFirst(ctx context.Context, subType string, params map[string]any, handler Handler) (string, string, error) {
	timeout := DefaultWaitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	id, err := m.Subscribe(subType, params, handler)
	if err != nil {
		return "", "", err
	}
	payload, err := m.AwaitData(id, timeout).Wait(ctx)
	if err != nil {
		return id, "", err
	}
	return id, payload, nil
}

// Count returns the number of registered subscriptions.
func (m *Multiplexer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// PendingWaiters returns the number of unsettled waiters.
func (m *Multiplexer) PendingWaiters() int {
	return m.waiters.pending()
}

// ActiveIDs returns the registered subscription ids.
func (m *Multiplexer) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Multiplexer) removeSubscription(id string) {
	m.mu.Lock()
	sub, exists := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if exists {
		sub.stop()
	}
}

// deliver hands an event to the subscription's dispatch queue.
func (m *Multiplexer) deliver(sub *subscription, event Event) {
	if !sub.deliver(event) {
		m.logError("dispatch", fmt.Errorf("dropping %s event for subscription %s: queue full",
			event.Kind, sub.id))
	}
}

// send writes a frame and logs it at the wire layer.
func (m *Multiplexer) send(sender Sender, frame string) error {
	if err := sender.Send(frame); err != nil {
		return err
	}
	m.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connectionID,
		Direction:    tlog.DirectionOut,
		Layer:        tlog.LayerWire,
		Category:     tlog.CategoryFrame,
		Frame:        tlog.NewFrameEvent(frameVerb(frame), frame),
	})
	return nil
}

func (m *Multiplexer) logSubscriptionState(id, oldState, newState, reason string) {
	m.logger.Log(tlog.Event{
		Timestamp:      time.Now(),
		ConnectionID:   m.connectionID,
		Direction:      tlog.DirectionOut,
		Layer:          tlog.LayerWire,
		Category:       tlog.CategoryState,
		SubscriptionID: id,
		StateChange: &tlog.StateChangeEvent{
			Entity:   tlog.StateEntitySubscription,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (m *Multiplexer) logError(context string, err error) {
	m.logger.Log(tlog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connectionID,
		Direction:    tlog.DirectionIn,
		Layer:        tlog.LayerWire,
		Category:     tlog.CategoryError,
		Error: &tlog.ErrorEventData{
			Layer:   tlog.LayerWire,
			Message: err.Error(),
			Context: context,
		},
	})
}

// frameVerb extracts the leading verb of an outbound frame.
func frameVerb(frame string) string {
	for i := 0; i < len(frame); i++ {
		if frame[i] == ' ' {
			return frame[:i]
		}
	}
	return frame
}
