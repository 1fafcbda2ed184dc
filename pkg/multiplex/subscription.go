package multiplex

import (
	"sync"
)

// EventKind classifies subscription events.
type EventKind int

const (
	// EventData carries a full reconstructed payload, from a full frame
	// or a delta applied to the baseline.
	EventData EventKind = iota

	// EventError carries a server error payload or a local decode
	// failure. The subscription stays registered.
	EventError

	// EventComplete signals the server ended the stream. The
	// subscription is already removed when this is delivered.
	EventComplete
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventData:
		return "DATA"
	case EventError:
		return "ERROR"
	case EventComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event is a decoded subscription event delivered to a Handler.
type Event struct {
	// SubscriptionID is the subscription the event belongs to.
	SubscriptionID string

	// Kind classifies the event.
	Kind EventKind

	// Payload is the full JSON text for EventData, or the server error
	// JSON for EventError. Empty for EventComplete and local errors.
	Payload string

	// Err is set for EventError when the failure was local: a delta
	// against a missing baseline or a malformed delta frame.
	Err error
}

// Handler consumes events for one subscription. Handlers run on the
// subscription's own dispatch queue; they may block without delaying
// other subscriptions, but a persistently slow handler will eventually
// have events dropped.
type Handler func(Event)

// dispatchQueueSize bounds one subscription's undelivered events.
const dispatchQueueSize = 256

// subscription is one entry in the multiplexer's table.
type subscription struct {
	id      string
	subType string
	params  map[string]any
	handler Handler

	// baseline is the last reconstructed payload. Absent until the
	// first full frame, and cleared on replay.
	baseline    string
	hasBaseline bool

	queueMu sync.Mutex
	queue   chan Event
	closed  bool
}

func newSubscription(id, subType string, params map[string]any, handler Handler) *subscription {
	s := &subscription{
		id:      id,
		subType: subType,
		params:  params,
		handler: handler,
		queue:   make(chan Event, dispatchQueueSize),
	}
	go s.dispatchLoop()
	return s
}

// dispatchLoop delivers queued events in order until the queue closes.
func (s *subscription) dispatchLoop() {
	for event := range s.queue {
		if s.handler != nil {
			s.handler(event)
		}
	}
}

// deliver enqueues an event. Reports false when the subscription is
// stopped or the queue is full; the caller logs the drop.
func (s *subscription) deliver(event Event) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

// stop closes the dispatch queue. Queued events still drain to the
// handler. Idempotent.
func (s *subscription) stop() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
