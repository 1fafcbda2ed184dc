package log

// Logger receives protocol events captured by the transport, wire and
// session layers.
type Logger interface {
	// Log records a single event. Events arrive from the socket read
	// loop, so implementations must be safe for concurrent use and
	// should not block.
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
