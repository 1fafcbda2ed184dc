package wire

import (
	"errors"
	"fmt"
)

// Frame-level errors.
var (
	// ErrMalformedFrame indicates an inbound frame that does not match the
	// "<id> <code><payload>" shape.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMalformedDelta indicates a delta instruction that does not match
	// the "<op><value>" shape or uses an unknown operator.
	ErrMalformedDelta = errors.New("malformed delta instruction")

	// ErrDeltaCursorOverrun indicates a copy or skip instruction that would
	// advance the read cursor past the end of the baseline.
	ErrDeltaCursorOverrun = errors.New("delta cursor overrun")

	// ErrNoBaseline indicates a delta frame arriving before any full frame
	// established a baseline for the subscription.
	ErrNoBaseline = errors.New("delta before baseline")
)

// ProtocolError reports a protocol violation scoped to a single
// subscription. The affected subscription's state is desynchronized and
// must be re-established with a fresh subscribe; the connection itself
// stays usable.
type ProtocolError struct {
	// SubscriptionID is the id of the affected subscription, if known.
	SubscriptionID string

	// Reason describes the violation.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// NewProtocolError creates a ProtocolError for the given subscription.
func NewProtocolError(subscriptionID, reason string, cause error) *ProtocolError {
	return &ProtocolError{SubscriptionID: subscriptionID, Reason: reason, Cause: cause}
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.SubscriptionID != "" {
		msg = fmt.Sprintf("protocol error (subscription %s)", e.SubscriptionID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
