package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameCode identifies the kind of an inbound data frame.
type FrameCode byte

// Inbound frame codes.
const (
	// FrameFull carries a complete JSON payload that replaces the
	// subscription's baseline.
	FrameFull FrameCode = 'A'

	// FrameDelta carries a delta instruction sequence to be applied to the
	// subscription's current baseline.
	FrameDelta FrameCode = 'D'

	// FrameComplete terminates the subscription; it carries no payload.
	FrameComplete FrameCode = 'C'

	// FrameError carries an error JSON for the subscription. The
	// subscription stays registered.
	FrameError FrameCode = 'E'
)

// String returns a human-readable frame code name.
func (c FrameCode) String() string {
	switch c {
	case FrameFull:
		return "FULL"
	case FrameDelta:
		return "DELTA"
	case FrameComplete:
		return "COMPLETE"
	case FrameError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%q)", byte(c))
	}
}

// Known reports whether the code is part of the protocol vocabulary.
// Frames with unknown codes are dropped with a diagnostic, not treated
// as errors.
func (c FrameCode) Known() bool {
	switch c {
	case FrameFull, FrameDelta, FrameComplete, FrameError:
		return true
	default:
		return false
	}
}

// HandshakeAck is the literal frame the server sends once the connect
// handshake succeeded. The connection is live only after this frame; any
// other inbound text before it is not a handshake result.
const HandshakeAck = "connected"

// InboundFrame is a parsed "<id> <code><payload>" data frame.
type InboundFrame struct {
	SubscriptionID string
	Code           FrameCode
	Payload        string
}

// ParseInbound parses an inbound data frame.
//
// The frame shape is the subscription id, one space, a single frame code
// character and the payload. A single space between code and payload is
// tolerated and stripped.
func ParseInbound(text string) (InboundFrame, error) {
	sp := strings.IndexByte(text, ' ')
	if sp <= 0 {
		return InboundFrame{}, fmt.Errorf("%w: missing subscription id in %q", ErrMalformedFrame, truncate(text))
	}
	id := text[:sp]
	rest := text[sp+1:]
	if rest == "" {
		return InboundFrame{}, fmt.Errorf("%w: missing frame code in %q", ErrMalformedFrame, truncate(text))
	}

	code := FrameCode(rest[0])
	payload := rest[1:]
	payload = strings.TrimPrefix(payload, " ")

	return InboundFrame{
		SubscriptionID: id,
		Code:           code,
		Payload:        payload,
	}, nil
}

// EncodeConnect builds the connect handshake frame:
// "connect <version> <json metadata>".
func EncodeConnect(version int, metadata map[string]string) (string, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding handshake metadata: %w", err)
	}
	return fmt.Sprintf("connect %d %s", version, data), nil
}

// EncodeSub builds a subscribe frame: "sub <id> <json>". The payload
// contains the subscription type under the "type" key, merged with the
// caller-supplied parameters. Parameters must not override the type.
func EncodeSub(id, subType string, params map[string]any) (string, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["type"] = subType

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding subscribe payload: %w", err)
	}
	return fmt.Sprintf("sub %s %s", id, data), nil
}

// EncodeUnsub builds an unsubscribe frame: "unsub <id>".
func EncodeUnsub(id string) string {
	return "unsub " + id
}

// truncate limits frame text in error messages.
func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
