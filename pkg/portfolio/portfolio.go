// Package portfolio decodes portfolio subscription payloads into typed
// snapshots. It is a thin consumer of the multiplexer; all protocol
// logic lives below it.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradewire-protocol/tradewire-go/pkg/multiplex"
)

// Subscription types consumed by this package.
const (
	TypePortfolio = "compactPortfolio"
	TypeCash      = "availableCash"
)

// Streamer is the subscription surface this package needs. Satisfied
// by *client.Client and by *multiplex.Multiplexer.
type Streamer interface {
	Subscribe(subType string, params map[string]any, handler multiplex.Handler) (string, error)
	Unsubscribe(id string) error
	WaitFirst(ctx context.Context, subType string, params map[string]any, handler multiplex.Handler) (string, string, error)
}

// Position is one holding in a portfolio snapshot.
type Position struct {
	InstrumentID string      `json:"instrumentId"`
	NetSize      json.Number `json:"netSize"`
	AveragePrice json.Number `json:"averageBuyIn"`
}

// Snapshot is a decoded portfolio state. Raw preserves the complete
// payload, including fields this struct does not model; callers must
// not base control decisions on unmodeled fields.
type Snapshot struct {
	Positions []Position `json:"positions"`

	Raw json.RawMessage `json:"-"`
}

// Cash is the available-cash payload.
type Cash struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currencyId"`

	Raw json.RawMessage `json:"-"`
}

// Handler consumes snapshot updates. A non-nil error reports a decode
// failure or a server error event for the stream; the subscription
// stays active.
type Handler func(Snapshot, error)

// Stream subscribes to portfolio updates. Every full payload is decoded
// and handed to handler; the returned id cancels via
// Streamer.Unsubscribe.
func Stream(s Streamer, handler Handler) (string, error) {
	return s.Subscribe(TypePortfolio, nil, func(e multiplex.Event) {
		switch e.Kind {
		case multiplex.EventData:
			handler(decodeSnapshot(e.Payload))
		case multiplex.EventError:
			handler(Snapshot{}, eventError(e))
		}
	})
}

// Get waits for the first portfolio snapshot. The subscription stays
// registered so later updates keep flowing to handler; pass nil to
// only fetch once and unsubscribe.
func Get(ctx context.Context, s Streamer, handler Handler) (Snapshot, error) {
	var wrapped multiplex.Handler
	if handler != nil {
		wrapped = func(e multiplex.Event) {
			if e.Kind == multiplex.EventData {
				handler(decodeSnapshot(e.Payload))
			}
		}
	}

	id, payload, err := s.WaitFirst(ctx, TypePortfolio, nil, wrapped)
	if err != nil {
		return Snapshot{}, err
	}
	if handler == nil {
		_ = s.Unsubscribe(id)
	}
	return decodeSnapshot(payload)
}

// GetCash waits for the available-cash payload and unsubscribes.
func GetCash(ctx context.Context, s Streamer) (Cash, error) {
	id, payload, err := s.WaitFirst(ctx, TypeCash, nil, nil)
	if err != nil {
		return Cash{}, err
	}
	_ = s.Unsubscribe(id)

	var cash Cash
	if err := json.Unmarshal([]byte(payload), &cash); err != nil {
		return Cash{}, fmt.Errorf("portfolio: decoding cash payload: %w", err)
	}
	cash.Raw = json.RawMessage(payload)
	return cash, nil
}

func decodeSnapshot(payload string) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("portfolio: decoding snapshot: %w", err)
	}
	snapshot.Raw = json.RawMessage(payload)
	return snapshot, nil
}

func eventError(e multiplex.Event) error {
	if e.Err != nil {
		return e.Err
	}
	return fmt.Errorf("portfolio: server error for subscription %s: %s", e.SubscriptionID, e.Payload)
}
