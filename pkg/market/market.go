// Package market decodes market-data subscription payloads: tickers,
// instrument details, search results and news. Like the portfolio
// adapter it contains no protocol logic of its own.
package market

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradewire-protocol/tradewire-go/pkg/multiplex"
)

// Subscription types consumed by this package.
const (
	TypeTicker     = "ticker"
	TypeInstrument = "instrument"
	TypeSearch     = "neonSearch"
	TypeNews       = "neonNews"
)

// Streamer is the subscription surface this package needs.
type Streamer interface {
	Subscribe(subType string, params map[string]any, handler multiplex.Handler) (string, error)
	Unsubscribe(id string) error
	WaitFirst(ctx context.Context, subType string, params map[string]any, handler multiplex.Handler) (string, string, error)
}

// Quote is one side of a ticker.
type Quote struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
	Time  int64       `json:"time"`
}

// Ticker is a decoded per-instrument price stream payload.
type Ticker struct {
	Bid  Quote `json:"bid"`
	Ask  Quote `json:"ask"`
	Last Quote `json:"last"`
	Open Quote `json:"open"`

	Raw json.RawMessage `json:"-"`
}

// Instrument is a decoded instrument-details payload.
type Instrument struct {
	ISIN      string   `json:"isin"`
	Name      string   `json:"name"`
	TypeID    string   `json:"typeId"`
	Exchanges []string `json:"exchangeIds"`

	Raw json.RawMessage `json:"-"`
}

// SearchResult is one hit of an instrument search.
type SearchResult struct {
	ISIN string `json:"isin"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// SearchResults is a decoded search payload.
type SearchResults struct {
	Results []SearchResult `json:"results"`

	Raw json.RawMessage `json:"-"`
}

// NewsItem is one news entry for an instrument.
type NewsItem struct {
	ID        string `json:"id"`
	Headline  string `json:"headline"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"createdAt"`
}

// TickerHandler consumes ticker updates. A non-nil error reports a
// decode failure or a server error event; the stream stays active.
type TickerHandler func(Ticker, error)

// StreamTicker subscribes to the price stream for one instrument.
// The instrument id is "<isin>.<exchange>".
func StreamTicker(s Streamer, instrumentID string, handler TickerHandler) (string, error) {
	return s.Subscribe(TypeTicker, map[string]any{"id": instrumentID}, func(e multiplex.Event) {
		switch e.Kind {
		case multiplex.EventData:
			handler(decodeTicker(e.Payload))
		case multiplex.EventError:
			handler(Ticker{}, eventError(e))
		}
	})
}

// GetTicker waits for one ticker payload and unsubscribes.
func GetTicker(ctx context.Context, s Streamer, instrumentID string) (Ticker, error) {
	id, payload, err := s.WaitFirst(ctx, TypeTicker, map[string]any{"id": instrumentID}, nil)
	if err != nil {
		return Ticker{}, err
	}
	_ = s.Unsubscribe(id)
	return decodeTicker(payload)
}

// GetInstrument fetches instrument details once.
func GetInstrument(ctx context.Context, s Streamer, isin string) (Instrument, error) {
	id, payload, err := s.WaitFirst(ctx, TypeInstrument, map[string]any{"id": isin}, nil)
	if err != nil {
		return Instrument{}, err
	}
	_ = s.Unsubscribe(id)

	var instrument Instrument
	if err := json.Unmarshal([]byte(payload), &instrument); err != nil {
		return Instrument{}, fmt.Errorf("market: decoding instrument: %w", err)
	}
	instrument.Raw = json.RawMessage(payload)
	return instrument, nil
}

// Search runs an instrument search once.
func Search(ctx context.Context, s Streamer, query string, limit int) (SearchResults, error) {
	params := map[string]any{
		"data": map[string]any{"q": query, "page": 1, "pageSize": limit},
	}
	id, payload, err := s.WaitFirst(ctx, TypeSearch, params, nil)
	if err != nil {
		return SearchResults{}, err
	}
	_ = s.Unsubscribe(id)

	var results SearchResults
	if err := json.Unmarshal([]byte(payload), &results); err != nil {
		return SearchResults{}, fmt.Errorf("market: decoding search results: %w", err)
	}
	results.Raw = json.RawMessage(payload)
	return results, nil
}

// StreamNews subscribes to the news stream for one instrument.
func StreamNews(s Streamer, isin string, handler func([]NewsItem, error)) (string, error) {
	return s.Subscribe(TypeNews, map[string]any{"isin": isin}, func(e multiplex.Event) {
		switch e.Kind {
		case multiplex.EventData:
			var items []NewsItem
			if err := json.Unmarshal([]byte(e.Payload), &items); err != nil {
				handler(nil, fmt.Errorf("market: decoding news: %w", err))
				return
			}
			handler(items, nil)
		case multiplex.EventError:
			handler(nil, eventError(e))
		}
	})
}

func decodeTicker(payload string) (Ticker, error) {
	var ticker Ticker
	if err := json.Unmarshal([]byte(payload), &ticker); err != nil {
		return Ticker{}, fmt.Errorf("market: decoding ticker: %w", err)
	}
	ticker.Raw = json.RawMessage(payload)
	return ticker, nil
}

func eventError(e multiplex.Event) error {
	if e.Err != nil {
		return e.Err
	}
	return fmt.Errorf("market: server error for subscription %s: %s", e.SubscriptionID, e.Payload)
}
