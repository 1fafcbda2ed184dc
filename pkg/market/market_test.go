package market

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/multiplex"
)

// sender answers sub frames with canned payloads keyed by type.
type sender struct {
	mux      *multiplex.Multiplexer
	payloads map[string]string

	mu     sync.Mutex
	frames []string
}

func (s *sender) Send(text string) error {
	s.mu.Lock()
	s.frames = append(s.frames, text)
	s.mu.Unlock()

	if strings.HasPrefix(text, "sub ") {
		parts := strings.SplitN(text, " ", 3)
		for subType, payload := range s.payloads {
			if strings.Contains(parts[2], `"type":"`+subType+`"`) {
				go s.mux.HandleFrame(parts[1] + " A" + payload)
			}
		}
	}
	return nil
}

func (s *sender) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func newStreamer(payloads map[string]string) (*multiplex.Multiplexer, *sender) {
	m := multiplex.New(multiplex.Config{})
	s := &sender{mux: m, payloads: payloads}
	m.Attach(s)
	return m, s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetTicker(t *testing.T) {
	m, s := newStreamer(map[string]string{
		TypeTicker: `{"bid":{"price":"187.2","size":"100","time":1724929200000},"ask":{"price":"187.4"},"last":{"price":"187.3"},"qualityId":"realtime"}`,
	})
	defer m.Shutdown()

	ticker, err := GetTicker(testContext(t), m, "US0378331005.LSX")
	if err != nil {
		t.Fatalf("GetTicker() error: %v", err)
	}
	if ticker.Bid.Price.String() != "187.2" {
		t.Errorf("Bid.Price = %v", ticker.Bid.Price)
	}
	if ticker.Bid.Time != 1724929200000 {
		t.Errorf("Bid.Time = %d", ticker.Bid.Time)
	}
	if !strings.Contains(string(ticker.Raw), "qualityId") {
		t.Error("Raw payload lost unmodeled fields")
	}

	// The sub frame carried the instrument id.
	var subFrame string
	for _, frame := range s.Frames() {
		if strings.HasPrefix(frame, "sub ") {
			subFrame = frame
		}
	}
	if !strings.Contains(subFrame, `"id":"US0378331005.LSX"`) {
		t.Errorf("sub frame = %q", subFrame)
	}
}

func TestStreamTicker(t *testing.T) {
	m, _ := newStreamer(map[string]string{
		TypeTicker: `{"last":{"price":"42.0"}}`,
	})
	defer m.Shutdown()

	updates := make(chan Ticker, 4)
	id, err := StreamTicker(m, "DE0007164600.LSX", func(ticker Ticker, err error) {
		if err != nil {
			t.Errorf("handler error: %v", err)
			return
		}
		updates <- ticker
	})
	if err != nil {
		t.Fatalf("StreamTicker() error: %v", err)
	}

	select {
	case ticker := <-updates:
		if ticker.Last.Price.String() != "42.0" {
			t.Errorf("Last.Price = %v", ticker.Last.Price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker delivered")
	}

	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
	_ = m.Unsubscribe(id)
}

func TestGetInstrument(t *testing.T) {
	m, _ := newStreamer(map[string]string{
		TypeInstrument: `{"isin":"US0378331005","name":"Apple Inc.","typeId":"stock","exchangeIds":["LSX","TDG"]}`,
	})
	defer m.Shutdown()

	instrument, err := GetInstrument(testContext(t), m, "US0378331005")
	if err != nil {
		t.Fatalf("GetInstrument() error: %v", err)
	}
	if instrument.Name != "Apple Inc." || len(instrument.Exchanges) != 2 {
		t.Errorf("instrument = %+v", instrument)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after one-shot fetch, want 0", m.Count())
	}
}

func TestSearch(t *testing.T) {
	m, s := newStreamer(map[string]string{
		TypeSearch: `{"results":[{"isin":"US0378331005","name":"Apple Inc.","type":"stock"}]}`,
	})
	defer m.Shutdown()

	results, err := Search(testContext(t), m, "apple", 5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results.Results) != 1 || results.Results[0].ISIN != "US0378331005" {
		t.Errorf("results = %+v", results)
	}

	var subFrame string
	for _, frame := range s.Frames() {
		if strings.HasPrefix(frame, "sub ") {
			subFrame = frame
		}
	}
	if !strings.Contains(subFrame, `"q":"apple"`) {
		t.Errorf("sub frame = %q missing query", subFrame)
	}
}

func TestStreamNews(t *testing.T) {
	m, _ := newStreamer(map[string]string{
		TypeNews: `[{"id":"n1","headline":"Quarterly results","source":"dpa","createdAt":1724929200000}]`,
	})
	defer m.Shutdown()

	items := make(chan []NewsItem, 1)
	_, err := StreamNews(m, "US0378331005", func(news []NewsItem, err error) {
		if err != nil {
			t.Errorf("handler error: %v", err)
			return
		}
		items <- news
	})
	if err != nil {
		t.Fatalf("StreamNews() error: %v", err)
	}

	select {
	case news := <-items:
		if len(news) != 1 || news[0].Headline != "Quarterly results" {
			t.Errorf("news = %+v", news)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no news delivered")
	}
}
