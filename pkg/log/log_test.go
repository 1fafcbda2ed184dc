package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(connID, subID string, cat Category) Event {
	ev := Event{
		Timestamp:      time.Now(),
		ConnectionID:   connID,
		Direction:      DirectionIn,
		Layer:          LayerWire,
		Category:       cat,
		SubscriptionID: subID,
	}
	switch cat {
	case CategoryFrame:
		ev.Frame = &FrameEvent{Size: 12, Code: "FULL", Text: `1 A {"x":1}`}
	case CategoryState:
		ev.StateChange = &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "CONNECTING",
			NewState: "CONNECTED",
		}
	case CategoryError:
		ev.Error = &ErrorEventData{Layer: LayerWire, Message: "delta before baseline"}
	}
	return ev
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ev := sampleEvent("conn-1", "5", CategoryFrame)

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}

	if got.ConnectionID != "conn-1" || got.SubscriptionID != "5" {
		t.Errorf("identifiers lost: %+v", got)
	}
	if got.Frame == nil || got.Frame.Code != "FULL" {
		t.Errorf("frame payload lost: %+v", got.Frame)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.twlog")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	fl.Log(sampleEvent("conn-1", "1", CategoryFrame))
	fl.Log(sampleEvent("conn-1", "2", CategoryError))
	fl.Log(sampleEvent("conn-2", "1", CategoryState))

	if err := fl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Log after close is silently dropped.
	fl.Log(sampleEvent("conn-3", "", CategoryFrame))

	t.Run("ReadAll", func(t *testing.T) {
		r, err := NewReader(path)
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		defer r.Close()

		count := 0
		for {
			_, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			count++
		}
		if count != 3 {
			t.Errorf("read %d events, want 3", count)
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		cat := CategoryError
		r, err := NewFilteredReader(path, Filter{ConnectionID: "conn-1", Category: &cat})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		ev, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.SubscriptionID != "2" {
			t.Errorf("filtered event sub id = %q, want 2", ev.SubscriptionID)
		}
		if _, err := r.Next(); err != io.EOF {
			t.Errorf("expected EOF after single match, got %v", err)
		}
	})
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger
	m := NewMultiLogger(&a, &b)

	m.Log(sampleEvent("c", "", CategoryFrame))
	m.Log(sampleEvent("c", "", CategoryState))

	if a.count != 2 || b.count != 2 {
		t.Errorf("counts = %d, %d, want 2, 2", a.count, b.count)
	}
}

type countingLogger struct{ count int }

func (c *countingLogger) Log(Event) { c.count++ }

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(sampleEvent("conn-9", "3", CategoryState))

	out := buf.String()
	for _, want := range []string{"conn-9", "sub_id=3", "CONNECTED"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("slog output missing %q: %s", want, out)
		}
	}
}
