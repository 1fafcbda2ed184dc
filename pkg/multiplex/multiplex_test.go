package multiplex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// fakeSender records outbound frames.
type fakeSender struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (s *fakeSender) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, text)
	return nil
}

func (s *fakeSender) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

// collectHandler funnels events into a channel.
func collectHandler(buffer int) (Handler, chan Event) {
	events := make(chan Event, buffer)
	return func(e Event) { events <- e }, events
}

func waitEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, events chan Event) {
	t.Helper()
	select {
	case e := <-events:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe(t *testing.T) {
	t.Run("AllocatesMonotonicIDs", func(t *testing.T) {
		m := New(Config{})
		sender := &fakeSender{}
		m.Attach(sender)

		handler, _ := collectHandler(1)
		for _, want := range []string{"1", "2", "3"} {
			id, err := m.Subscribe("ticker", map[string]any{"id": "US0378331005"}, handler)
			if err != nil {
				t.Fatalf("Subscribe() error: %v", err)
			}
			if id != want {
				t.Errorf("Subscribe() id = %q, want %q", id, want)
			}
		}

		frames := sender.Frames()
		if len(frames) != 3 {
			t.Fatalf("sent %d frames, want 3", len(frames))
		}
		if !strings.HasPrefix(frames[0], "sub 1 ") {
			t.Errorf("frame = %q, want sub 1 prefix", frames[0])
		}
		if !strings.Contains(frames[0], `"type":"ticker"`) {
			t.Errorf("frame %q missing type", frames[0])
		}
	})

	t.Run("ConcurrentIDsAreUnique", func(t *testing.T) {
		m := New(Config{})
		sender := &fakeSender{}
		m.Attach(sender)

		const n = 50
		handler, _ := collectHandler(1)

		var mu sync.Mutex
		ids := make(map[string]int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := m.Subscribe("ticker", nil, handler)
				if err != nil {
					t.Errorf("Subscribe() error: %v", err)
					return
				}
				mu.Lock()
				ids[id]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		if len(ids) != n {
			t.Errorf("got %d distinct ids from %d subscribes", len(ids), n)
		}
		for id, count := range ids {
			if count != 1 {
				t.Errorf("id %q allocated %d times", id, count)
			}
		}
		if got := m.Count(); got != n {
			t.Errorf("Count() = %d, want %d", got, n)
		}
	})

	t.Run("QueuedWhileDisconnected", func(t *testing.T) {
		m := New(Config{})
		handler, _ := collectHandler(1)

		id, err := m.Subscribe("portfolio", nil, handler)
		if err != nil {
			t.Fatalf("Subscribe() error: %v", err)
		}

		sender := &fakeSender{}
		if err := m.Replay(sender); err != nil {
			t.Fatalf("Replay() error: %v", err)
		}
		frames := sender.Frames()
		if len(frames) != 1 || !strings.HasPrefix(frames[0], "sub "+id+" ") {
			t.Errorf("Replay sent %v, want one sub %s frame", frames, id)
		}
	})

	t.Run("AfterShutdown", func(t *testing.T) {
		m := New(Config{})
		m.Shutdown()
		if _, err := m.Subscribe("ticker", nil, nil); !errors.Is(err, ErrMultiplexerClosed) {
			t.Errorf("Subscribe() after Shutdown = %v, want ErrMultiplexerClosed", err)
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("FullThenDelta", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, events := collectHandler(8)

		id, _ := m.Subscribe("ticker", nil, handler)

		m.HandleFrame(id + ` A{"bid":"100.0"}`)
		e := waitEvent(t, events)
		if e.Kind != EventData || e.Payload != `{"bid":"100.0"}` {
			t.Fatalf("full frame event = %+v", e)
		}

		// Replace "100.0" with "101.5" keeping the rest.
		m.HandleFrame(id + " D=8\t+101.5\t-5\t=2")
		e = waitEvent(t, events)
		if e.Kind != EventData || e.Payload != `{"bid":"101.5"}` {
			t.Fatalf("delta frame event = %+v", e)
		}

		// The reconstructed payload is the next baseline.
		m.HandleFrame(id + " D=8\t+99.0\t-5\t=2")
		e = waitEvent(t, events)
		if e.Payload != `{"bid":"99.0"}` {
			t.Fatalf("second delta payload = %q", e.Payload)
		}
	})

	t.Run("DeltaBeforeBaseline", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handlerA, eventsA := collectHandler(8)
		handlerB, eventsB := collectHandler(8)

		idA, _ := m.Subscribe("ticker", nil, handlerA)
		idB, _ := m.Subscribe("ticker", nil, handlerB)

		m.HandleFrame(idA + " D=3")
		e := waitEvent(t, eventsA)
		if e.Kind != EventError {
			t.Fatalf("event kind = %v, want EventError", e.Kind)
		}
		if !errors.Is(e.Err, wire.ErrNoBaseline) {
			t.Errorf("event error = %v, want ErrNoBaseline", e.Err)
		}
		if !wire.IsProtocolError(e.Err) {
			t.Errorf("event error %v is not a ProtocolError", e.Err)
		}

		// The failure is isolated: the other subscription still works.
		m.HandleFrame(idB + ` A{"ok":true}`)
		e = waitEvent(t, eventsB)
		if e.Kind != EventData {
			t.Fatalf("sibling event = %+v", e)
		}
		if m.Count() != 2 {
			t.Errorf("Count() = %d, want 2", m.Count())
		}
	})

	t.Run("ErrorFrameKeepsSubscription", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, events := collectHandler(8)

		id, _ := m.Subscribe("ticker", nil, handler)
		m.HandleFrame(id + ` E{"errors":[{"errorCode":"BAD_INSTRUMENT"}]}`)

		e := waitEvent(t, events)
		if e.Kind != EventError || !strings.Contains(e.Payload, "BAD_INSTRUMENT") {
			t.Fatalf("error event = %+v", e)
		}
		if m.Count() != 1 {
			t.Errorf("Count() = %d, want 1 (error frames keep the record)", m.Count())
		}

		// Server may keep sending; the stream continues.
		m.HandleFrame(id + ` A{"recovered":true}`)
		if e := waitEvent(t, events); e.Kind != EventData {
			t.Fatalf("post-error event = %+v", e)
		}
	})

	t.Run("CompleteRemovesSubscription", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, events := collectHandler(8)

		id, _ := m.Subscribe("news", nil, handler)
		m.HandleFrame(id + " C")

		if e := waitEvent(t, events); e.Kind != EventComplete {
			t.Fatalf("event = %+v, want EventComplete", e)
		}
		if m.Count() != 0 {
			t.Errorf("Count() = %d after complete, want 0", m.Count())
		}

		// Late frames for the removed id are dropped.
		m.HandleFrame(id + ` A{"late":true}`)
		expectNoEvent(t, events)
	})

	t.Run("UnknownCodeDropped", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, events := collectHandler(8)

		id, _ := m.Subscribe("ticker", nil, handler)
		m.HandleFrame(id + ` X{"what":true}`)
		expectNoEvent(t, events)
		if m.Count() != 1 {
			t.Errorf("Count() = %d, want 1", m.Count())
		}
	})

	t.Run("SlowHandlerDoesNotDelayOthers", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})

		release := make(chan struct{})
		slow := func(Event) { <-release }
		defer close(release)

		fast, fastEvents := collectHandler(64)

		slowID, _ := m.Subscribe("portfolio", nil, slow)
		fastID, _ := m.Subscribe("ticker", nil, fast)

		m.HandleFrame(slowID + ` A{"n":1}`)
		for i := 0; i < 10; i++ {
			m.HandleFrame(fastID + ` A{"n":1}`)
		}
		for i := 0; i < 10; i++ {
			waitEvent(t, fastEvents)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	m := New(Config{})
	sender := &fakeSender{}
	m.Attach(sender)
	handler, _ := collectHandler(1)

	id, _ := m.Subscribe("ticker", nil, handler)
	if err := m.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}

	frames := sender.Frames()
	if frames[len(frames)-1] != "unsub "+id {
		t.Errorf("last frame = %q, want unsub %s", frames[len(frames)-1], id)
	}

	// Unknown and already-removed ids are no-ops.
	if err := m.Unsubscribe(id); err != nil {
		t.Errorf("second Unsubscribe() = %v, want nil", err)
	}
	if err := m.Unsubscribe("999"); err != nil {
		t.Errorf("Unsubscribe(unknown) = %v, want nil", err)
	}
}

func TestReplayOnReconnect(t *testing.T) {
	m := New(Config{})
	first := &fakeSender{}
	m.Attach(first)

	handlers := make([]chan Event, 3)
	ids := make([]string, 3)
	for i := range ids {
		handler, events := collectHandler(8)
		handlers[i] = events
		ids[i], _ = m.Subscribe("ticker", map[string]any{"n": i}, handler)
	}

	// Establish baselines, then lose the connection.
	for i, id := range ids {
		m.HandleFrame(id + ` A{"seq":1}`)
		waitEvent(t, handlers[i])
	}
	m.ConnectionLost()

	second := &fakeSender{}
	if err := m.Replay(second); err != nil {
		t.Fatalf("Replay() error: %v", err)
	}

	// Exactly M sub frames, original ids preserved.
	frames := second.Frames()
	if len(frames) != len(ids) {
		t.Fatalf("replayed %d frames, want %d", len(frames), len(ids))
	}
	seen := make(map[string]bool)
	for _, frame := range frames {
		parts := strings.SplitN(frame, " ", 3)
		if len(parts) != 3 || parts[0] != "sub" {
			t.Fatalf("replay frame %q is not a sub frame", frame)
		}
		seen[parts[1]] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("subscription %s was not replayed", id)
		}
	}

	// Baselines are cleared: a delta before the fresh full frame is a
	// protocol error.
	m.HandleFrame(ids[0] + " D=1")
	e := waitEvent(t, handlers[0])
	if e.Kind != EventError || !errors.Is(e.Err, wire.ErrNoBaseline) {
		t.Fatalf("post-replay delta event = %+v, want ErrNoBaseline", e)
	}
}

func TestPendingWaiter(t *testing.T) {
	t.Run("ResolvedByFullFrame", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, _ := collectHandler(8)
		id, _ := m.Subscribe("ticker", nil, handler)

		w := m.AwaitData(id, time.Second)
		go m.HandleFrame(id + ` A{"bid":"7.5"}`)

		payload, err := w.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
		if payload != `{"bid":"7.5"}` {
			t.Errorf("Wait() payload = %q", payload)
		}
		if m.PendingWaiters() != 0 {
			t.Errorf("PendingWaiters() = %d after resolve, want 0", m.PendingWaiters())
		}
	})

	t.Run("TimeoutCyclesDoNotLeak", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, _ := collectHandler(1)
		id, _ := m.Subscribe("ticker", nil, handler)

		for cycle := 0; cycle < 3; cycle++ {
			w := m.AwaitData(id, 10*time.Millisecond)
			if _, err := w.Wait(context.Background()); !errors.Is(err, ErrWaitTimeout) {
				t.Fatalf("cycle %d: Wait() = %v, want ErrWaitTimeout", cycle, err)
			}
			if m.PendingWaiters() != 0 {
				t.Fatalf("cycle %d: %d waiters leaked", cycle, m.PendingWaiters())
			}
		}
	})

	t.Run("CanceledByUnsubscribe", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, _ := collectHandler(1)
		id, _ := m.Subscribe("ticker", nil, handler)

		w := m.AwaitData(id, time.Minute)
		go m.Unsubscribe(id)

		if _, err := w.Wait(context.Background()); !errors.Is(err, ErrWaitCanceled) {
			t.Errorf("Wait() = %v, want ErrWaitCanceled", err)
		}
		if m.PendingWaiters() != 0 {
			t.Errorf("PendingWaiters() = %d, want 0", m.PendingWaiters())
		}
	})

	t.Run("SettledByConnectionLoss", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, _ := collectHandler(1)
		id, _ := m.Subscribe("ticker", nil, handler)

		w := m.AwaitData(id, time.Minute)
		go m.ConnectionLost()

		if _, err := w.Wait(context.Background()); !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Wait() = %v, want ErrConnectionLost", err)
		}
		if m.Count() != 1 {
			t.Errorf("Count() = %d, want 1 (records survive loss)", m.Count())
		}
	})

	t.Run("SettledByServerError", func(t *testing.T) {
		m := New(Config{})
		m.Attach(&fakeSender{})
		handler, _ := collectHandler(8)
		id, _ := m.Subscribe("ticker", nil, handler)

		w := m.AwaitData(id, time.Minute)
		go m.HandleFrame(id + ` E{"errors":[]}`)

		if _, err := w.Wait(context.Background()); err == nil {
			t.Error("Wait() = nil error after server error frame")
		}
		if m.PendingWaiters() != 0 {
			t.Errorf("PendingWaiters() = %d, want 0", m.PendingWaiters())
		}
	})
}

func TestWaitFirst(t *testing.T) {
	m := New(Config{})
	sender := &fakeSender{}
	m.Attach(sender)
	handler, events := collectHandler(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Answer the sub frame once it shows up.
		for {
			for _, frame := range sender.Frames() {
				if strings.HasPrefix(frame, "sub ") {
					id := strings.SplitN(frame, " ", 3)[1]
					m.HandleFrame(id + ` A{"first":true}`)
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	id, payload, err := m.WaitFirst(context.Background(), "portfolio", nil, handler)
	<-done
	if err != nil {
		t.Fatalf("WaitFirst() error: %v", err)
	}
	if payload != `{"first":true}` {
		t.Errorf("WaitFirst() payload = %q", payload)
	}
	if id == "" {
		t.Error("WaitFirst() returned empty id")
	}

	// The subscription stays registered and keeps flowing.
	waitEvent(t, events)
	if m.Count() != 1 {
		t.Errorf("Count() = %d after WaitFirst, want 1", m.Count())
	}
}

func TestShutdown(t *testing.T) {
	m := New(Config{})
	m.Attach(&fakeSender{})
	handler, _ := collectHandler(8)
	id, _ := m.Subscribe("ticker", nil, handler)

	w := m.AwaitData(id, time.Minute)
	go m.Shutdown()

	if _, err := w.Wait(context.Background()); !errors.Is(err, ErrWaitCanceled) {
		t.Errorf("Wait() = %v, want ErrWaitCanceled", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after Shutdown, want 0", m.Count())
	}
}

func TestSuspendKeepsTable(t *testing.T) {
	m := New(Config{})
	m.Attach(&fakeSender{})
	handler, _ := collectHandler(8)
	id, _ := m.Subscribe("ticker", nil, handler)

	w := m.AwaitData(id, time.Minute)
	go m.Suspend()

	if _, err := w.Wait(context.Background()); !errors.Is(err, ErrWaitCanceled) {
		t.Errorf("Wait() = %v, want ErrWaitCanceled", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d after Suspend, want 1 (resumable)", m.Count())
	}

	// Resuming replays the kept subscription.
	sender := &fakeSender{}
	if err := m.Replay(sender); err != nil {
		t.Fatalf("Replay() error: %v", err)
	}
	if len(sender.Frames()) != 1 {
		t.Errorf("Replay sent %d frames, want 1", len(sender.Frames()))
	}
}
