package multiplex

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Waiter errors.
var (
	// ErrWaitTimeout is the settlement of a waiter whose deadline
	// passed before any frame arrived.
	ErrWaitTimeout = errors.New("multiplex: wait timed out")

	// ErrWaitCanceled is the settlement of a waiter whose subscription
	// was unsubscribed or whose multiplexer was closed.
	ErrWaitCanceled = errors.New("multiplex: wait canceled")

	// ErrConnectionLost is the settlement of a waiter that was pending
	// when the connection failed.
	ErrConnectionLost = errors.New("multiplex: connection lost")
)

// waiterResult is a waiter's single settlement.
type waiterResult struct {
	payload string
	err     error
}

// PendingWaiter is a one-shot future for the next data event on a
// subscription. It settles exactly once: with the payload, with the
// first error event, on timeout, on cancellation or on connection loss.
// Settlement always deregisters the waiter.
type PendingWaiter struct {
	subID string

	settleOnce sync.Once
	result     chan waiterResult
	timer      *time.Timer

	// remove deregisters the waiter from the pending table.
	remove func()
}

// Wait blocks until the waiter settles or ctx is done. Context
// cancellation settles the waiter with ctx.Err().
func (w *PendingWaiter) Wait(ctx context.Context) (string, error) {
	select {
	case result := <-w.result:
		return result.payload, result.err
	case <-ctx.Done():
		w.settle("", ctx.Err())
		return "", ctx.Err()
	}
}

// settle resolves the waiter. Only the first settlement wins; every
// path deregisters.
func (w *PendingWaiter) settle(payload string, err error) {
	w.settleOnce.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.remove()
		w.result <- waiterResult{payload: payload, err: err}
	})
}

// waiterTable is the pending-waiter table, keyed by subscription id.
type waiterTable struct {
	mu      sync.Mutex
	waiters map[string][]*PendingWaiter
}

func newWaiterTable() *waiterTable {
	return &waiterTable{waiters: make(map[string][]*PendingWaiter)}
}

// add registers a waiter for subID with a deadline.
func (t *waiterTable) add(subID string, timeout time.Duration) *PendingWaiter {
	w := &PendingWaiter{
		subID:  subID,
		result: make(chan waiterResult, 1),
	}
	w.remove = func() { t.drop(w) }

	t.mu.Lock()
	t.waiters[subID] = append(t.waiters[subID], w)
	t.mu.Unlock()

	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.settle("", ErrWaitTimeout)
		})
	}
	return w
}

// drop removes a waiter from the table.
func (t *waiterTable) drop(w *PendingWaiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.waiters[w.subID]
	for i, candidate := range list {
		if candidate == w {
			t.waiters[w.subID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.waiters[w.subID]) == 0 {
		delete(t.waiters, w.subID)
	}
}

// take removes and returns all waiters for subID.
func (t *waiterTable) take(subID string) []*PendingWaiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.waiters[subID]
	delete(t.waiters, subID)
	return list
}

// takeAll removes and returns every pending waiter.
func (t *waiterTable) takeAll() []*PendingWaiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []*PendingWaiter
	for _, list := range t.waiters {
		all = append(all, list...)
	}
	t.waiters = make(map[string][]*PendingWaiter)
	return all
}

// pending returns the number of registered waiters.
func (t *waiterTable) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.waiters {
		n += len(list)
	}
	return n
}
