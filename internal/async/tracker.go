package async

import (
	"sync"
	"time"
)

// Tracker scopes one Pool's use to a single Execute call: it counts tasks
// submitted during that call and can stop accepting new ones without
// touching the Pool's own lifecycle, which spans many Execute calls. The
// action driver creates one Tracker per pool class per Execute and tears
// it down on every return path (spec.md §4.5 exit-path guarantee).
type Tracker struct {
	pool *Pool

	mu        sync.Mutex
	accepting bool
	wg        sync.WaitGroup
}

// NewTracker scopes pool to one Execute call.
func NewTracker(pool *Pool) *Tracker {
	return &Tracker{pool: pool, accepting: true}
}

// Submit enqueues task on the underlying pool, tracked for Quiesce. It
// returns false (without enqueuing) if StopAccepting has already been
// called, matching "stops submitting new tasks" on timeout (spec.md §4.4).
func (t *Tracker) Submit(task Task) bool {
	t.mu.Lock()
	if !t.accepting {
		t.mu.Unlock()
		return false
	}
	t.wg.Add(1)
	t.mu.Unlock()

	t.pool.Submit(func() {
		defer t.wg.Done()
		task()
	})
	return true
}

// StopAccepting prevents any further Submit calls from enqueuing work.
func (t *Tracker) StopAccepting() {
	t.mu.Lock()
	t.accepting = false
	t.mu.Unlock()
}

// Quiesce stops accepting new submissions and waits up to grace for
// tasks tracked so far to finish. It returns true if every task completed
// within the grace window, false if any were abandoned still running —
// the documented unsafe path from spec.md §5: Go offers no way to forcibly
// kill a goroutine, so an abandoned task may still touch the region after
// Quiesce returns.
func (t *Tracker) Quiesce(grace time.Duration) bool {
	t.StopAccepting()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
