package syncengine

import "sync"

// tracker counts in-flight cycles and listener callbacks so Stop can wait for them.
type tracker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
	closed bool
}

func newTracker() *tracker {
	t := &tracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// enter registers new work; false once the tracker is closed.
func (t *tracker) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.active++
	return true
}

func (t *tracker) leave() {
	t.mu.Lock()
	t.active--
	if t.active == 0 {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// closeAndWait refuses new work and blocks until the in-flight work drained.
func (t *tracker) closeAndWait() {
	t.mu.Lock()
	t.closed = true
	for t.active > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

func (t *tracker) reopen() {
	t.mu.Lock()
	t.closed = false
	t.mu.Unlock()
}
