package client

import "sync"

// call is the shared handle concurrent identical requests wait on. The
// leader runs the attempt sequence, stores the result, and closes done;
// joiners select on done or their own context.
type call struct {
	done   chan struct{}
	result Result
	refs   int
}

// inflightTable collapses concurrent identical requests onto one call. It is
// mutated only by the resilient client.
type inflightTable struct {
	mu    sync.Mutex
	calls map[string]*call
	max   int
}

func newInflightTable(max int) *inflightTable {
	return &inflightTable{calls: make(map[string]*call), max: max}
}

// join returns the existing call for key (joined=true, refcount bumped), or
// registers a new one with the caller as leader. When the table is at
// capacity, ok=false and the caller must execute without deduplication.
func (t *inflightTable) join(key string) (c *call, joined, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, found := t.calls[key]; found {
		existing.refs++
		return existing, true, true
	}
	if t.max > 0 && len(t.calls) >= t.max {
		return nil, false, false
	}
	c = &call{done: make(chan struct{}), refs: 1}
	t.calls[key] = c
	return c, false, true
}

// leave drops one waiter reference after a joiner's context is cancelled.
// The call itself stays registered for the remaining waiters; the leader's
// settle removes it.
func (t *inflightTable) leave(c *call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.refs > 0 {
		c.refs--
	}
}

// settle publishes the terminal result, wakes all waiters and removes the
// entry. Called exactly once per call, by the leader, on success or failure.
func (t *inflightTable) settle(key string, c *call, result Result) {
	t.mu.Lock()
	delete(t.calls, key)
	t.mu.Unlock()

	c.result = result
	close(c.done)
}

func (t *inflightTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
