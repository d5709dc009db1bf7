package internal

import "sync"

// WorkQueue is a serial executor tied to one entity. Work items added to
// it run one at a time, in FIFO order, on the owning container's worker
// pool; items on different WorkQueues run concurrently. Entities own no
// locks: every cross-entity interaction is a closure posted to the
// target entity's WorkQueue.
type WorkQueue struct {
	c *Container

	mu      sync.Mutex
	items   []func()
	running bool

	// after, when set, runs after every work item. Connection
	// WorkQueues use it to flush driver output to the socket.
	after func()
}

// NewWorkQueue creates a WorkQueue scheduled on the container's pool.
func (c *Container) NewWorkQueue() *WorkQueue {
	return &WorkQueue{c: c}
}

// Add enqueues a work item. It returns false, without enqueueing, once
// the owning container has been stopped; items accepted before the stop
// still run to completion.
func (w *WorkQueue) Add(f func()) bool {
	if w.c.stopped.Load() {
		return false
	}
	w.mu.Lock()
	w.items = append(w.items, f)
	schedule := !w.running
	if schedule {
		w.running = true
	}
	w.mu.Unlock()
	if schedule {
		w.c.submit(w.drain)
	}
	return true
}

// drain runs queued items until the queue is empty. At most one drain
// per WorkQueue is scheduled at a time, which is what serializes the
// entity.
func (w *WorkQueue) drain() {
	for {
		w.mu.Lock()
		if len(w.items) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		f := w.items[0]
		w.items[0] = nil
		w.items = w.items[1:]
		w.mu.Unlock()

		f()
		if w.after != nil {
			w.after()
		}
	}
}
