// Package worker provides the single-writer task queue every agent
// uses to serialize domain-state mutation, per spec.md §5: incoming
// RPC dispatch and timer callbacks are posted here rather than
// mutating state directly from the server/client iterate goroutines.
package worker

import (
	"sync"
	"time"
)

// Queue drains posted tasks on one goroutine, so nothing enqueued here
// ever races with anything else enqueued here.
type Queue struct {
	tasks   chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a Queue with the given buffer depth and starts its
// drain goroutine.
func NewQueue(buffer int) *Queue {
	q := &Queue{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	q.mu.Lock()
	q.running = true
	q.mu.Unlock()
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			// Drain whatever is already buffered, then stop — matches
			// spec.md §5's "worker drains in-flight tasks but refuses
			// new ones" shutdown discipline.
			for {
				select {
				case t := <-q.tasks:
					t()
				default:
					return
				}
			}
		case t := <-q.tasks:
			t()
		}
	}
}

// Post enqueues fn to run on the worker goroutine. It is a no-op once
// the queue has been stopped.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if !running {
		return
	}
	select {
	case q.tasks <- fn:
	case <-q.done:
	}
}

// Schedule posts fn to the worker after delay, via time.AfterFunc —
// the timer callback itself never touches domain state directly, it
// only posts, so it can never block per spec.md §5. The returned
// cancel func stops the timer if it has not fired yet.
func (q *Queue) Schedule(delay time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(delay, func() {
		q.Post(fn)
	})
	return func() { t.Stop() }
}

// Stop marks the queue as shutting down: Post becomes a no-op, the
// drain loop flushes whatever is already buffered, and Stop blocks
// until that flush completes.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()
	close(q.done)
	q.wg.Wait()
}
