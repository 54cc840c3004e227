// ABOUTME: Lossless unbounded FIFO event queue linking the worker to the SSE drain.
// ABOUTME: Close places the sentinel; deep queues log a rate-limited stall warning.

package thread

import (
	"log"
	"sync"
	"time"
)

// warnDepth is the queue depth past which a stalled consumer is suspected.
const warnDepth = 50

// warnInterval rate-limits the depth warning.
const warnInterval = 5 * time.Second

// Queue is an unbounded FIFO of events. Pop blocks until an item arrives or
// the queue closes; a closed, drained queue yields ok=false (the sentinel).
// The producer never blocks.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	closed   bool
	lastWarn time.Time
}

// NewQueue creates an open queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Pushing to a closed queue drops the item.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	if len(q.items) > warnDepth && time.Since(q.lastWarn) > warnInterval {
		q.lastWarn = time.Now()
		log.Printf("component=thread.queue action=depth_warning depth=%d", len(q.items))
	}
	q.cond.Signal()
}

// Pop removes the oldest item, blocking while the queue is open and empty.
// Returns ok=false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close marks the end of the stream. Queued items remain poppable; Pop
// returns ok=false only after they drain.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the current depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
