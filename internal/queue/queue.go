// Package queue implements the fixed-capacity blocking queue between
// producers and the consumer.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidCapacity is returned by New for a capacity below one.
var ErrInvalidCapacity = errors.New("queue capacity must be at least 1")

// BoundedQueue is a circular buffer with blocking Put and Take.
//
// All slot and index state is guarded by mu. notFull and notEmpty are the
// two wait channels; a goroutine only waits on one of them while holding mu.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	slots    []T
	head     int
	tail     int
	count    int

	puts      atomic.Uint64
	takes     atomic.Uint64
	highWater atomic.Int64
}

// New creates a BoundedQueue holding at most capacity items.
func New[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	q := &BoundedQueue[T]{slots: make([]T, capacity)}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// Put inserts item at the tail, blocking while the queue is full.
func (q *BoundedQueue[T]) Put(item T) {
	q.mu.Lock()
	for q.count == len(q.slots) {
		q.notFull.Wait()
	}
	q.slots[q.tail] = item
	q.tail = (q.tail + 1) % len(q.slots)
	q.count++
	if n := int64(q.count); n > q.highWater.Load() {
		q.highWater.Store(n)
	}
	q.mu.Unlock()

	q.puts.Add(1)
	q.notEmpty.Signal()
}

// Take removes the item at the head, blocking while the queue is empty.
func (q *BoundedQueue[T]) Take() T {
	q.mu.Lock()
	for q.count == 0 {
		q.notEmpty.Wait()
	}
	var zero T
	item := q.slots[q.head]
	q.slots[q.head] = zero
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	q.mu.Unlock()

	q.takes.Add(1)
	q.notFull.Signal()
	return item
}

// TryTake removes the head item without blocking.
func (q *BoundedQueue[T]) TryTake() (T, bool) {
	q.mu.Lock()
	var zero T
	if q.count == 0 {
		q.mu.Unlock()
		return zero, false
	}
	item := q.slots[q.head]
	q.slots[q.head] = zero
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	q.mu.Unlock()

	q.takes.Add(1)
	q.notFull.Signal()
	return item, true
}

// Len returns the number of items currently queued.
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *BoundedQueue[T]) Cap() int { return len(q.slots) }

// Metrics returns counters and sizes for observability.
func (q *BoundedQueue[T]) Metrics() (puts, takes uint64, depth, highWater int) {
	puts = q.puts.Load()
	takes = q.takes.Load()
	depth = q.Len()
	highWater = int(q.highWater.Load())
	return puts, takes, depth, highWater
}
