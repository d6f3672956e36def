// Package queue provides the unbounded FIFO shared by the client apply
// loop, the per-observer writers and the journal batcher.
package queue

import (
	"slices"
	"sync"
)

// Queue is safe for concurrent use. Consumers block in WaitPop until an
// item arrives or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []T
	closed bool
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Push appends items. It reports false, dropping them, after Close.
func (q *Queue[T]) Push(items ...T) bool {
	return q.insert(false, items)
}

// Requeue puts items back at the head in their given order, ahead of
// anything pushed meanwhile.
func (q *Queue[T]) Requeue(items ...T) bool {
	return q.insert(true, items)
}

func (q *Queue[T]) insert(head bool, items []T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(items) == 0 {
		return true
	}
	if head {
		q.items = slices.Insert(q.items, 0, items...)
	} else {
		q.items = append(q.items, items...)
	}
	q.ready.Broadcast()
	return true
}

// WaitPop removes the head, blocking while the queue is empty. ok is
// false once the queue is closed, even if it still held items.
func (q *Queue[T]) WaitPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.ready.Wait()
	}
	if q.closed {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Drain removes and returns everything queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Close discards pending items, wakes every waiter and refuses further
// pushes. It returns how many items were discarded.
func (q *Queue[T]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.closed = true
	q.items = nil
	q.ready.Broadcast()
	return n
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Empty() bool { return q.Len() == 0 }
