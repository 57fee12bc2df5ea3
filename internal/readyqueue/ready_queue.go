// ============================================================================
// Beaver-Sched Ready Queue - Thread-Safe Priority Container
// ============================================================================
//
// Package: internal/readyqueue
// File: ready_queue.go
// Purpose: Holds submitted tasks ordered by a caller supplied comparator
//
// Ordering:
//   The queue knows nothing about tasks. The comparator decides the order,
//   the scheduler passes ByEligibility:
//     1. EligibleAt ascending  (earliest eligible first)
//     2. Priority ascending    (lower value wins)
//     3. ID ascending          (deterministic tie-break)
//
// Concurrency:
//   A single sync.Mutex guards the heap. Push, Pop, PopIf, Peek, Len and
//   IsEmpty are each one critical section, so no element is ever lost or
//   handed out twice. Go mutexes switch to starvation mode after 1ms of
//   waiting, so a caller cannot be locked out forever.
//
// Empty queue:
//   Pop on an empty queue returns (zero, false). It never panics.
//
// ============================================================================

package readyqueue

import (
	"container/heap"
	"sync"

	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// LessFunc reports whether a must leave the queue before b.
type LessFunc[T any] func(a, b T) bool

// Queue is a mutex-guarded binary min-heap.
type Queue[T any] struct {
	mu    sync.Mutex
	items items[T]
}

// New creates an empty queue ordered by less.
func New[T any](less LessFunc[T]) *Queue[T] {
	return &Queue[T]{items: items[T]{less: less}}
}

// Push inserts v. It always succeeds and runs in O(log n).
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, v)
}

// Pop removes and returns the minimum element, or false when empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopIf removes and returns the minimum element only if ok accepts it.
// The check and the removal happen under one lock acquisition, so another
// caller can neither steal the element in between nor see it twice.
func (q *Queue[T]) PopIf(ok func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items.data) == 0 || !ok(q.items.data[0]) {
		return zero, false
	}
	return q.popLocked()
}

// Peek returns the minimum element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items.data) == 0 {
		return zero, false
	}
	return q.items.data[0], true
}

// IsEmpty reports whether the queue holds no elements.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items.data)
}

// Drain removes every element and returns them in queue order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, len(q.items.data))
	for len(q.items.data) > 0 {
		v, _ := q.popLocked()
		out = append(out, v)
	}
	return out
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items.data) == 0 {
		return zero, false
	}
	return heap.Pop(&q.items).(T), true
}

// items adapts a slice to container/heap.
type items[T any] struct {
	data []T
	less LessFunc[T]
}

func (h items[T]) Len() int           { return len(h.data) }
func (h items[T]) Less(i, j int) bool { return h.less(h.data[i], h.data[j]) }
func (h items[T]) Swap(i, j int)      { h.data[i], h.data[j] = h.data[j], h.data[i] }

func (h *items[T]) Push(x any) {
	h.data = append(h.data, x.(T))
}

func (h *items[T]) Pop() any {
	old := h.data
	n := len(old)
	v := old[n-1]
	var zero T
	old[n-1] = zero // drop the reference so popped tasks can be collected
	h.data = old[:n-1]
	return v
}

// ByEligibility orders tasks by EligibleAt, then Priority, then ID.
// Because EligibleAt is the primary key, the head of the queue is always the
// globally earliest-eligible task.
func ByEligibility(a, b *types.Task) bool {
	if !a.EligibleAt.Equal(b.EligibleAt) {
		return a.EligibleAt.Before(b.EligibleAt)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}
