// ============================================================================
// Beaver-Sched Scheduler - Readiness Gate
// ============================================================================
//
// Package: internal/scheduler
// File: scheduler.go
// Purpose: Admits tasks and hands out the next eligible one
//
// How it works:
//   Schedule pushes into the ready queue without any eligibility check, so a
//   task may be submitted for the future.
//
//   GetReadyTask looks at the queue head. The queue is ordered by EligibleAt
//   first, so the head is the earliest-eligible task in the whole queue:
//     - head eligible      -> removed and returned, ownership moves to caller
//     - head not eligible  -> nothing else can be eligible either, return none
//   The check and the removal share one lock acquisition (PopIf), which is
//   the peek fast path: no pop-then-push round trip for future tasks.
//
// Blocking:
//   None. Callers own their polling and backoff.
//
// ============================================================================

package scheduler

import (
	"errors"
	"time"

	"github.com/ChuLiYu/beaver-sched/internal/readyqueue"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// ErrNilTask is returned when Schedule is called without a task.
var ErrNilTask = errors.New("scheduler: nil task")

// Scheduler wraps exactly one ready queue. It keeps no other mutable state.
type Scheduler struct {
	queue *readyqueue.Queue[*types.Task]
	now   func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler with an empty queue ordered by
// readyqueue.ByEligibility.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: readyqueue.New(readyqueue.ByEligibility),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues task. Future tasks are accepted as-is.
func (s *Scheduler) Schedule(task *types.Task) error {
	if task == nil {
		return ErrNilTask
	}
	s.queue.Push(task)
	return nil
}

// GetReadyTask returns the earliest eligible task, or false if none is
// eligible yet. A returned task is gone from the queue: no other caller can
// receive it until it is scheduled again.
func (s *Scheduler) GetReadyTask() (*types.Task, bool) {
	now := s.now()
	return s.queue.PopIf(func(t *types.Task) bool {
		return t.IsEligible(now)
	})
}

// Pending returns the number of queued tasks, eligible or not.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// IsEmpty reports whether no task is queued.
func (s *Scheduler) IsEmpty() bool {
	return s.queue.IsEmpty()
}

// NextEligibleAt returns when the head of the queue becomes eligible.
func (s *Scheduler) NextEligibleAt() (time.Time, bool) {
	t, ok := s.queue.Peek()
	if !ok {
		return time.Time{}, false
	}
	return t.EligibleAt, true
}

// Drain removes and returns every queued task in dispatch order.
func (s *Scheduler) Drain() []*types.Task {
	return s.queue.Drain()
}
