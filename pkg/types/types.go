// Package types defines the core domain model shared by the scheduler,
// the ready queue and the worker pool.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a task for its whole lifetime.
type TaskID string

// Task is the unit the scheduler orders and dispatches.
//
// Everything except RetryCount is fixed at creation. Once a worker receives a
// task from the scheduler it owns it exclusively until it either drops it or
// hands it back through Schedule, so RetryCount needs no locking.
type Task struct {
	ID         TaskID        `json:"id"`          // immutable identity
	Name       string        `json:"name"`        // optional label for logs
	Priority   int           `json:"priority"`    // lower value runs first
	Duration   time.Duration `json:"duration"`    // declared execution cost, opaque to the core
	EligibleAt time.Time     `json:"eligible_at"` // must not be dispatched before this instant
	CreatedAt  time.Time     `json:"created_at"`  // submission bookkeeping
	RetryCount int           `json:"retry_count"` // failed attempts so far, only ever grows
}

// TaskOption customises a Task built by NewTask.
type TaskOption func(*Task)

// WithID overrides the generated identifier.
func WithID(id TaskID) TaskOption {
	return func(t *Task) { t.ID = id }
}

// WithName attaches a human readable label.
func WithName(name string) TaskOption {
	return func(t *Task) { t.Name = name }
}

// WithEligibleAt sets the earliest instant the task may run.
func WithEligibleAt(at time.Time) TaskOption {
	return func(t *Task) { t.EligibleAt = at }
}

// WithDelay makes the task eligible d after its creation time.
func WithDelay(d time.Duration) TaskOption {
	return func(t *Task) { t.EligibleAt = t.CreatedAt.Add(d) }
}

// WithCreatedAt pins the creation time. Options run in order, so it should
// come before WithDelay when both are used.
func WithCreatedAt(at time.Time) TaskOption {
	return func(t *Task) {
		t.CreatedAt = at
		t.EligibleAt = at
	}
}

// NewTask creates an immediately eligible task with a fresh UUID.
func NewTask(priority int, duration time.Duration, opts ...TaskOption) *Task {
	now := time.Now()
	t := &Task{
		ID:         TaskID(uuid.NewString()),
		Priority:   priority,
		Duration:   duration,
		EligibleAt: now,
		CreatedAt:  now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkFailed records one more failed attempt and returns the new count.
func (t *Task) MarkFailed() int {
	t.RetryCount++
	return t.RetryCount
}

// CanRetry reports whether the task still has retry budget under maxRetries.
func (t *Task) CanRetry(maxRetries int) bool {
	return t.RetryCount < maxRetries
}

// IsEligible reports whether the task may be dispatched at now.
func (t *Task) IsEligible(now time.Time) bool {
	return !t.EligibleAt.After(now)
}

// Label returns Name when set, otherwise the ID.
func (t *Task) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return string(t.ID)
}

// OutcomeKind classifies an execution result.
type OutcomeKind int

const (
	OutcomeSuccess          OutcomeKind = iota // task finished, discard it
	OutcomeRetryableFailure                    // task failed, retry while budget remains
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// ErrUnknownFailure is attached to failures reported without a cause.
var ErrUnknownFailure = errors.New("task failed")

// Outcome is what the execution collaborator reports for one attempt.
// Failures are values, not panics, so the retry decision is a plain branch.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Success reports a finished task.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// RetryableFailure reports a failed attempt. A nil err is replaced with
// ErrUnknownFailure so callers always have something to log.
func RetryableFailure(err error) Outcome {
	if err == nil {
		err = ErrUnknownFailure
	}
	return Outcome{Kind: OutcomeRetryableFailure, Err: err}
}

// Succeeded reports whether the attempt completed the task.
func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }
