// ============================================================================
// Beaver-Sched Task Source Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Defines where worker loops take tasks from and give retries back to.
//
// Motivation:
//   The pool must not know about queues or clocks. It only needs a
//   non-blocking "next eligible task" call and a way to hand a failed task
//   back. *scheduler.Scheduler satisfies this directly; tests use fakes.
//
// ============================================================================

package worker

import (
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// Source hands out eligible tasks and accepts resubmissions.
type Source interface {
	// GetReadyTask returns the next eligible task and transfers its
	// ownership to the caller, or false if nothing is eligible. It must not
	// block.
	GetReadyTask() (*types.Task, bool)

	// Schedule gives a task back to the source, typically for a retry.
	Schedule(task *types.Task) error
}
