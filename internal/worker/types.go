package worker

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// State is the position of one worker loop in its cycle.
type State int32

const (
	StatePolling   State = iota // asking the source for a task
	StateExecuting              // running a task
	StateIdle                   // waiting out the poll interval
	StateStopped                // loop has exited
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateExecuting:
		return "executing"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Disposition is what the pool did with a task after one attempt.
type Disposition string

const (
	DispositionCompleted Disposition = "completed" // success, task discarded
	DispositionRetried   Disposition = "retried"   // failure, resubmitted
	DispositionDead      Disposition = "dead"      // failure, retry budget exhausted
)

// Result describes one finished attempt.
type Result struct {
	TaskID      types.TaskID
	Worker      int
	Outcome     types.Outcome
	Disposition Disposition
	RetryCount  int           // after this attempt
	Duration    time.Duration // wall time of the attempt
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers    int
	Busy       int
	Dispatched uint64
	Completed  uint64
	Retried    uint64
	Dead       uint64
}

// MetricsRecorder receives pool events. *metrics.Collector implements it.
type MetricsRecorder interface {
	RecordDispatch(lag time.Duration)
	RecordCompleted(d time.Duration)
	RecordRetry(d time.Duration)
	RecordDead(d time.Duration)
	WorkerBusy(delta int)
}

type noopMetrics struct{}

func (noopMetrics) RecordDispatch(time.Duration)  {}
func (noopMetrics) RecordCompleted(time.Duration) {}
func (noopMetrics) RecordRetry(time.Duration)     {}
func (noopMetrics) RecordDead(time.Duration)      {}
func (noopMetrics) WorkerBusy(int)                {}
