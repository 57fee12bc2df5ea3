// ============================================================================
// Beaver-Sched Worker - Polling Execution Loop
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: One goroutine that repeatedly pulls an eligible task from the
// Source, runs it, and decides what happens to it afterwards.
//
// Cycle:
//   ┌──────────┐  task   ┌───────────┐  done  ┌────────┐
//   │ Polling  │ ──────> │ Executing │ ─────> │  Idle  │
//   └──────────┘         └───────────┘        └────────┘
//        ↑ no task: go straight to Idle           │
//        └───────────── poll interval ────────────┘
//
//   The stop signal is checked before every poll and during the idle wait.
//   A running task is never interrupted; Stopped is entered only between
//   cycles.
//
// Failure handling:
//   Failure -> MarkFailed() -> CanRetry(max)
//     true  -> Schedule(task) again (task.retry)
//     false -> dropped (task.dead)
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChuLiYu/beaver-sched/internal/history"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

const historyTimeout = 2 * time.Second

// Worker is a single polling loop owned by a Pool.
type Worker struct {
	id    int
	pool  *Pool
	state atomic.Int32
	log   logx.Logger

	idleLog rate.Sometimes
}

func newWorker(id int, p *Pool) *Worker {
	w := &Worker{
		id:      id,
		pool:    p,
		log:     p.log.With(logx.Int("worker", id)),
		idleLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	w.setState(StatePolling)
	return w
}

// ID returns the worker's index in its pool.
func (w *Worker) ID() int { return w.id }

// State returns the current loop state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Run loops until stopCh is closed. ctx is handed to the executor unchanged.
func (w *Worker) Run(ctx context.Context, stopCh <-chan struct{}) {
	defer w.setState(StateStopped)

	interval := w.pool.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		w.setState(StatePolling)
		if task, ok := w.pool.src.GetReadyTask(); ok {
			w.setState(StateExecuting)
			w.execute(ctx, task)
		} else {
			w.idleLog.Do(func() {
				w.log.Debug("no eligible task", logx.Duration("poll_interval", interval))
			})
		}

		w.setState(StateIdle)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)

		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
	}
}

// execute runs one attempt and applies the retry rule.
func (w *Worker) execute(ctx context.Context, task *types.Task) {
	p := w.pool
	started := time.Now()
	lag := started.Sub(task.EligibleAt)
	if lag < 0 {
		lag = 0
	}

	p.dispatched.Add(1)
	p.busy.Add(1)
	p.metrics.WorkerBusy(1)
	p.metrics.RecordDispatch(lag)
	defer func() {
		p.busy.Add(-1)
		p.metrics.WorkerBusy(-1)
	}()

	tlog := w.log.With(
		logx.String("task_id", string(task.ID)),
		logx.String("task", task.Label()),
		logx.Int("priority", task.Priority),
	)
	tlog.Info("task.dispatched",
		logx.Int("retry_count", task.RetryCount),
		logx.Duration("lag", lag),
	)

	outcome := w.run(ctx, task)
	elapsed := time.Since(started)

	res := Result{
		TaskID:   task.ID,
		Worker:   w.id,
		Outcome:  outcome,
		Duration: elapsed,
	}

	switch {
	case outcome.Succeeded():
		res.Disposition = DispositionCompleted
		res.RetryCount = task.RetryCount
		p.completed.Add(1)
		p.metrics.RecordCompleted(elapsed)
		tlog.Info("task.completed",
			logx.Int("retry_count", task.RetryCount),
			logx.Duration("took", elapsed),
		)

	default:
		// Read before Schedule: once resubmitted the task belongs to the source.
		res.RetryCount = task.MarkFailed()
		if task.CanRetry(p.cfg.MaxRetries) {
			if p.cfg.RetryDelay > 0 {
				task.EligibleAt = time.Now().Add(p.cfg.RetryDelay)
			}
			if err := p.src.Schedule(task); err != nil {
				// Resubmission refused; nothing else can own the task now.
				res.Disposition = DispositionDead
				p.dead.Add(1)
				p.metrics.RecordDead(elapsed)
				tlog.Error("task.dead",
					logx.Int("retry_count", res.RetryCount),
					logx.Err(fmt.Errorf("resubmit: %w", err)),
				)
				break
			}
			res.Disposition = DispositionRetried
			p.retried.Add(1)
			p.metrics.RecordRetry(elapsed)
			tlog.Warn("task.retry",
				logx.Int("retry_count", res.RetryCount),
				logx.Int("max_retries", p.cfg.MaxRetries),
				logx.Err(outcome.Err),
			)
		} else {
			res.Disposition = DispositionDead
			p.dead.Add(1)
			p.metrics.RecordDead(elapsed)
			tlog.Warn("task.dead",
				logx.Int("retry_count", res.RetryCount),
				logx.Int("max_retries", p.cfg.MaxRetries),
				logx.Err(outcome.Err),
			)
		}
	}

	w.record(task, res, started)
	if p.observer != nil {
		p.observer(res)
	}
}

// run calls the executor, turning a panic into a retryable failure.
func (w *Worker) run(ctx context.Context, task *types.Task) (out types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("executor panic",
				logx.String("task_id", string(task.ID)),
				logx.Any("panic", r),
			)
			out = types.RetryableFailure(fmt.Errorf("executor panic: %v", r))
		}
	}()
	return w.pool.exec.Execute(ctx, task)
}

func (w *Worker) record(task *types.Task, res Result, started time.Time) {
	store := w.pool.history
	if store == nil {
		return
	}
	e := history.Entry{
		TaskID:     string(task.ID),
		Name:       task.Name,
		Priority:   task.Priority,
		Outcome:    string(res.Disposition),
		RetryCount: res.RetryCount,
		Worker:     w.id,
		Started:    started,
		Duration:   res.Duration,
	}
	if res.Outcome.Err != nil {
		e.Error = res.Outcome.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := store.Append(ctx, e); err != nil {
		w.log.Warn("history append failed", logx.Err(err))
	}
}
