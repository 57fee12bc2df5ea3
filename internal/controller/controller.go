// ============================================================================
// Beaver-Sched Controller - Process Wiring
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: Owns the single Scheduler of a process and everything around it.
//
// Components:
//   - Scheduler:  delayed priority queue (the only shared task state)
//   - WorkerPool: N polling workers executing through an Executor
//   - Metrics:    Prometheus collector fed by the pool and Submit
//   - History:    optional outcome audit trail (memory or sqlite)
//   - Recurring:  cron entries that submit fresh tasks
//   - Spool:      directory ingress that submits tasks from YAML files
//
// Background loops:
//   1. statusLoop - refreshes the pending gauge and logs queue status
//   2. spool.Run  - only when spool.dir is configured
//
// Startup:
//   config tasks (non-cron) are submitted, cron entries registered, then the
//   pool and loops start.
//
// Shutdown order:
//   1. stop ingress (recurring, spool) so nothing new arrives
//   2. pool.Shutdown(ctx), in-flight tasks finish, retries land in the queue
//   3. drain the queue and report what was never executed
//   4. close history
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ChuLiYu/beaver-sched/internal/config"
	"github.com/ChuLiYu/beaver-sched/internal/executor"
	"github.com/ChuLiYu/beaver-sched/internal/history"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/internal/metrics"
	"github.com/ChuLiYu/beaver-sched/internal/recurring"
	"github.com/ChuLiYu/beaver-sched/internal/scheduler"
	"github.com/ChuLiYu/beaver-sched/internal/spool"
	"github.com/ChuLiYu/beaver-sched/internal/worker"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

const defaultStatusInterval = 5 * time.Second

var (
	ErrNotStarted     = errors.New("controller: not started")
	ErrAlreadyStarted = errors.New("controller: already started")
	ErrStopped        = errors.New("controller: stopped")
)

// ============================================================================
// Options
// ============================================================================

type Option func(*Controller)

func WithLogger(l logx.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithExecutor replaces the simulated executor built from config.
func WithExecutor(e executor.Executor) Option {
	return func(c *Controller) { c.exec = e }
}

// WithFs sets the filesystem used by the spool. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(c *Controller) { c.fs = fs }
}

// WithClock is used for submissions built from config and cron entries.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithStatusInterval sets how often statusLoop runs.
func WithStatusInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.statusEvery = d
		}
	}
}

// WithObserver is passed through to the worker pool.
func WithObserver(fn func(worker.Result)) Option {
	return func(c *Controller) { c.observer = fn }
}

// ============================================================================
// Controller
// ============================================================================

// Stats is a point-in-time view of the whole process.
type Stats struct {
	Pending   int
	Submitted uint64
	Abandoned int // left in the queue at shutdown
	Uptime    time.Duration
	Pool      worker.Stats
}

type Controller struct {
	cfg *config.Config
	log logx.Logger
	fs  afero.Fs
	now func() time.Time

	sched     *scheduler.Scheduler
	src       *trackedSource
	exec      executor.Executor
	pool      *worker.Pool
	metrics   *metrics.Collector
	history   history.Store
	recurring *recurring.Runner
	spool     *spool.Spool
	observer  func(worker.Result)

	statusEvery time.Duration

	mu        sync.Mutex
	started   bool
	stopped   bool // Stop has been called
	finished  bool // drain and history close are done
	startTime time.Time
	submitted uint64
	abandoned int

	cancel context.CancelFunc
	loopWg sync.WaitGroup

	// gate orders Submit against the drain in Stop: once closed is set no
	// task can reach the queue.
	gate   sync.RWMutex
	closed bool

	stopIngress sync.Once
	finish      sync.Once
}

// New builds a controller from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:         cfg,
		fs:          afero.NewOsFs(),
		now:         time.Now,
		statusEvery: defaultStatusInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.exec = &executor.Simulated{
			FailAbove:   cfg.Executor.FailAbove,
			FailureRate: cfg.Executor.FailureRate,
		}
	}

	c.sched = scheduler.New(scheduler.WithClock(c.now))
	c.metrics = metrics.NewCollector()
	c.src = &trackedSource{sched: c.sched, metrics: c.metrics}

	store, err := history.Open(history.Config{
		Driver: cfg.History.Driver,
		Path:   cfg.History.Path,
		Size:   cfg.History.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	c.history = store

	poolOpts := []worker.Option{
		worker.WithLogger(c.log.With(logx.String("component", "pool"))),
		worker.WithMetrics(c.metrics),
		worker.WithObserver(c.observer),
	}
	if store != nil {
		poolOpts = append(poolOpts, worker.WithHistory(store))
	}
	c.pool, err = worker.NewPool(c.src, c.exec, worker.Config{
		Workers:      cfg.Worker.Count,
		MaxRetries:   cfg.Worker.MaxRetries,
		PollInterval: cfg.Worker.PollInterval,
		RetryDelay:   cfg.Worker.RetryDelay,
	}, poolOpts...)
	if err != nil {
		c.closeHistory()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	c.recurring = recurring.New(c, c.log.With(logx.String("component", "recurring")))
	if cfg.Spool.Dir != "" {
		c.spool = spool.New(c.fs, cfg.Spool.Dir, c, c.log.With(logx.String("component", "spool")))
	}
	return c, nil
}

// Start submits configured tasks and launches the pool and background loops.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.startTime = time.Now()
	c.mu.Unlock()

	now := c.now()
	oneShot := 0
	for _, spec := range c.cfg.Tasks {
		if spec.IsRecurring() {
			if _, err := c.recurring.Add(spec); err != nil {
				return err
			}
			continue
		}
		if err := c.Submit(spec.NewTask(now)); err != nil {
			return fmt.Errorf("failed to submit %q: %w", spec.Name, err)
		}
		oneShot++
	}

	if err := c.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.loopWg.Add(1)
	go c.statusLoop(loopCtx)

	if c.spool != nil {
		c.loopWg.Add(1)
		go func() {
			defer c.loopWg.Done()
			if err := c.spool.Run(loopCtx); err != nil {
				c.log.Error("spool stopped", logx.Err(err))
			}
		}()
	}
	c.recurring.Start()

	c.log.Info("controller started",
		logx.Int("workers", c.cfg.Worker.Count),
		logx.Int("max_retries", c.cfg.Worker.MaxRetries),
		logx.Int("tasks", oneShot),
		logx.Int("recurring", c.recurring.Len()),
		logx.Bool("spool", c.spool != nil),
	)
	return nil
}

// Submit records a submission and hands task to the scheduler.
func (c *Controller) Submit(task *types.Task) error {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closed {
		return ErrStopped
	}

	if err := c.sched.Schedule(task); err != nil {
		return err
	}
	c.mu.Lock()
	c.submitted++
	c.mu.Unlock()
	c.metrics.RecordScheduled()
	c.metrics.SetPending(c.sched.Pending())

	c.log.Debug("task.scheduled",
		logx.String("task_id", string(task.ID)),
		logx.String("task", task.Label()),
		logx.Int("priority", task.Priority),
		logx.Time("eligible_at", task.EligibleAt),
	)
	return nil
}

// Stop shuts down in order: ingress, pool, queue drain, history. If ctx
// expires before in-flight tasks finish, Stop returns ctx.Err() and leaves
// the queue and history untouched; calling Stop again waits for the pool
// once more and completes the drain.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.stopIngress.Do(func() {
		c.log.Info("controller stopping")

		c.recurring.Stop()
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.loopWg.Wait()

		c.gate.Lock()
		c.closed = true
		c.gate.Unlock()
	})

	if err := c.pool.Shutdown(ctx); err != nil {
		c.log.Error("worker pool did not stop in time", logx.Err(err))
		return err
	}

	c.finish.Do(c.drain)
	return nil
}

// drain reports what never ran and releases history. Runs once, after the
// pool has stopped.
func (c *Controller) drain() {
	left := c.sched.Drain()
	c.metrics.SetPending(0)
	for _, t := range left {
		c.log.Warn("task.abandoned",
			logx.String("task_id", string(t.ID)),
			logx.String("task", t.Label()),
			logx.Int("retry_count", t.RetryCount),
		)
	}

	c.closeHistory()

	c.mu.Lock()
	c.abandoned = len(left)
	c.finished = true
	c.mu.Unlock()

	stats := c.GetStats()
	c.log.Info("controller stopped",
		logx.Duration("uptime", stats.Uptime),
		logx.Int64("completed", int64(stats.Pool.Completed)),
		logx.Int64("dead", int64(stats.Pool.Dead)),
		logx.Int("abandoned", stats.Abandoned),
	)
}

// GetStats returns current counters.
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	s := Stats{
		Submitted: c.submitted,
		Abandoned: c.abandoned,
	}
	if !c.startTime.IsZero() {
		s.Uptime = time.Since(c.startTime)
	}
	c.mu.Unlock()

	s.Pending = c.sched.Pending()
	s.Pool = c.pool.Stats()
	return s
}

// Metrics exposes the collector for the /metrics endpoint.
func (c *Controller) Metrics() *metrics.Collector { return c.metrics }

// Scheduler exposes the queue for diagnostics.
func (c *Controller) Scheduler() *scheduler.Scheduler { return c.sched }

// Pool exposes the worker pool for diagnostics.
func (c *Controller) Pool() *worker.Pool { return c.pool }

// Recent returns the newest history entries, nil if history is disabled.
func (c *Controller) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.Recent(ctx, limit)
}

// statusLoop keeps the pending gauge fresh and logs a heartbeat.
func (c *Controller) statusLoop(ctx context.Context) {
	defer c.loopWg.Done()

	ticker := time.NewTicker(c.statusEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending := c.sched.Pending()
			c.metrics.SetPending(pending)

			fields := []logx.Field{
				logx.Int("pending", pending),
				logx.Any("workers", stateNames(c.pool.States())),
			}
			if next, ok := c.sched.NextEligibleAt(); ok {
				fields = append(fields, logx.Time("next_eligible_at", next))
			}
			c.log.Debug("queue status", fields...)
		}
	}
}

func (c *Controller) closeHistory() {
	if c.history == nil {
		return
	}
	if err := c.history.Close(); err != nil {
		c.log.Warn("history close failed", logx.Err(err))
	}
}

func stateNames(states []worker.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}
