// ============================================================================
// Beaver-Sched Worker Pool - Concurrent Polling Executors
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: Owns N Worker goroutines that all poll the same Source.
//
// Architecture:
//   ┌─────────────┐  GetReadyTask()  ┌────────────────┐
//   │  Scheduler  │ <─────────────── │ Worker 0..N-1  │ ──> Executor
//   │  (Source)   │ <─────────────── │                │
//   └─────────────┘  Schedule(retry) └────────────────┘
//
//   There is no dispatch channel. Each worker pulls on its own; the
//   scheduler's single lock guarantees one task reaches one worker.
//
// Lifecycle:
//   1. NewPool()  - validate config, nothing runs yet
//   2. Start(ctx) - spawn N workers
//   3. Stop()     - close stopCh, wait for in-flight tasks to finish
//
//   A pool is single use: Start after Stop returns ErrPoolStopped.
//
// Shutdown semantics:
//   Stop never cancels a running task. Workers see the signal between
//   cycles only. Tasks still queued in the Source stay there.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/beaver-sched/internal/executor"
	"github.com/ChuLiYu/beaver-sched/internal/history"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
)

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 500 * time.Millisecond

var (
	ErrInvalidWorkers     = errors.New("worker: worker count must be positive")
	ErrInvalidRetries     = errors.New("worker: max retries must be positive")
	ErrNilDependency      = errors.New("worker: source and executor are required")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrPoolStopped        = errors.New("worker: pool is stopped")
)

// Config tunes a Pool.
type Config struct {
	Workers      int
	MaxRetries   int           // total attempts allowed per task
	PollInterval time.Duration // wait between polls, default 500ms
	RetryDelay   time.Duration // pushes EligibleAt forward on retry; 0 resubmits unchanged
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetries, c.MaxRetries)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return nil
}

// Option customizes a Pool.
type Option func(*Pool)

func WithLogger(l logx.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithHistory records every finished attempt in store.
func WithHistory(store history.Store) Option {
	return func(p *Pool) { p.history = store }
}

// WithObserver registers fn to be called synchronously after each attempt.
func WithObserver(fn func(Result)) Option {
	return func(p *Pool) { p.observer = fn }
}

// Pool runs a fixed set of polling workers.
type Pool struct {
	src  Source
	exec executor.Executor
	cfg  Config

	log      logx.Logger
	metrics  MetricsRecorder
	history  history.Store
	observer func(Result)

	mu      sync.Mutex
	workers []*Worker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool

	busy       atomic.Int64
	dispatched atomic.Uint64
	completed  atomic.Uint64
	retried    atomic.Uint64
	dead       atomic.Uint64
}

// NewPool validates cfg and returns an idle pool.
func NewPool(src Source, exec executor.Executor, cfg Config, opts ...Option) (*Pool, error) {
	if src == nil || exec == nil {
		return nil, ErrNilDependency
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		src:     src,
		exec:    exec,
		cfg:     cfg,
		metrics: noopMetrics{},
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration after defaults.
func (p *Pool) Config() Config { return p.cfg }

// Start spawns the workers. Cancelling ctx does not stop them and does not
// reach running tasks; use Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return ErrPoolAlreadyStarted
	}

	execCtx := context.WithoutCancel(ctx)
	p.workers = make([]*Worker, 0, p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		w := newWorker(i, p)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(execCtx, p.stopCh)
		}()
	}
	p.started = true

	p.log.Info("worker pool started",
		logx.Int("workers", p.cfg.Workers),
		logx.Int("max_retries", p.cfg.MaxRetries),
		logx.Duration("poll_interval", p.cfg.PollInterval),
	)
	return nil
}

// Stop signals every worker and blocks until all of them have exited. It is
// safe to call more than once, concurrently, and before Start.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	wasStarted := p.started
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	if wasStarted {
		p.log.Info("worker pool stopped", logx.Any("stats", p.Stats()))
	}
}

// Shutdown is Stop bounded by ctx. Workers keep finishing in the background
// if ctx expires first.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStarted reports whether Start succeeded and Stop has not been called.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}

// GetWorkerCount returns the number of spawned workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// States returns each worker's current state, indexed by worker id.
func (p *Pool) States() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.State()
	}
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	n := len(p.workers)
	p.mu.Unlock()
	return Stats{
		Workers:    n,
		Busy:       int(p.busy.Load()),
		Dispatched: p.dispatched.Load(),
		Completed:  p.completed.Load(),
		Retried:    p.retried.Load(),
		Dead:       p.dead.Load(),
	}
}
