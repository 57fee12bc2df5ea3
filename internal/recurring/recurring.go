// Package recurring submits configured tasks on cron schedules.
//
// Each firing builds a brand new task from its TaskSpec and hands it to a
// Submitter. The runner never executes anything itself; the worker pool does.
package recurring

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChuLiYu/beaver-sched/internal/config"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

var ErrNoCron = errors.New("recurring: task spec has no cron expression")

// Submitter accepts new tasks. *controller.Controller implements it.
type Submitter interface {
	Submit(task *types.Task) error
}

// Runner owns a cron instance and the entries registered on it.
type Runner struct {
	sub Submitter
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	entries map[cron.EntryID]config.TaskSpec
	running bool
}

// New creates a runner using the local time zone.
func New(sub Submitter, log logx.Logger) *Runner {
	return NewWithLocation(sub, log, time.Local)
}

func NewWithLocation(sub Submitter, log logx.Logger, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	r := &Runner{
		sub:     sub,
		log:     log,
		now:     time.Now,
		entries: make(map[cron.EntryID]config.TaskSpec),
	}
	r.c = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log})),
	)
	return r
}

// Add registers spec. It may be called before or after Start.
func (r *Runner) Add(spec config.TaskSpec) (cron.EntryID, error) {
	expr := strings.TrimSpace(spec.Cron)
	if expr == "" {
		return 0, fmt.Errorf("%w: %q", ErrNoCron, spec.Name)
	}

	id, err := r.c.AddJob(expr, cron.FuncJob(func() { r.fire(spec) }))
	if err != nil {
		return 0, fmt.Errorf("recurring: add %q: %w", spec.Name, err)
	}

	r.mu.Lock()
	r.entries[id] = spec
	r.mu.Unlock()

	r.log.Info("recurring task registered",
		logx.String("task", spec.Name),
		logx.String("cron", expr),
		logx.Int("priority", spec.Priority),
	)
	return id, nil
}

// Remove unregisters an entry.
func (r *Runner) Remove(id cron.EntryID) {
	r.c.Remove(id)
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of registered entries.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Next returns the next activation time of id, zero if unknown or not yet
// started.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.c.Entry(id).Next
}

func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.c.Start()
}

// Stop halts the schedule and waits for any submission in progress.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()
	<-r.c.Stop().Done()
}

func (r *Runner) fire(spec config.TaskSpec) {
	task := spec.NewTask(r.now())
	if err := r.sub.Submit(task); err != nil {
		r.log.Warn("recurring submit failed",
			logx.String("task", spec.Name),
			logx.Err(err),
		)
		return
	}
	r.log.Debug("recurring task submitted",
		logx.String("task", spec.Name),
		logx.String("task_id", string(task.ID)),
	)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
