// ============================================================================
// Beaver-Sched Metrics - Prometheus Instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose scheduler and worker pool metrics
//
// Metric families:
//
//   1. Counters (monotonic):
//      - sched_tasks_scheduled_total:  tasks submitted by callers
//      - sched_tasks_dispatched_total: tasks handed to a worker loop
//      - sched_tasks_completed_total:  successful executions
//      - sched_tasks_retried_total:    failures resubmitted with budget left
//      - sched_tasks_dead_total:       failures dropped after the retry limit
//
//   2. Histogram:
//      - sched_task_duration_seconds{outcome}: wall time per attempt
//      - sched_task_dispatch_lag_seconds: dispatch time minus EligibleAt
//
//   3. Gauges:
//      - sched_tasks_pending: queued tasks, eligible or not
//      - sched_workers_busy:  loops currently executing a task
//
// Useful queries:
//
//   # permanent failure ratio
//   rate(sched_tasks_dead_total[5m]) / rate(sched_tasks_dispatched_total[5m])
//
//   # how late tasks start compared to EligibleAt (poll latency)
//   histogram_quantile(0.95, rate(sched_task_dispatch_lag_seconds_bucket[5m]))
//
// Registry:
//   Each Collector owns its registry so tests and multiple controllers in one
//   process never collide on duplicate registration.
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sched"

// Collector holds every metric the scheduler exports.
type Collector struct {
	registry *prometheus.Registry

	tasksScheduled  prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	tasksRetried    prometheus.Counter
	tasksDead       prometheus.Counter

	taskDuration *prometheus.HistogramVec
	dispatchLag  prometheus.Histogram

	tasksPending prometheus.Gauge
	workersBusy  prometheus.Gauge
}

// NewCollector creates a collector registered on a fresh registry that also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_scheduled_total",
			Help:      "Total number of tasks submitted to the scheduler",
		}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks handed to a worker",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed successfully",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total number of failed tasks resubmitted for retry",
		}),
		tasksDead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dead_total",
			Help:      "Total number of tasks dropped after exhausting retries",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Execution time of a single attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		dispatchLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_dispatch_lag_seconds",
			Help:      "Delay between a task becoming eligible and being dispatched",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Current number of queued tasks",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Current number of workers executing a task",
		}),
	}

	reg.MustRegister(
		c.tasksScheduled,
		c.tasksDispatched,
		c.tasksCompleted,
		c.tasksRetried,
		c.tasksDead,
		c.taskDuration,
		c.dispatchLag,
		c.tasksPending,
		c.workersBusy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RecordScheduled counts a caller submission.
func (c *Collector) RecordScheduled() {
	c.tasksScheduled.Inc()
}

// RecordDispatch counts a dispatch and observes how late it happened.
func (c *Collector) RecordDispatch(lag time.Duration) {
	c.tasksDispatched.Inc()
	if lag < 0 {
		lag = 0
	}
	c.dispatchLag.Observe(lag.Seconds())
}

// RecordCompleted counts a success and observes its duration.
func (c *Collector) RecordCompleted(d time.Duration) {
	c.tasksCompleted.Inc()
	c.taskDuration.WithLabelValues("success").Observe(d.Seconds())
}

// RecordRetry counts a failed attempt that will be retried.
func (c *Collector) RecordRetry(d time.Duration) {
	c.tasksRetried.Inc()
	c.taskDuration.WithLabelValues("retry").Observe(d.Seconds())
}

// RecordDead counts a task dropped after its last allowed failure.
func (c *Collector) RecordDead(d time.Duration) {
	c.tasksDead.Inc()
	c.taskDuration.WithLabelValues("dead").Observe(d.Seconds())
}

// WorkerBusy adjusts the busy-worker gauge by delta.
func (c *Collector) WorkerBusy(delta int) {
	c.workersBusy.Add(float64(delta))
}

// SetPending sets the queued-task gauge.
func (c *Collector) SetPending(n int) {
	c.tasksPending.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on port until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
