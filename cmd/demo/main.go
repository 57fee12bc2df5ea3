package main

// ============================================================================
// Beaver-Sched demo
//
// Three workers, three attempts per task, simulated executor that fails any
// task declared longer than 2s:
//
//   task-1  priority 1, 1s             -> completes
//   task-2  priority 0, 3s             -> fails three times, dropped
//   task-3  priority 2, 2s, delayed 3s -> completes after the delay
//
// Runs for 15 seconds (or until Ctrl+C) and prints the queue every second.
//
//   go run ./cmd/demo [--duration 15s] [--log-level debug]
// ============================================================================

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/beaver-sched/internal/config"
	"github.com/ChuLiYu/beaver-sched/internal/controller"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

const (
	workerCount = 3
	maxRetries  = 3
)

func main() {
	duration := flag.Duration("duration", 15*time.Second, "how long to run")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := run(*duration, *level); err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}
}

func run(duration time.Duration, level string) error {
	cfg := config.Default()
	cfg.Worker.Count = workerCount
	cfg.Worker.MaxRetries = maxRetries
	cfg.Executor.FailAbove = 2 * time.Second
	cfg.Log.Level = level

	log := logx.New(logx.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctrl, err := controller.New(cfg, controller.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	fmt.Printf("✓ Scheduler started with %d workers, %d attempts per task\n", workerCount, maxRetries)

	now := time.Now()
	tasks := []*types.Task{
		types.NewTask(1, 1*time.Second, types.WithID("task-1"), types.WithCreatedAt(now)),
		types.NewTask(0, 3*time.Second, types.WithID("task-2"), types.WithCreatedAt(now)),
		types.NewTask(2, 2*time.Second, types.WithID("task-3"), types.WithCreatedAt(now), types.WithDelay(3*time.Second)),
	}
	for _, t := range tasks {
		if err := ctrl.Submit(t); err != nil {
			return fmt.Errorf("failed to submit %s: %w", t.ID, err)
		}
	}
	fmt.Printf("✓ Submitted %d tasks, running for %s\n\n", len(tasks), duration)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			printStatus(ctrl.GetStats())
		}
	}

	fmt.Println("\nStopping gracefully, waiting for running tasks...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := ctrl.Stop(stopCtx); err != nil {
		return err
	}

	s := ctrl.GetStats()
	fmt.Printf("\n📊 Final Status:\n")
	fmt.Printf("  Submitted:  %d\n", s.Submitted)
	fmt.Printf("  Dispatched: %d\n", s.Pool.Dispatched)
	fmt.Printf("  Completed:  %d\n", s.Pool.Completed)
	fmt.Printf("  Retried:    %d\n", s.Pool.Retried)
	fmt.Printf("  Dead:       %d\n", s.Pool.Dead)
	fmt.Printf("  Abandoned:  %d\n", s.Abandoned)
	return nil
}

func printStatus(s controller.Stats) {
	fmt.Printf("📊 pending=%d busy=%d completed=%d retried=%d dead=%d\n",
		s.Pending, s.Pool.Busy, s.Pool.Completed, s.Pool.Retried, s.Pool.Dead)
}
