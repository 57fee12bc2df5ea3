// ============================================================================
// Beaver-Sched CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands for running and checking a scheduler process
//
// Command Structure:
//   beaver-sched                   # Root command
//   ├── run                        # Start scheduler, workers, ingress
//   │   ├── --duration            # Stop on its own after this long
//   │   └── --shutdown-timeout    # Bound on waiting for in-flight tasks
//   ├── validate                   # Load config and print the effective setup
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   └── --version
//
// run Command:
//   1. Load config, build logger and controller
//   2. Start controller (config tasks, cron entries, spool, workers)
//   3. Serve /metrics and gRPC health when enabled
//   4. Tell systemd READY=1
//   5. Wait for SIGINT/SIGTERM or --duration
//   6. Health NOT_SERVING, systemd STOPPING=1, controller.Stop
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/beaver-sched/internal/config"
	"github.com/ChuLiYu/beaver-sched/internal/controller"
	"github.com/ChuLiYu/beaver-sched/internal/health"
	"github.com/ChuLiYu/beaver-sched/internal/logx"
)

const Version = "1.0.0"

// app carries what the commands share. Tests swap fs.
type app struct {
	fs         afero.Fs
	configFile string
}

// BuildCLI returns the root command reading from the OS filesystem.
func BuildCLI() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs}

	rootCmd := &cobra.Command{
		Use:   "beaver-sched",
		Short: "Beaver-Sched: an in-process delayed priority task scheduler",
		Long: `Beaver-Sched runs tasks from a delayed priority queue with:
- a fixed pool of polling workers
- bounded retries for failed tasks
- cron and spool-directory submission
- Prometheus metrics and gRPC health`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", config.DefaultPath, "config file path")

	rootCmd.AddCommand(a.buildRunCommand())
	rootCmd.AddCommand(a.buildValidateCommand())

	return rootCmd
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.fs, a.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ============================================================================
// run
// ============================================================================

func (a *app) buildRunCommand() *cobra.Command {
	var (
		duration        time.Duration
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and its workers",
		Long:  "Start the scheduler, submit configured tasks and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.ErrOrStderr(), duration, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop automatically after this long (0 runs until signalled)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for in-flight tasks on shutdown")

	return cmd
}

func (a *app) run(parent context.Context, logOut io.Writer, duration, shutdownTimeout time.Duration) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}

	log := logx.New(logx.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})
	log.Info("starting beaver-sched", logx.String("config", a.configFile), logx.String("version", Version))

	ctrl, err := controller.New(cfg,
		controller.WithLogger(log),
		controller.WithFs(a.fs),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	ctx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	// Servers get their own context so they outlive the signal until the
	// controller has drained.
	srvCtx, stopServers := context.WithCancel(context.Background())
	var srvWg sync.WaitGroup
	defer func() {
		stopServers()
		srvWg.Wait()
	}()

	if cfg.Metrics.Enabled {
		srvWg.Add(1)
		go func() {
			defer srvWg.Done()
			log.Info("metrics server listening", logx.Int("port", cfg.Metrics.Port))
			if err := ctrl.Metrics().Serve(srvCtx, cfg.Metrics.Port); err != nil {
				log.Error("metrics server error", logx.Err(err))
			}
		}()
	}

	var hs *health.Server
	if cfg.Health.Enabled {
		hs = health.New(log.With(logx.String("component", "health")))
		srvWg.Add(1)
		go func() {
			defer srvWg.Done()
			if err := hs.ListenAndServe(srvCtx, cfg.Health.Port); err != nil {
				log.Error("health server error", logx.Err(err))
			}
		}()
		hs.SetServing(true)
	}

	notifySystemd(log, daemon.SdNotifyReady)
	log.Info("system started successfully")

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Info("run duration elapsed, stopping", logx.Duration("duration", duration))
	} else {
		log.Info("received shutdown signal, stopping gracefully")
	}

	if hs != nil {
		hs.SetServing(false)
	}
	notifySystemd(log, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop controller: %w", err)
	}

	stats := ctrl.GetStats()
	log.Info("system stopped",
		logx.Int64("submitted", int64(stats.Submitted)),
		logx.Int64("completed", int64(stats.Pool.Completed)),
		logx.Int64("retried", int64(stats.Pool.Retried)),
		logx.Int64("dead", int64(stats.Pool.Dead)),
		logx.Int("abandoned", stats.Abandoned),
	)
	return nil
}

// notifySystemd is a no-op outside a systemd unit with Type=notify.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// ============================================================================
// validate
// ============================================================================

func (a *app) buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and print the effective setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), a.configFile, cfg, time.Now())
			return nil
		},
	}
}

func printSummary(w io.Writer, path string, cfg *config.Config, now time.Time) {
	fmt.Fprintf(w, "Config: %s (ok)\n\n", path)

	fmt.Fprintln(w, "Workers:")
	fmt.Fprintf(w, "  ├─ Count:         %d\n", cfg.Worker.Count)
	fmt.Fprintf(w, "  ├─ Max Attempts:  %d\n", cfg.Worker.MaxRetries)
	fmt.Fprintf(w, "  ├─ Poll Interval: %s\n", cfg.Worker.PollInterval)
	fmt.Fprintf(w, "  └─ Retry Delay:   %s\n", cfg.Worker.RetryDelay)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Executor:")
	if cfg.Executor.FailAbove > 0 {
		fmt.Fprintf(w, "  ├─ Fails Above:   %s\n", cfg.Executor.FailAbove)
	} else {
		fmt.Fprintln(w, "  ├─ Fails Above:   never")
	}
	fmt.Fprintf(w, "  └─ Failure Rate:  %.0f%%\n", cfg.Executor.FailureRate*100)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Endpoints:")
	fmt.Fprintf(w, "  ├─ Metrics:       %s\n", endpoint(cfg.Metrics.Enabled, "http://localhost:%d/metrics", cfg.Metrics.Port))
	fmt.Fprintf(w, "  └─ Health:        %s\n", endpoint(cfg.Health.Enabled, "grpc://localhost:%d", cfg.Health.Port))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "History:")
	switch cfg.History.Driver {
	case "", "none":
		fmt.Fprintln(w, "  └─ disabled")
	case "memory":
		fmt.Fprintf(w, "  └─ memory, last %s entries\n", humanize.Comma(int64(cfg.History.Size)))
	default:
		fmt.Fprintf(w, "  └─ %s at %s, keeps %s entries\n", cfg.History.Driver, cfg.History.Path, humanize.Comma(int64(cfg.History.Size)))
	}
	if cfg.Spool.Dir != "" {
		fmt.Fprintf(w, "Spool: %s\n", cfg.Spool.Dir)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Tasks (%s):\n", humanize.Comma(int64(len(cfg.Tasks))))
	for i, ts := range cfg.Tasks {
		branch := "├─"
		if i == len(cfg.Tasks)-1 {
			branch = "└─"
		}
		when := "immediately"
		switch {
		case ts.IsRecurring():
			when = "on " + ts.Cron
		case ts.Delay > 0:
			when = humanize.RelTime(now.Add(ts.Delay), now, "ago", "from start")
		}
		fmt.Fprintf(w, "  %s %-12s priority=%d duration=%s eligible %s\n", branch, ts.Name, ts.Priority, ts.Duration, when)
	}
}

func endpoint(enabled bool, format string, port int) string {
	if !enabled {
		return "disabled"
	}
	return fmt.Sprintf(format, port)
}

// Main runs the CLI and returns the process exit code.
func Main() int {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
