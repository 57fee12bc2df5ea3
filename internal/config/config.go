// ============================================================================
// Beaver-Sched Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML configuration for the scheduler binaries.
//
// Layout (configs/default.yaml):
//   worker:   count, max_retries, poll_interval, retry_delay
//   executor: fail_above, failure_rate
//   log:      level, format
//   metrics:  enabled, port
//   health:   enabled, port
//   history:  driver (none|memory|sqlite), path, size
//   spool:    dir
//   tasks:    [{name, priority, duration, delay, cron}]
//
// Durations use Go syntax ("500ms", "2s"). Missing keys keep the values
// from Default(). Files are read through afero so tests run in memory.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "configs/default.yaml"

var ErrInvalid = errors.New("config: invalid")

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	MaxRetries   int           `yaml:"max_retries"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

type ExecutorConfig struct {
	FailAbove   time.Duration `yaml:"fail_above"`
	FailureRate float64       `yaml:"failure_rate"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Size   int    `yaml:"size"`
}

type SpoolConfig struct {
	Dir string `yaml:"dir"`
}

// TaskSpec declares a task to submit at startup, or on a cron schedule when
// Cron is set.
type TaskSpec struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Duration time.Duration `yaml:"duration"`
	Delay    time.Duration `yaml:"delay"`
	Cron     string        `yaml:"cron"`
}

// Config is the complete configuration structure.
type Config struct {
	Worker   WorkerConfig   `yaml:"worker"`
	Executor ExecutorConfig `yaml:"executor"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
	History  HistoryConfig  `yaml:"history"`
	Spool    SpoolConfig    `yaml:"spool"`
	Tasks    []TaskSpec     `yaml:"tasks"`
}

// Default mirrors the stock demo: 3 workers, 3 attempts, 500ms polling, and
// any task declared longer than 2s fails.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Count:        3,
			MaxRetries:   3,
			PollInterval: 500 * time.Millisecond,
		},
		Executor: ExecutorConfig{
			FailAbove: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{Port: 9090},
		Health:  HealthConfig{Port: 50051},
		History: HistoryConfig{Driver: "memory", Size: 200},
	}
}

// Load reads path from fs on top of Default() and validates the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Worker.Count <= 0 {
		add("worker.count must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.MaxRetries <= 0 {
		add("worker.max_retries must be positive, got %d", c.Worker.MaxRetries)
	}
	if c.Worker.PollInterval < 0 {
		add("worker.poll_interval must not be negative")
	}
	if c.Worker.RetryDelay < 0 {
		add("worker.retry_delay must not be negative")
	}
	if c.Executor.FailureRate < 0 || c.Executor.FailureRate > 1 {
		add("executor.failure_rate must be within [0,1], got %g", c.Executor.FailureRate)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		add("log.format %q (want console or json)", c.Log.Format)
	}
	if c.Metrics.Enabled && !validPort(c.Metrics.Port) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Health.Enabled && !validPort(c.Health.Port) {
		add("health.port %d out of range", c.Health.Port)
	}
	if c.Metrics.Enabled && c.Health.Enabled && c.Metrics.Port == c.Health.Port {
		add("metrics.port and health.port both use %d", c.Metrics.Port)
	}
	switch strings.ToLower(c.History.Driver) {
	case "", "none", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.History.Path) == "" {
			add("history.path is required for the sqlite driver")
		}
	default:
		add("history.driver %q (want none, memory or sqlite)", c.History.Driver)
	}
	for i, ts := range c.Tasks {
		if err := ts.Validate(); err != nil {
			add("tasks[%d]: %v", i, err)
		}
	}
	return errors.Join(errs...)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

// CronParser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @every 10s.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a single task declaration.
func (ts TaskSpec) Validate() error {
	if ts.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if ts.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	if ts.Cron != "" {
		if _, err := CronParser.Parse(ts.Cron); err != nil {
			return fmt.Errorf("cron %q: %w", ts.Cron, err)
		}
	}
	return nil
}

// IsRecurring reports whether the task is submitted by the cron runner
// rather than once at startup.
func (ts TaskSpec) IsRecurring() bool { return ts.Cron != "" }

// NewTask builds a fresh task created at now. Each call yields a new ID.
func (ts TaskSpec) NewTask(now time.Time) *types.Task {
	return types.NewTask(ts.Priority, ts.Duration,
		types.WithName(ts.Name),
		types.WithCreatedAt(now),
		types.WithDelay(ts.Delay),
	)
}
