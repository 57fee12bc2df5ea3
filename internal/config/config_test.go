package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
worker:
  count: 4
  max_retries: 5
  poll_interval: 250ms
  retry_delay: 1s
executor:
  fail_above: 3s
  failure_rate: 0.1
log:
  level: debug
  format: json
metrics:
  enabled: true
  port: 9100
history:
  driver: sqlite
  path: /var/lib/beaver/history.db
tasks:
  - name: nightly
    priority: 1
    duration: 2s
    cron: "@every 10s"
  - name: warmup
    priority: 0
    duration: 500ms
    delay: 3s
`

func TestLoadFromFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "configs/test.yaml", []byte(sample), 0o644))

	cfg, err := Load(fs, "configs/test.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 5, cfg.Worker.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, time.Second, cfg.Worker.RetryDelay)
	assert.Equal(t, 3*time.Second, cfg.Executor.FailAbove)
	assert.InDelta(t, 0.1, cfg.Executor.FailureRate, 1e-9)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "sqlite", cfg.History.Driver)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 50051, cfg.Health.Port)
	assert.Equal(t, 200, cfg.History.Size)

	require.Len(t, cfg.Tasks, 2)
	assert.True(t, cfg.Tasks[0].IsRecurring())
	assert.False(t, cfg.Tasks[1].IsRecurring())
	assert.Equal(t, 3*time.Second, cfg.Tasks[1].Delay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "nope.yaml")
	assert.Error(t, err)
}

func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("worker: [oops"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Executor.FailAbove)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Worker.Count = 0
	cfg.Worker.MaxRetries = -1
	cfg.Executor.FailureRate = 1.5
	cfg.Log.Format = "xml"
	cfg.History.Driver = "sqlite"
	cfg.Tasks = []TaskSpec{{Name: "bad", Cron: "not a cron"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{
		"worker.count",
		"worker.max_retries",
		"executor.failure_rate",
		"log.format",
		"history.path",
		"tasks[0]",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePortClash(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Enabled = true
	cfg.Health.Enabled = true
	cfg.Health.Port = cfg.Metrics.Port
	assert.ErrorContains(t, cfg.Validate(), "both use")
}

func TestTaskSpecNewTask(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ts := TaskSpec{Name: "report", Priority: 2, Duration: time.Second, Delay: 3 * time.Second}

	a := ts.NewTask(now)
	b := ts.NewTask(now)

	assert.NotEqual(t, a.ID, b.ID, "every call yields a fresh task")
	assert.Equal(t, "report", a.Name)
	assert.Equal(t, 2, a.Priority)
	assert.Equal(t, time.Second, a.Duration)
	assert.Equal(t, now, a.CreatedAt)
	assert.Equal(t, now.Add(3*time.Second), a.EligibleAt)
	assert.Zero(t, a.RetryCount)
}

func TestTaskSpecValidate(t *testing.T) {
	assert.NoError(t, TaskSpec{Cron: "*/5 * * * *"}.Validate())
	assert.NoError(t, TaskSpec{Cron: "30 */5 * * * *"}.Validate(), "seconds field is optional")
	assert.NoError(t, TaskSpec{Cron: "@hourly"}.Validate())
	assert.Error(t, TaskSpec{Duration: -time.Second}.Validate())
	assert.Error(t, TaskSpec{Delay: -time.Second}.Validate())
}
