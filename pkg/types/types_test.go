package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskDefaults(t *testing.T) {
	before := time.Now()
	task := NewTask(2, time.Second)
	after := time.Now()

	require.NotEmpty(t, task.ID)
	assert.Equal(t, 2, task.Priority)
	assert.Equal(t, time.Second, task.Duration)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, task.CreatedAt, task.EligibleAt, "tasks are eligible immediately by default")
	assert.False(t, task.CreatedAt.Before(before))
	assert.False(t, task.CreatedAt.After(after))
}

func TestNewTaskUniqueIDs(t *testing.T) {
	seen := make(map[TaskID]bool)
	for i := 0; i < 1000; i++ {
		id := NewTask(0, 0).ID
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestTaskOptions(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	task := NewTask(1, 0,
		WithID("fixed"),
		WithName("report"),
		WithCreatedAt(base),
		WithDelay(10*time.Second),
	)

	assert.Equal(t, TaskID("fixed"), task.ID)
	assert.Equal(t, "report", task.Name)
	assert.Equal(t, base, task.CreatedAt)
	assert.Equal(t, base.Add(10*time.Second), task.EligibleAt)

	at := base.Add(time.Hour)
	task = NewTask(1, 0, WithEligibleAt(at))
	assert.Equal(t, at, task.EligibleAt)
}

func TestIsEligible(t *testing.T) {
	now := time.Now()
	task := NewTask(0, 0, WithEligibleAt(now.Add(10*time.Second)))

	assert.False(t, task.IsEligible(now))
	assert.True(t, task.IsEligible(now.Add(10*time.Second)), "eligibility is inclusive")
	assert.True(t, task.IsEligible(now.Add(11*time.Second)))
}

func TestRetryBudget(t *testing.T) {
	task := NewTask(0, 0)
	const maxRetries = 3

	assert.True(t, task.CanRetry(maxRetries))
	assert.Equal(t, 1, task.MarkFailed())
	assert.True(t, task.CanRetry(maxRetries))
	assert.Equal(t, 2, task.MarkFailed())
	assert.True(t, task.CanRetry(maxRetries))
	assert.Equal(t, 3, task.MarkFailed())
	assert.False(t, task.CanRetry(maxRetries))
}

func TestLabel(t *testing.T) {
	task := NewTask(0, 0, WithID("abc"))
	assert.Equal(t, "abc", task.Label())
	task.Name = "nightly"
	assert.Equal(t, "nightly", task.Label())
}

func TestOutcome(t *testing.T) {
	assert.True(t, Success().Succeeded())
	assert.NoError(t, Success().Err)

	boom := errors.New("boom")
	out := RetryableFailure(boom)
	assert.False(t, out.Succeeded())
	assert.Equal(t, OutcomeRetryableFailure, out.Kind)
	assert.ErrorIs(t, out.Err, boom)

	assert.ErrorIs(t, RetryableFailure(nil).Err, ErrUnknownFailure)
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "retryable_failure", OutcomeRetryableFailure.String())
	assert.Equal(t, "outcome(7)", OutcomeKind(7).String())
}
