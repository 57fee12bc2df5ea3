// Package executor defines the execution collaborator contract: one task in,
// one outcome out. What running a task means is up to the implementation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// Executor runs a single attempt of a task.
//
// Implementations report failure through the returned Outcome. The worker
// pool never imposes a timeout; ctx is only cancelled by whoever built it.
type Executor interface {
	Execute(ctx context.Context, task *types.Task) types.Outcome
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, task *types.Task) types.Outcome

// Execute calls f.
func (f Func) Execute(ctx context.Context, task *types.Task) types.Outcome {
	return f(ctx, task)
}

// FromError adapts an error-returning function. A nil error is a success,
// anything else a retryable failure.
func FromError(fn func(ctx context.Context, task *types.Task) error) Executor {
	return Func(func(ctx context.Context, task *types.Task) types.Outcome {
		if err := fn(ctx, task); err != nil {
			return types.RetryableFailure(err)
		}
		return types.Success()
	})
}

// ErrSimulatedFailure is reported by Simulated when a task is made to fail.
var ErrSimulatedFailure = errors.New("simulated task failure")

// Simulated sleeps for the task's declared Duration and then reports an
// outcome. Tasks longer than FailAbove always fail; otherwise they fail with
// probability FailureRate.
type Simulated struct {
	FailAbove   time.Duration // 0 disables the duration rule
	FailureRate float64       // 0..1

	once sync.Once
	mu   sync.Mutex
	rng  *rand.Rand
}

// Execute implements Executor.
func (s *Simulated) Execute(ctx context.Context, task *types.Task) types.Outcome {
	if task.Duration > 0 {
		timer := time.NewTimer(task.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.RetryableFailure(ctx.Err())
		case <-timer.C:
		}
	}

	if s.FailAbove > 0 && task.Duration > s.FailAbove {
		return types.RetryableFailure(fmt.Errorf("%w: duration %s exceeds %s", ErrSimulatedFailure, task.Duration, s.FailAbove))
	}
	if s.FailureRate > 0 && s.roll() < s.FailureRate {
		return types.RetryableFailure(ErrSimulatedFailure)
	}
	return types.Success()
}

func (s *Simulated) roll() float64 {
	s.once.Do(func() {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
