package controller

import (
	"github.com/ChuLiYu/beaver-sched/internal/metrics"
	"github.com/ChuLiYu/beaver-sched/internal/scheduler"
	"github.com/ChuLiYu/beaver-sched/internal/worker"
	"github.com/ChuLiYu/beaver-sched/pkg/types"
)

// trackedSource is the worker.Source handed to the pool. It keeps the
// pending gauge in step with every pop and resubmission.
type trackedSource struct {
	sched   *scheduler.Scheduler
	metrics *metrics.Collector
}

var _ worker.Source = (*trackedSource)(nil)

func (s *trackedSource) GetReadyTask() (*types.Task, bool) {
	task, ok := s.sched.GetReadyTask()
	if ok {
		s.metrics.SetPending(s.sched.Pending())
	}
	return task, ok
}

// Schedule is only reached for retries, so it is not counted as a new
// submission.
func (s *trackedSource) Schedule(task *types.Task) error {
	if err := s.sched.Schedule(task); err != nil {
		return err
	}
	s.metrics.SetPending(s.sched.Pending())
	return nil
}
