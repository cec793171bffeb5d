package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"novel-continuity/internal/models"
	"novel-continuity/pkg/taskmanager"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetTask returns the task snapshot. Tasks no longer held in memory (e.g. after a restart)
// are looked up in the archive when one is configured.
func (s *ContinuityService) GetTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error) {
	t, err := s.Tasks.Get(taskID)
	if errors.Is(err, taskmanager.ErrTaskNotFound) && s.TaskArchive != nil {
		archived, archErr := s.TaskArchive.Get(ctx, taskID)
		if archErr == nil {
			return *archived, nil
		}
		if !errors.Is(archErr, taskmanager.ErrTaskNotFound) {
			return taskmanager.Task{}, fmt.Errorf("%w: %w", models.ErrTransientIO, archErr)
		}
	}
	return t, mapTaskError(err)
}

func (s *ContinuityService) ListTasks(kind string) []taskmanager.Task {
	return s.Tasks.List(kind)
}

// CancelTask cancels a pending or running task. A running task stops at its next
// progress report and its result is discarded.
func (s *ContinuityService) CancelTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error) {
	if err := s.Tasks.Cancel(taskID); err != nil {
		return taskmanager.Task{}, mapTaskError(err)
	}
	s.logger.Info("Task cancelled", zap.Stringer("taskID", taskID))
	return s.GetTask(ctx, taskID)
}

// RetryTask puts a failed task back in the queue.
func (s *ContinuityService) RetryTask(ctx context.Context, taskID uuid.UUID) (taskmanager.Task, error) {
	if err := s.Tasks.Retry(ctx, taskID); err != nil {
		return taskmanager.Task{}, mapTaskError(err)
	}
	s.logger.Info("Task retried", zap.Stringer("taskID", taskID))
	return s.GetTask(ctx, taskID)
}

// CleanupTasks drops terminal tasks older than retention.
func (s *ContinuityService) CleanupTasks(ctx context.Context, retention time.Duration) int {
	n := s.Tasks.CleanupTasks(ctx, retention)
	if n > 0 {
		s.logger.Info("Old tasks removed", zap.Int("count", n))
	}
	return n
}
