package service

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// QueueService provides operator access to the durable task queue.
type QueueService struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

// NewQueueService creates a new queue service.
func NewQueueService(tasks repository.TaskRepository) *QueueService {
	return &QueueService{
		tasks:  tasks,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *QueueService) WithLogger(logger *slog.Logger) *QueueService {
	s.logger = logger
	return s
}

// Stats returns queue occupancy grouped by status.
func (s *QueueService) Stats(ctx context.Context) (repository.TaskCounts, error) {
	return s.tasks.Counts(ctx)
}

// List retrieves tasks newest first with optional status and kind filters.
func (s *QueueService) List(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error) {
	return s.tasks.ListRecent(ctx, status, kind, limit)
}

// Cancel marks a queued task cancelled. Running tasks are not interrupted;
// cancelling one is an error.
func (s *QueueService) Cancel(ctx context.Context, id models.ULID) (*models.Task, error) {
	task, err := s.tasks.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, recerr.New(recerr.KindNotFound, "service.queue.cancel",
			"task %s is not queued", id)
	}
	s.logger.Info("cancelled task", "task_id", id.String(), "kind", task.Kind)
	return task, nil
}

// Retry re-queues a failed or cancelled task immediately with a fresh
// attempt budget.
func (s *QueueService) Retry(ctx context.Context, id models.ULID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, recerr.New(recerr.KindNotFound, "service.queue.retry",
			"task %s not found", id)
	}
	if task.Status != models.TaskStatusFailed && task.Status != models.TaskStatusCancelled {
		return nil, recerr.New(recerr.KindConfig, "service.queue.retry",
			"task %s is %s, only failed or cancelled tasks can be retried", id, task.Status)
	}

	task.Status = models.TaskStatusQueued
	task.AttemptCount = 0
	task.NextRunAt = nil
	task.FinishedAt = nil
	task.LastError = ""
	task.Result = ""
	task.Progress = 0
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("requeued task", "task_id", id.String(), "kind", task.Kind)
	return task, nil
}
