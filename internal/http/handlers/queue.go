package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/service"
)

// QueueHandler handles task queue endpoints.
type QueueHandler struct {
	queue *service.QueueService
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getQueueStats",
		Method:      "GET",
		Path:        "/api/v1/queue/stats",
		Summary:     "Queue occupancy by status",
		Tags:        []string{"Queue"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "listQueueTasks",
		Method:      "GET",
		Path:        "/api/v1/queue/tasks",
		Summary:     "List tasks",
		Tags:        []string{"Queue"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "cancelQueueTask",
		Method:      "POST",
		Path:        "/api/v1/queue/tasks/{id}/cancel",
		Summary:     "Cancel a queued task",
		Description: "Running tasks are not interrupted",
		Tags:        []string{"Queue"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "retryQueueTask",
		Method:      "POST",
		Path:        "/api/v1/queue/tasks/{id}/retry",
		Summary:     "Retry a failed or cancelled task",
		Tags:        []string{"Queue"},
	}, h.Retry)
}

// QueueStatsOutput is the output for queue stats.
type QueueStatsOutput struct {
	Body repository.TaskCounts
}

// Stats returns queue occupancy grouped by status.
func (h *QueueHandler) Stats(ctx context.Context, _ *struct{}) (*QueueStatsOutput, error) {
	counts, err := h.queue.Stats(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &QueueStatsOutput{Body: counts}, nil
}

// ListTasksInput filters the task list.
type ListTasksInput struct {
	Status string `query:"status" enum:"queued,running,succeeded,failed,cancelled,skipped," doc:"Filter by status"`
	Kind   string `query:"kind" doc:"Filter by task kind"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"100" doc:"Maximum rows returned"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Items []*models.Task `json:"items"`
		Total int            `json:"total"`
	}
}

// List returns tasks newest first.
func (h *QueueHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	var status *models.TaskStatus
	if input.Status != "" {
		s := models.TaskStatus(input.Status)
		status = &s
	}
	var kind *models.TaskKind
	if input.Kind != "" {
		k := models.TaskKind(input.Kind)
		kind = &k
	}
	tasks, err := h.queue.List(ctx, status, kind, input.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &ListTasksOutput{}
	resp.Body.Items = tasks
	resp.Body.Total = len(tasks)
	return resp, nil
}

// TaskIDInput identifies a task by path id.
type TaskIDInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// TaskOutput wraps a single task.
type TaskOutput struct {
	Body *models.Task
}

// Cancel marks a queued task cancelled.
func (h *QueueHandler) Cancel(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID format", err)
	}
	task, err := h.queue.Cancel(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &TaskOutput{Body: task}, nil
}

// Retry re-queues a failed or cancelled task.
func (h *QueueHandler) Retry(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID format", err)
	}
	task, err := h.queue.Retry(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &TaskOutput{Body: task}, nil
}
