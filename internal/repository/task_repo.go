package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *taskRepo {
	return &taskRepo{db: db}
}

// Create creates a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// CreateBatch creates several tasks atomically.
func (r *taskRepo) CreateBatch(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, task := range tasks {
			if err := tx.Create(task).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating task batch: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// GetByIDs retrieves several tasks at once, keyed by ID.
func (r *taskRepo) GetByIDs(ctx context.Context, ids []models.ULID) (map[models.ULID]*models.Task, error) {
	if len(ids) == 0 {
		return map[models.ULID]*models.Task{}, nil
	}

	var tasks []*models.Task
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting tasks by IDs: %w", err)
	}

	result := make(map[models.ULID]*models.Task, len(tasks))
	for _, task := range tasks {
		result[task.ID] = task
	}
	return result, nil
}

// Acquire atomically claims the next runnable task for a worker.
// Uses SELECT FOR UPDATE with SKIP LOCKED for safe concurrent access.
// Dependency readiness is the runner's concern; Acquire orders purely by
// priority then age.
func (r *taskRepo) Acquire(ctx context.Context, workerID string) (*models.Task, error) {
	var task models.Task
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.TaskStatusQueued).
			Where("locked_by IS NULL OR locked_by = ''").
			Where("next_run_at IS NULL OR next_run_at <= ?", now).
			Order("priority DESC, created_at ASC").
			Limit(1)

		if err := query.First(&task).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return err
			}
			return fmt.Errorf("finding runnable task: %w", err)
		}

		task.MarkRunning(workerID)
		return tx.Save(&task).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // nothing runnable
		}
		return nil, err
	}

	return &task, nil
}

// Release returns a claimed task to the queue, delaying its next eligibility.
// Used when a task was acquired but cannot run yet (dependencies pending,
// per-kind cap reached).
func (r *taskRepo) Release(ctx context.Context, id models.ULID, delay time.Duration) error {
	nextRun := time.Now().UTC().Add(delay)
	// UpdateColumns skips hooks; the claim's attempt increment is undone
	// because a released task was never actually attempted.
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":        models.TaskStatusQueued,
			"locked_by":     "",
			"locked_at":     nil,
			"started_at":    nil,
			"next_run_at":   nextRun,
			"attempt_count": gorm.Expr("attempt_count - 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("releasing task: %w", result.Error)
	}
	return nil
}

// Update updates an existing task.
func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// UpdateProgress updates the progress fraction without touching other fields.
func (r *taskRepo) UpdateProgress(ctx context.Context, id models.ULID, progress float64) error {
	if err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		UpdateColumn("progress", progress).Error; err != nil {
		return fmt.Errorf("updating task progress: %w", err)
	}
	return nil
}

// FindDuplicatePending finds a queued or running task of the same kind for
// the same recording.
func (r *taskRepo) FindDuplicatePending(ctx context.Context, kind models.TaskKind, recordingID models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND recording_id = ? AND status IN (?, ?)",
			kind, recordingID, models.TaskStatusQueued, models.TaskStatusRunning).
		First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("finding duplicate pending task: %w", err)
	}
	return &task, nil
}

// ListByStatus retrieves tasks by status, newest first.
// ListRecent retrieves tasks newest first with optional status and kind
// filters, bounded by limit.
func (r *taskRepo) ListRecent(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	var tasks []*models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing recent tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskRepo) ListByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	var tasks []*models.Task
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting tasks by status: %w", err)
	}
	return tasks, nil
}

// ListByRecording retrieves all tasks of a recording.
func (r *taskRepo) ListByRecording(ctx context.Context, recordingID models.ULID) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).
		Where("recording_id = ?", recordingID).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting tasks by recording: %w", err)
	}
	return tasks, nil
}

// ListRunning retrieves all running tasks.
func (r *taskRepo) ListRunning(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.TaskStatusRunning).
		Order("started_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("getting running tasks: %w", err)
	}
	return tasks, nil
}

// RequeueRunning returns every running task to queued. Attempt counts are
// preserved so a crash loop still converges on max attempts.
func (r *taskRepo) RequeueRunning(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskStatusRunning).
		UpdateColumns(map[string]any{
			"status":      models.TaskStatusQueued,
			"locked_by":   "",
			"locked_at":   nil,
			"started_at":  nil,
			"next_run_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("requeueing running tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Counts returns queue occupancy grouped by status.
func (r *taskRepo) Counts(ctx context.Context) (TaskCounts, error) {
	var rows []struct {
		Status models.TaskStatus
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return TaskCounts{}, fmt.Errorf("counting tasks: %w", err)
	}

	var counts TaskCounts
	for _, row := range rows {
		switch row.Status {
		case models.TaskStatusQueued:
			counts.Queued = row.N
		case models.TaskStatusRunning:
			counts.Running = row.N
		case models.TaskStatusSucceeded:
			counts.Succeeded = row.N
		case models.TaskStatusFailed:
			counts.Failed = row.N
		case models.TaskStatusCancelled:
			counts.Cancelled = row.N
		case models.TaskStatusSkipped:
			counts.Skipped = row.N
		}
	}
	return counts, nil
}

// Cancel marks a queued task cancelled. Running tasks finish undisturbed.
func (r *taskRepo) Cancel(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&task).Error; err != nil {
			return err
		}
		if task.Status != models.TaskStatusQueued {
			return gorm.ErrRecordNotFound
		}
		task.MarkCancelled()
		return tx.Save(&task).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("cancelling task: %w", err)
	}

	return &task, nil
}

// DeleteTerminalBefore deletes terminal tasks finished before the given time.
func (r *taskRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?, ?, ?) AND finished_at < ?",
			models.TaskStatusSucceeded, models.TaskStatusFailed,
			models.TaskStatusCancelled, models.TaskStatusSkipped, before).
		Delete(&models.Task{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting terminal tasks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateHistory creates a task history record.
func (r *taskRepo) CreateHistory(ctx context.Context, history *models.TaskHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("creating task history: %w", err)
	}
	return nil
}

// GetHistory retrieves task history with pagination, newest first.
func (r *taskRepo) GetHistory(ctx context.Context, kind *models.TaskKind, offset, limit int) ([]*models.TaskHistory, int64, error) {
	var history []*models.TaskHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&models.TaskHistory{})
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting task history: %w", err)
	}

	if err := query.Order("finished_at DESC").Offset(offset).Limit(limit).Find(&history).Error; err != nil {
		return nil, 0, fmt.Errorf("getting task history: %w", err)
	}

	return history, total, nil
}

// DeleteHistoryBefore deletes history records older than the given time.
func (r *taskRepo) DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("finished_at < ?", before).
		Delete(&models.TaskHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting task history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure taskRepo implements TaskRepository at compile time.
var _ TaskRepository = (*taskRepo)(nil)
