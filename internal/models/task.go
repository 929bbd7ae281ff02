package models

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"
)

// TaskKind represents the type of task to execute.
type TaskKind string

const (
	// TaskKindMp4Remux remuxes a captured transport stream into MP4.
	TaskKindMp4Remux TaskKind = "mp4_remux"
	// TaskKindMp4Validation validates a remuxed MP4 against its source.
	TaskKindMp4Validation TaskKind = "mp4_validation"
	// TaskKindMetadataGen writes the JSON/NFO metadata sidecars.
	TaskKindMetadataGen TaskKind = "metadata_gen"
	// TaskKindChaptersGen writes chapter sidecars from stream events.
	TaskKindChaptersGen TaskKind = "chapters_gen"
	// TaskKindThumbnail produces the episode thumbnail.
	TaskKindThumbnail TaskKind = "thumbnail"
	// TaskKindCleanup removes the source TS once safe.
	TaskKindCleanup TaskKind = "cleanup"
	// TaskKindThumbnailPreview captures a preview frame from a live recording.
	TaskKindThumbnailPreview TaskKind = "thumbnail_preview"
	// TaskKindStreamDeletionCleanup removes all artifacts of a deleted stream.
	TaskKindStreamDeletionCleanup TaskKind = "stream_deletion_cleanup"
	// TaskKindOrphanScan sweeps for recordings left behind by crashes.
	TaskKindOrphanScan TaskKind = "orphan_scan"
	// TaskKindLogRetention prunes expired subprocess and app logs.
	TaskKindLogRetention TaskKind = "log_retention"
	// TaskKindReconcileLive re-checks is_live flags against the Twitch API.
	TaskKindReconcileLive TaskKind = "reconcile_live"
	// TaskKindArtworkRefresh refreshes streamer artwork from profile images.
	TaskKindArtworkRefresh TaskKind = "artwork_refresh"
)

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be executed.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusSkipped indicates the task was skipped because a
	// dependency did not succeed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Retry backoff bounds. Base doubles per attempt, capped, with ±20% jitter
// so retries for tasks failed in the same burst spread out.
const (
	taskBackoffBase   = 30 * time.Second
	taskBackoffMax    = 10 * time.Minute
	taskBackoffJitter = 0.20
)

// Task represents one durable unit of queue work.
type Task struct {
	BaseModel

	// Kind indicates what kind of task this is.
	Kind TaskKind `gorm:"not null;size:50;index" json:"kind"`

	// RecordingID is the recording this task operates on, if any.
	RecordingID ULID `gorm:"type:varchar(26);index" json:"recording_id,omitempty"`

	// StreamID is the stream this task operates on, if any.
	StreamID ULID `gorm:"type:varchar(26);index" json:"stream_id,omitempty"`

	// Status indicates the current status of the task.
	Status TaskStatus `gorm:"not null;default:'queued';size:20;index" json:"status"`

	// Priority determines execution order (higher = more important).
	// Ties break on creation time, oldest first.
	Priority int `gorm:"default:0;index" json:"priority"`

	// Payload carries the kind-specific parameters as JSON.
	Payload string `gorm:"size:8192" json:"payload,omitempty"`

	// DependsOn is a JSON array of task ULIDs that must succeed before
	// this task becomes eligible. A failed, cancelled or skipped
	// dependency causes this task to be skipped.
	DependsOn string `gorm:"size:2048" json:"depends_on,omitempty"`

	// NextRunAt is the earliest time the task may execute.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	// StartedAt is the timestamp when the task started executing.
	StartedAt *Time `json:"started_at,omitempty"`

	// FinishedAt is the timestamp when the task reached a terminal state.
	FinishedAt *Time `json:"finished_at,omitempty"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptCount is the number of times this task has been attempted.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts is the maximum number of attempts (0 = single attempt).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// Progress is the last reported completion fraction in [0, 1].
	Progress float64 `gorm:"default:0" json:"progress"`

	// LastError contains the error message from the last failed attempt.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// Result contains optional result data (e.g. output paths, counts).
	Result string `gorm:"size:4096" json:"result,omitempty"`

	// LockedBy is the worker ID that has claimed this task.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`

	// LockedAt is the timestamp when the task was claimed.
	LockedAt *Time `json:"locked_at,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Dependencies parses the DependsOn field into task IDs.
func (t *Task) Dependencies() ([]ULID, error) {
	if t.DependsOn == "" {
		return nil, nil
	}
	var ids []ULID
	if err := json.Unmarshal([]byte(t.DependsOn), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SetDependencies encodes the given task IDs into the DependsOn field.
func (t *Task) SetDependencies(ids []ULID) error {
	if len(ids) == 0 {
		t.DependsOn = ""
		return nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	t.DependsOn = string(data)
	return nil
}

// UnmarshalPayload decodes the JSON payload into v.
func (t *Task) UnmarshalPayload(v any) error {
	if t.Payload == "" {
		return nil
	}
	return json.Unmarshal([]byte(t.Payload), v)
}

// SetPayload encodes v as the task payload.
func (t *Task) SetPayload(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.Payload = string(data)
	return nil
}

// IsPending returns true if the task is waiting to execute.
func (t *Task) IsPending() bool {
	return t.Status == TaskStatusQueued
}

// IsRunning returns true if the task is currently executing.
func (t *Task) IsRunning() bool {
	return t.Status == TaskStatusRunning
}

// IsTerminal returns true if the task reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled, TaskStatusSkipped:
		return true
	}
	return false
}

// CanRetry returns true if a failed attempt may be retried.
func (t *Task) CanRetry() bool {
	return t.AttemptCount < t.MaxAttempts
}

// MarkRunning marks the task as claimed by a worker and running.
func (t *Task) MarkRunning(workerID string) {
	t.Status = TaskStatusRunning
	now := Now()
	t.StartedAt = &now
	t.LockedBy = workerID
	t.LockedAt = &now
	t.AttemptCount++
	t.LastError = ""
}

// MarkSucceeded marks the task as completed successfully.
func (t *Task) MarkSucceeded(result string) {
	t.Status = TaskStatusSucceeded
	now := Now()
	t.FinishedAt = &now
	t.Result = result
	t.Progress = 1
	t.LastError = ""

	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}

	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkFailed marks the task as terminally failed.
func (t *Task) MarkFailed(err error) {
	t.Status = TaskStatusFailed
	now := Now()
	t.FinishedAt = &now

	if err != nil {
		t.LastError = err.Error()
	}

	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}

	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkCancelled marks the task as cancelled.
func (t *Task) MarkCancelled() {
	t.Status = TaskStatusCancelled
	now := Now()
	t.FinishedAt = &now
	t.LockedBy = ""
	t.LockedAt = nil
}

// MarkSkipped marks the task as skipped, recording why.
func (t *Task) MarkSkipped(reason string) {
	t.Status = TaskStatusSkipped
	now := Now()
	t.FinishedAt = &now
	t.LastError = reason
	t.LockedBy = ""
	t.LockedAt = nil
}

// NextBackoff returns the delay before the next retry attempt.
// Exponential: base * 2^(attempt-1), capped, with ±20% jitter.
func (t *Task) NextBackoff() time.Duration {
	attempts := t.AttemptCount
	if attempts < 1 {
		attempts = 1
	}

	backoff := taskBackoffBase
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= taskBackoffMax {
			backoff = taskBackoffMax
			break
		}
	}
	if backoff > taskBackoffMax {
		backoff = taskBackoffMax
	}

	jitter := 1 + taskBackoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(backoff) * jitter)
}

// ScheduleRetry re-queues a failed attempt with exponential backoff.
// The caller must have checked CanRetry.
func (t *Task) ScheduleRetry(err error) {
	if err != nil {
		t.LastError = err.Error()
	}
	nextRun := Now().Add(t.NextBackoff())
	t.NextRunAt = &nextRun
	t.Status = TaskStatusQueued
	t.LockedBy = ""
	t.LockedAt = nil
}

// Validate performs basic validation on the task.
func (t *Task) Validate() error {
	if t.Kind == "" {
		return ErrTaskKindRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the task and generates a ULID.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if err := t.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return t.Validate()
}

// BeforeUpdate is a GORM hook that validates the task before update.
func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	return t.Validate()
}

// TaskHistory stores one row per finished task attempt. Kept separate
// from the main task table so it stays lean under churn.
type TaskHistory struct {
	BaseModel

	// TaskID is the ID of the original task.
	TaskID ULID `gorm:"not null;index" json:"task_id"`

	// Kind indicates what kind of task this was.
	Kind TaskKind `gorm:"not null;size:50;index" json:"kind"`

	// RecordingID is the recording the task operated on, if any.
	RecordingID ULID `gorm:"type:varchar(26);index" json:"recording_id,omitempty"`

	// Status is the final status of this attempt.
	Status TaskStatus `gorm:"not null;size:20" json:"status"`

	// StartedAt is the timestamp when the attempt started.
	StartedAt *Time `gorm:"index" json:"started_at,omitempty"`

	// FinishedAt is the timestamp when the attempt finished.
	FinishedAt *Time `gorm:"index" json:"finished_at,omitempty"`

	// DurationMs is the attempt duration in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// AttemptNumber is which attempt this was (1 = first attempt).
	AttemptNumber int `json:"attempt_number"`

	// Error contains the error message if the attempt failed.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// Result contains optional result data.
	Result string `gorm:"size:4096" json:"result,omitempty"`
}

// TableName returns the table name for TaskHistory.
func (TaskHistory) TableName() string {
	return "task_history"
}

// NewTaskHistory snapshots a finished task attempt.
func NewTaskHistory(t *Task) *TaskHistory {
	return &TaskHistory{
		TaskID:        t.ID,
		Kind:          t.Kind,
		RecordingID:   t.RecordingID,
		Status:        t.Status,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
		DurationMs:    t.DurationMs,
		AttemptNumber: t.AttemptCount,
		Error:         t.LastError,
		Result:        t.Result,
	}
}
