// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// StreamerRepository defines operations for streamer persistence.
type StreamerRepository interface {
	// Create creates a new streamer.
	Create(ctx context.Context, streamer *models.Streamer) error
	// GetByID retrieves a streamer by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Streamer, error)
	// GetByTwitchID retrieves a streamer by Twitch user id.
	GetByTwitchID(ctx context.Context, twitchID string) (*models.Streamer, error)
	// GetByLogin retrieves a streamer by login name.
	GetByLogin(ctx context.Context, login string) (*models.Streamer, error)
	// GetAll retrieves all streamers ordered by login.
	GetAll(ctx context.Context) ([]*models.Streamer, error)
	// GetEnabled retrieves all streamers with recording enabled.
	GetEnabled(ctx context.Context) ([]*models.Streamer, error)
	// Update updates an existing streamer.
	Update(ctx context.Context, streamer *models.Streamer) error
	// UpdateLiveState updates the observed live flag without touching
	// other fields.
	UpdateLiveState(ctx context.Context, id models.ULID, isLive bool) error
	// UpdateChannelInfo updates the cached title/category fields.
	UpdateChannelInfo(ctx context.Context, id models.ULID, title, category, categoryID, language string) error
	// Delete deletes a streamer and all dependent rows.
	Delete(ctx context.Context, id models.ULID) error
}

// StreamRepository defines operations for stream (live session) persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// FindOrCreateLive returns the open (not ended) stream for the
	// streamer, creating one from the given fields when none exists.
	// The bool reports whether a new stream was created.
	FindOrCreateLive(ctx context.Context, stream *models.Stream) (*models.Stream, bool, error)
	// End sets the stream's end time. The first call wins; later calls
	// return the stream unchanged.
	End(ctx context.Context, id models.ULID, endedAt time.Time) (*models.Stream, error)
	// RecentByStreamer retrieves streams for a streamer ordered by
	// start time descending.
	RecentByStreamer(ctx context.Context, streamerID models.ULID, limit int) ([]*models.Stream, error)
	// NextEpisodeNumber returns the next monthly episode number for the
	// streamer: one past the highest assigned in the same year/month.
	NextEpisodeNumber(ctx context.Context, streamerID models.ULID, year int, month time.Month) (int, error)
	// CountByStreamer returns the number of streams stored for a streamer.
	CountByStreamer(ctx context.Context, streamerID models.ULID) (int64, error)
	// OldestByStreamer retrieves the oldest streams for retention pruning.
	OldestByStreamer(ctx context.Context, streamerID models.ULID, limit int) ([]*models.Stream, error)
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// Delete deletes a stream and all dependent rows.
	Delete(ctx context.Context, id models.ULID) error
}

// StreamEventRepository defines operations for stream event persistence.
type StreamEventRepository interface {
	// Create appends an event to a stream.
	Create(ctx context.Context, event *models.StreamEvent) error
	// ListByStream retrieves all events of a stream ordered by timestamp.
	ListByStream(ctx context.Context, streamID models.ULID) ([]*models.StreamEvent, error)
}

// RecordingRepository defines operations for recording persistence.
type RecordingRepository interface {
	// Create creates a new recording.
	Create(ctx context.Context, recording *models.Recording) error
	// GetByID retrieves a recording by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Recording, error)
	// GetActiveByStream retrieves the in-progress recording of a stream.
	GetActiveByStream(ctx context.Context, streamID models.ULID) (*models.Recording, error)
	// ListByStream retrieves all recordings of a stream, newest first.
	ListByStream(ctx context.Context, streamID models.ULID) ([]*models.Recording, error)
	// ListActive retrieves all in-progress recordings.
	ListActive(ctx context.Context) ([]*models.Recording, error)
	// ListRecent retrieves recordings newest first, optionally filtered
	// by status, bounded by limit.
	ListRecent(ctx context.Context, status *models.RecordingStatus, limit int) ([]*models.Recording, error)
	// CountActive returns the number of in-progress recordings.
	CountActive(ctx context.Context) (int64, error)
	// Update updates an existing recording.
	Update(ctx context.Context, recording *models.Recording) error
	// UpdateBytes updates the observed capture size without touching
	// other fields.
	UpdateBytes(ctx context.Context, id models.ULID, bytes int64) error
}

// ProcessingRepository defines operations for pipeline state persistence.
type ProcessingRepository interface {
	// GetOrCreate returns the processing state for a recording,
	// creating an all-pending row when none exists.
	GetOrCreate(ctx context.Context, recordingID models.ULID) (*models.ProcessingState, error)
	// GetByRecording retrieves the processing state for a recording.
	GetByRecording(ctx context.Context, recordingID models.ULID) (*models.ProcessingState, error)
	// SetStep transitions one step, enforcing that running requires all
	// predecessors completed or skipped. lastError replaces the stored
	// error when non-empty.
	SetStep(ctx context.Context, recordingID models.ULID, step models.Step, status models.StepStatus, lastError string) (*models.ProcessingState, error)
}

// MetadataRepository defines operations for sidecar artifact bookkeeping.
type MetadataRepository interface {
	// Upsert creates or updates the metadata row for a recording.
	Upsert(ctx context.Context, metadata *models.StreamMetadata) error
	// GetByRecording retrieves the metadata row for a recording.
	GetByRecording(ctx context.Context, recordingID models.ULID) (*models.StreamMetadata, error)
}

// SettingsRepository defines operations for the global settings row.
type SettingsRepository interface {
	// GetGlobal retrieves the global settings row, creating it if missing.
	GetGlobal(ctx context.Context) (*models.Settings, error)
	// Update updates the global settings row.
	Update(ctx context.Context, settings *models.Settings) error
}

// TaskCounts summarizes queue occupancy for the stats broadcast.
type TaskCounts struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Skipped   int64 `json:"skipped"`
}

// TaskRepository defines operations for durable task persistence.
type TaskRepository interface {
	// Create creates a new task.
	Create(ctx context.Context, task *models.Task) error
	// CreateBatch creates several tasks atomically; used when enqueueing
	// a pipeline so dependency edges never reference missing rows.
	CreateBatch(ctx context.Context, tasks []*models.Task) error
	// GetByID retrieves a task by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	// GetByIDs retrieves several tasks at once, keyed by ID.
	GetByIDs(ctx context.Context, ids []models.ULID) (map[models.ULID]*models.Task, error)
	// Acquire atomically claims the next runnable task for a worker:
	// queued, unlocked, next_run_at due, ordered by priority then age.
	// Returns nil when no task is runnable.
	Acquire(ctx context.Context, workerID string) (*models.Task, error)
	// Release returns a claimed task to the queue, delaying its next
	// eligibility by the given duration.
	Release(ctx context.Context, id models.ULID, delay time.Duration) error
	// Update updates an existing task.
	Update(ctx context.Context, task *models.Task) error
	// UpdateProgress updates the progress fraction without touching
	// other fields.
	UpdateProgress(ctx context.Context, id models.ULID, progress float64) error
	// FindDuplicatePending finds a queued or running task of the same
	// kind for the same recording.
	FindDuplicatePending(ctx context.Context, kind models.TaskKind, recordingID models.ULID) (*models.Task, error)
	// ListByStatus retrieves tasks by status, newest first.
	ListByStatus(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error)
	// ListRecent retrieves tasks newest first with optional status and
	// kind filters, bounded by limit.
	ListRecent(ctx context.Context, status *models.TaskStatus, kind *models.TaskKind, limit int) ([]*models.Task, error)
	// ListByRecording retrieves all tasks of a recording.
	ListByRecording(ctx context.Context, recordingID models.ULID) ([]*models.Task, error)
	// ListRunning retrieves all running tasks.
	ListRunning(ctx context.Context) ([]*models.Task, error)
	// RequeueRunning returns every running task to queued; called once at
	// startup to rehydrate work interrupted by a crash.
	RequeueRunning(ctx context.Context) (int64, error)
	// Counts returns queue occupancy grouped by status.
	Counts(ctx context.Context) (TaskCounts, error)
	// Cancel marks a queued task cancelled; running tasks are not
	// interrupted. Returns the updated task, or nil if not cancellable.
	Cancel(ctx context.Context, id models.ULID) (*models.Task, error)
	// DeleteTerminalBefore deletes terminal tasks finished before the
	// given time.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
	// CreateHistory creates a task history record.
	CreateHistory(ctx context.Context, history *models.TaskHistory) error
	// GetHistory retrieves task history with pagination, newest first.
	GetHistory(ctx context.Context, kind *models.TaskKind, offset, limit int) ([]*models.TaskHistory, int64, error)
	// DeleteHistoryBefore deletes history records older than the given time.
	DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error)
}
