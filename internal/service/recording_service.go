package service

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// RecordingDetail joins a recording with its pipeline state.
type RecordingDetail struct {
	Recording  *models.Recording       `json:"recording"`
	Processing *models.ProcessingState `json:"processing,omitempty"`
}

// RecordingService provides read access to recordings and the stream
// deletion operation.
type RecordingService struct {
	recordings repository.RecordingRepository
	streams    repository.StreamRepository
	processing repository.ProcessingRepository
	tasks      repository.TaskRepository
	logger     *slog.Logger
}

// NewRecordingService creates a new recording service.
func NewRecordingService(
	recordings repository.RecordingRepository,
	streams repository.StreamRepository,
	processing repository.ProcessingRepository,
	tasks repository.TaskRepository,
) *RecordingService {
	return &RecordingService{
		recordings: recordings,
		streams:    streams,
		processing: processing,
		tasks:      tasks,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *RecordingService) WithLogger(logger *slog.Logger) *RecordingService {
	s.logger = logger
	return s
}

// List retrieves recordings newest first, optionally filtered by status.
func (s *RecordingService) List(ctx context.Context, status *models.RecordingStatus, limit int) ([]*models.Recording, error) {
	return s.recordings.ListRecent(ctx, status, limit)
}

// Get retrieves one recording with its processing state.
func (s *RecordingService) Get(ctx context.Context, id models.ULID) (*RecordingDetail, error) {
	recording, err := s.recordings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if recording == nil {
		return nil, recerr.New(recerr.KindRecordingNotFound, "service.recording.get",
			"recording %s not found", id)
	}
	processing, err := s.processing.GetByRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RecordingDetail{Recording: recording, Processing: processing}, nil
}

// DeleteStream queues the removal of a stream and every artefact derived
// from it. Live streams cannot be deleted; stop the session first.
func (s *RecordingService) DeleteStream(ctx context.Context, id models.ULID) (*models.Task, error) {
	stream, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, recerr.New(recerr.KindStreamNotFound, "service.stream.delete",
			"stream %s not found", id)
	}
	if stream.IsLive() {
		return nil, recerr.New(recerr.KindRecordingAlreadyActive, "service.stream.delete",
			"stream %s is live; stop the session before deleting", id)
	}

	task := &models.Task{
		Kind:        models.TaskKindStreamDeletionCleanup,
		StreamID:    stream.ID,
		Status:      models.TaskStatusQueued,
		Priority:    queue.PriorityCleanup,
		MaxAttempts: 1,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("queued stream deletion", "stream_id", id.String())
	return task, nil
}
