package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Create creates a new recording.
func (r *recordingRepo) Create(ctx context.Context, recording *models.Recording) error {
	if err := r.db.WithContext(ctx).Create(recording).Error; err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// GetByID retrieves a recording by ID.
func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Recording, error) {
	var recording models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&recording).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by ID: %w", err)
	}
	return &recording, nil
}

// GetActiveByStream retrieves the in-progress recording of a stream.
func (r *recordingRepo) GetActiveByStream(ctx context.Context, streamID models.ULID) (*models.Recording, error) {
	var recording models.Recording
	if err := r.db.WithContext(ctx).
		Where("stream_id = ? AND status = ?", streamID, models.RecordingStatusRecording).
		Order("start_time DESC").
		First(&recording).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active recording: %w", err)
	}
	return &recording, nil
}

// ListByStream retrieves all recordings of a stream, newest first.
func (r *recordingRepo) ListByStream(ctx context.Context, streamID models.ULID) ([]*models.Recording, error) {
	var recordings []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("start_time DESC").
		Find(&recordings).Error; err != nil {
		return nil, fmt.Errorf("getting recordings by stream: %w", err)
	}
	return recordings, nil
}

// ListActive retrieves all in-progress recordings. At startup, before any
// capture has been spawned, these are the orphans of the previous run.
func (r *recordingRepo) ListActive(ctx context.Context) ([]*models.Recording, error) {
	var recordings []*models.Recording
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.RecordingStatusRecording).
		Order("start_time ASC").
		Find(&recordings).Error; err != nil {
		return nil, fmt.Errorf("getting active recordings: %w", err)
	}
	return recordings, nil
}

// ListRecent retrieves recordings newest first, optionally filtered by
// status, bounded by limit.
func (r *recordingRepo) ListRecent(ctx context.Context, status *models.RecordingStatus, limit int) ([]*models.Recording, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("start_time DESC").Limit(limit)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var recordings []*models.Recording
	if err := q.Find(&recordings).Error; err != nil {
		return nil, fmt.Errorf("listing recent recordings: %w", err)
	}
	return recordings, nil
}

// CountActive returns the number of in-progress recordings.
func (r *recordingRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("status = ?", models.RecordingStatusRecording).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting active recordings: %w", err)
	}
	return count, nil
}

// Update updates an existing recording.
func (r *recordingRepo) Update(ctx context.Context, recording *models.Recording) error {
	if err := r.db.WithContext(ctx).Save(recording).Error; err != nil {
		return fmt.Errorf("updating recording: %w", err)
	}
	return nil
}

// UpdateBytes updates the observed capture size without touching other fields.
func (r *recordingRepo) UpdateBytes(ctx context.Context, id models.ULID, bytes int64) error {
	if err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("id = ?", id).
		UpdateColumn("bytes", bytes).Error; err != nil {
		return fmt.Errorf("updating recording bytes: %w", err)
	}
	return nil
}

// Ensure recordingRepo implements RecordingRepository at compile time.
var _ RecordingRepository = (*recordingRepo)(nil)
