package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// streamEventRepo implements StreamEventRepository using GORM.
type streamEventRepo struct {
	db *gorm.DB
}

// NewStreamEventRepository creates a new StreamEventRepository.
func NewStreamEventRepository(db *gorm.DB) *streamEventRepo {
	return &streamEventRepo{db: db}
}

// Create appends an event to a stream.
func (r *streamEventRepo) Create(ctx context.Context, event *models.StreamEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating stream event: %w", err)
	}
	return nil
}

// ListByStream retrieves all events of a stream ordered by timestamp.
// Chapter generation depends on this ordering.
func (r *streamEventRepo) ListByStream(ctx context.Context, streamID models.ULID) ([]*models.StreamEvent, error) {
	var events []*models.StreamEvent
	if err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("timestamp ASC, created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("getting stream events: %w", err)
	}
	return events, nil
}

// Ensure streamEventRepo implements StreamEventRepository at compile time.
var _ StreamEventRepository = (*streamEventRepo)(nil)
