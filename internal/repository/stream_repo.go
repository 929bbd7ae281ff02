package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// FindOrCreateLive returns the open stream for the streamer, creating one
// when none exists. Online followed quickly by a reconnect maps to the same
// session: an open stream with the same Twitch stream id (or any open stream
// when the event carries none) is reused rather than duplicated.
func (r *streamRepo) FindOrCreateLive(ctx context.Context, stream *models.Stream) (*models.Stream, bool, error) {
	var result models.Stream
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("streamer_id = ? AND ended_at IS NULL", stream.StreamerID)
		if stream.TwitchStreamID != "" {
			query = query.Where("twitch_stream_id = ? OR twitch_stream_id = ''", stream.TwitchStreamID)
		}

		err := query.Order("started_at DESC").First(&result).Error
		if err == nil {
			// Backfill the Twitch id if the open session was created
			// without one.
			if result.TwitchStreamID == "" && stream.TwitchStreamID != "" {
				result.TwitchStreamID = stream.TwitchStreamID
				return tx.Save(&result).Error
			}
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("finding live stream: %w", err)
		}

		if err := tx.Create(stream).Error; err != nil {
			return fmt.Errorf("creating stream: %w", err)
		}
		result = *stream
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &result, created, nil
}

// End sets the stream's end time. The first call wins; later calls return
// the stream unchanged.
func (r *streamRepo) End(ctx context.Context, id models.ULID, endedAt time.Time) (*models.Stream, error) {
	var stream models.Stream

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&stream).Error; err != nil {
			return err
		}
		if stream.EndedAt != nil {
			return nil
		}
		if err := stream.End(endedAt); err != nil {
			return err
		}
		return tx.Save(&stream).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ending stream: %w", err)
	}

	return &stream, nil
}

// RecentByStreamer retrieves streams for a streamer ordered by start time
// descending.
func (r *streamRepo) RecentByStreamer(ctx context.Context, streamerID models.ULID, limit int) ([]*models.Stream, error) {
	var streams []*models.Stream
	query := r.db.WithContext(ctx).
		Where("streamer_id = ?", streamerID).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting recent streams: %w", err)
	}
	return streams, nil
}

// NextEpisodeNumber returns one past the highest episode number assigned to
// the streamer in the given calendar month. Numbers never repeat within a
// month even when earlier streams are deleted, because assigned numbers stay
// on their rows until the whole month ages out.
func (r *streamRepo) NextEpisodeNumber(ctx context.Context, streamerID models.ULID, year int, month time.Month) (int, error) {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var maxEpisode int
	err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("streamer_id = ? AND started_at >= ? AND started_at < ?", streamerID, monthStart, monthEnd).
		Select("COALESCE(MAX(episode), 0)").
		Scan(&maxEpisode).Error
	if err != nil {
		return 0, fmt.Errorf("getting max episode number: %w", err)
	}

	return maxEpisode + 1, nil
}

// CountByStreamer returns the number of streams stored for a streamer.
func (r *streamRepo) CountByStreamer(ctx context.Context, streamerID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("streamer_id = ?", streamerID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting streams: %w", err)
	}
	return count, nil
}

// OldestByStreamer retrieves the oldest ended streams for retention pruning.
func (r *streamRepo) OldestByStreamer(ctx context.Context, streamerID models.ULID, limit int) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).
		Where("streamer_id = ? AND ended_at IS NOT NULL", streamerID).
		Order("started_at ASC").
		Limit(limit).
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting oldest streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete deletes a stream and all dependent rows.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
