package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// streamerRepo implements StreamerRepository using GORM.
type streamerRepo struct {
	db *gorm.DB
}

// NewStreamerRepository creates a new StreamerRepository.
func NewStreamerRepository(db *gorm.DB) *streamerRepo {
	return &streamerRepo{db: db}
}

// Create creates a new streamer.
func (r *streamerRepo) Create(ctx context.Context, streamer *models.Streamer) error {
	if err := r.db.WithContext(ctx).Create(streamer).Error; err != nil {
		return fmt.Errorf("creating streamer: %w", err)
	}
	return nil
}

// GetByID retrieves a streamer by ID.
func (r *streamerRepo) GetByID(ctx context.Context, id models.ULID) (*models.Streamer, error) {
	var streamer models.Streamer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&streamer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting streamer by ID: %w", err)
	}
	return &streamer, nil
}

// GetByTwitchID retrieves a streamer by Twitch user id.
func (r *streamerRepo) GetByTwitchID(ctx context.Context, twitchID string) (*models.Streamer, error) {
	var streamer models.Streamer
	if err := r.db.WithContext(ctx).Where("twitch_id = ?", twitchID).First(&streamer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting streamer by twitch ID: %w", err)
	}
	return &streamer, nil
}

// GetByLogin retrieves a streamer by login name (case-insensitive).
func (r *streamerRepo) GetByLogin(ctx context.Context, login string) (*models.Streamer, error) {
	var streamer models.Streamer
	if err := r.db.WithContext(ctx).Where("login = ?", strings.ToLower(login)).First(&streamer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting streamer by login: %w", err)
	}
	return &streamer, nil
}

// GetAll retrieves all streamers ordered by login.
func (r *streamerRepo) GetAll(ctx context.Context) ([]*models.Streamer, error) {
	var streamers []*models.Streamer
	if err := r.db.WithContext(ctx).Order("login ASC").Find(&streamers).Error; err != nil {
		return nil, fmt.Errorf("getting all streamers: %w", err)
	}
	return streamers, nil
}

// GetEnabled retrieves all streamers with recording enabled.
func (r *streamerRepo) GetEnabled(ctx context.Context) ([]*models.Streamer, error) {
	var streamers []*models.Streamer
	if err := r.db.WithContext(ctx).
		Where("enabled IS NULL OR enabled = ?", true).
		Order("login ASC").
		Find(&streamers).Error; err != nil {
		return nil, fmt.Errorf("getting enabled streamers: %w", err)
	}
	return streamers, nil
}

// Update updates an existing streamer.
func (r *streamerRepo) Update(ctx context.Context, streamer *models.Streamer) error {
	if err := r.db.WithContext(ctx).Save(streamer).Error; err != nil {
		return fmt.Errorf("updating streamer: %w", err)
	}
	return nil
}

// UpdateLiveState updates the observed live flag without touching other fields.
func (r *streamerRepo) UpdateLiveState(ctx context.Context, id models.ULID, isLive bool) error {
	// UpdateColumn skips hooks; nothing here needs validation.
	if err := r.db.WithContext(ctx).Model(&models.Streamer{}).
		Where("id = ?", id).
		UpdateColumn("is_live", isLive).Error; err != nil {
		return fmt.Errorf("updating streamer live state: %w", err)
	}
	return nil
}

// UpdateChannelInfo updates the cached title/category fields.
func (r *streamerRepo) UpdateChannelInfo(ctx context.Context, id models.ULID, title, category, categoryID, language string) error {
	updates := map[string]any{
		"last_title":       title,
		"last_category":    category,
		"last_category_id": categoryID,
	}
	if language != "" {
		updates["last_language"] = language
	}
	if err := r.db.WithContext(ctx).Model(&models.Streamer{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error; err != nil {
		return fmt.Errorf("updating streamer channel info: %w", err)
	}
	return nil
}

// Delete deletes a streamer and all dependent rows.
func (r *streamerRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Streamer{}).Error; err != nil {
		return fmt.Errorf("deleting streamer: %w", err)
	}
	return nil
}

// Ensure streamerRepo implements StreamerRepository at compile time.
var _ StreamerRepository = (*streamerRepo)(nil)
