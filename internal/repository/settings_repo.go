package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// settingsRepo implements SettingsRepository using GORM.
type settingsRepo struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *gorm.DB) *settingsRepo {
	return &settingsRepo{db: db}
}

// GetGlobal retrieves the global settings row, creating it if missing.
func (r *settingsRepo) GetGlobal(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := r.db.WithContext(ctx).
		Where("scope = ?", models.SettingsScopeGlobal).
		FirstOrCreate(&settings, models.Settings{Scope: models.SettingsScopeGlobal}).Error
	if err != nil {
		return nil, fmt.Errorf("getting global settings: %w", err)
	}
	return &settings, nil
}

// Update updates the global settings row.
func (r *settingsRepo) Update(ctx context.Context, settings *models.Settings) error {
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	return nil
}

// Ensure settingsRepo implements SettingsRepository at compile time.
var _ SettingsRepository = (*settingsRepo)(nil)
