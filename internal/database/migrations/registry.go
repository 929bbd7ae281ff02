package migrations

import (
	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order:
// - 001: Schema creation using GORM AutoMigrate
// - 002: Seed the global settings row
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002GlobalSettings(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			// AutoMigrate all models in dependency order
			return tx.AutoMigrate(
				// Core recording entities
				&models.Streamer{},
				&models.Stream{},
				&models.StreamEvent{},
				&models.Recording{},
				&models.ProcessingState{},
				&models.StreamMetadata{},

				// Queue
				&models.Task{},
				&models.TaskHistory{},

				// Configuration
				&models.Settings{},
			)
		},
	}
}

// migration002GlobalSettings seeds the single global settings row so
// the resolver always has a database layer to read.
func migration002GlobalSettings() Migration {
	return Migration{
		Version:     "002",
		Description: "Seed global settings row",
		Up: func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.Settings{}).
				Where("scope = ?", models.SettingsScopeGlobal).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			return tx.Create(&models.Settings{Scope: models.SettingsScopeGlobal}).Error
		},
	}
}
