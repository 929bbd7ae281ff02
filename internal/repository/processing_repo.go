package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// processingRepo implements ProcessingRepository using GORM.
type processingRepo struct {
	db *gorm.DB
}

// NewProcessingRepository creates a new ProcessingRepository.
func NewProcessingRepository(db *gorm.DB) *processingRepo {
	return &processingRepo{db: db}
}

// GetOrCreate returns the processing state for a recording, creating an
// all-pending row when none exists.
func (r *processingRepo) GetOrCreate(ctx context.Context, recordingID models.ULID) (*models.ProcessingState, error) {
	var state models.ProcessingState

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("recording_id = ?", recordingID).First(&state).Error
		if err == nil {
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("getting processing state: %w", err)
		}

		state = models.ProcessingState{
			RecordingID:   recordingID,
			Mp4Remux:      models.StepPending,
			Mp4Validation: models.StepPending,
			Metadata:      models.StepPending,
			Chapters:      models.StepPending,
			Thumbnail:     models.StepPending,
			Cleanup:       models.StepPending,
		}
		return tx.Create(&state).Error
	})
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// GetByRecording retrieves the processing state for a recording.
func (r *processingRepo) GetByRecording(ctx context.Context, recordingID models.ULID) (*models.ProcessingState, error) {
	var state models.ProcessingState
	if err := r.db.WithContext(ctx).Where("recording_id = ?", recordingID).First(&state).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting processing state: %w", err)
	}
	return &state, nil
}

// SetStep transitions one step inside a transaction so the predecessor check
// and the write are atomic under concurrent workers.
func (r *processingRepo) SetStep(ctx context.Context, recordingID models.ULID, step models.Step, status models.StepStatus, lastError string) (*models.ProcessingState, error) {
	var state models.ProcessingState

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("recording_id = ?", recordingID).First(&state).Error
		if err == gorm.ErrRecordNotFound {
			state = models.ProcessingState{
				RecordingID:   recordingID,
				Mp4Remux:      models.StepPending,
				Mp4Validation: models.StepPending,
				Metadata:      models.StepPending,
				Chapters:      models.StepPending,
				Thumbnail:     models.StepPending,
				Cleanup:       models.StepPending,
			}
			if err := tx.Create(&state).Error; err != nil {
				return fmt.Errorf("creating processing state: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("getting processing state: %w", err)
		}

		if err := state.SetStep(step, status); err != nil {
			return err
		}
		if lastError != "" {
			state.LastError = lastError
		}
		return tx.Save(&state).Error
	})
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Ensure processingRepo implements ProcessingRepository at compile time.
var _ ProcessingRepository = (*processingRepo)(nil)
