package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vodarr/internal/models"
	"gorm.io/gorm"
)

// metadataRepo implements MetadataRepository using GORM.
type metadataRepo struct {
	db *gorm.DB
}

// NewMetadataRepository creates a new MetadataRepository.
func NewMetadataRepository(db *gorm.DB) *metadataRepo {
	return &metadataRepo{db: db}
}

// Upsert creates or updates the metadata row for a recording. Pipeline steps
// each contribute their artifact paths, so only non-empty fields overwrite.
func (r *metadataRepo) Upsert(ctx context.Context, metadata *models.StreamMetadata) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StreamMetadata
		err := tx.Where("recording_id = ?", metadata.RecordingID).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := tx.Create(metadata).Error; err != nil {
				return fmt.Errorf("creating stream metadata: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting stream metadata: %w", err)
		}

		merge(&existing.JSONPath, metadata.JSONPath)
		merge(&existing.NFOPath, metadata.NFOPath)
		merge(&existing.TVShowNFOPath, metadata.TVShowNFOPath)
		merge(&existing.ChaptersVTTPath, metadata.ChaptersVTTPath)
		merge(&existing.ChaptersSRTPath, metadata.ChaptersSRTPath)
		merge(&existing.ChaptersFFPath, metadata.ChaptersFFPath)
		merge(&existing.ChaptersXMLPath, metadata.ChaptersXMLPath)
		merge(&existing.ThumbnailPath, metadata.ThumbnailPath)
		if metadata.MetadataEmbedded {
			existing.MetadataEmbedded = true
		}

		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("updating stream metadata: %w", err)
		}
		*metadata = existing
		return nil
	})
}

func merge(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// GetByRecording retrieves the metadata row for a recording.
func (r *metadataRepo) GetByRecording(ctx context.Context, recordingID models.ULID) (*models.StreamMetadata, error) {
	var metadata models.StreamMetadata
	if err := r.db.WithContext(ctx).Where("recording_id = ?", recordingID).First(&metadata).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream metadata: %w", err)
	}
	return &metadata, nil
}

// Ensure metadataRepo implements MetadataRepository at compile time.
var _ MetadataRepository = (*metadataRepo)(nil)
