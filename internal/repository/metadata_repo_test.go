package repository

import (
	"context"
	"testing"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRepo_Upsert(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewMetadataRepository(db)
	ctx := context.Background()

	recordingID := models.NewULID()

	t.Run("creates row", func(t *testing.T) {
		metadata := &models.StreamMetadata{
			RecordingID: recordingID,
			JSONPath:    "/media/xqc/Season 2025-01/ep1.json",
		}
		require.NoError(t, repo.Upsert(ctx, metadata))
		assert.False(t, metadata.ID.IsZero())
	})

	t.Run("merges later artifacts", func(t *testing.T) {
		metadata := &models.StreamMetadata{
			RecordingID:     recordingID,
			ChaptersVTTPath: "/media/xqc/Season 2025-01/ep1.chapters.vtt",
		}
		require.NoError(t, repo.Upsert(ctx, metadata))

		// Earlier fields survive the partial update.
		assert.Equal(t, "/media/xqc/Season 2025-01/ep1.json", metadata.JSONPath)
		assert.True(t, metadata.HasChapters())

		found, err := repo.GetByRecording(ctx, recordingID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "/media/xqc/Season 2025-01/ep1.json", found.JSONPath)
		assert.Equal(t, "/media/xqc/Season 2025-01/ep1.chapters.vtt", found.ChaptersVTTPath)
	})

	t.Run("embedded flag is sticky", func(t *testing.T) {
		embedded := &models.StreamMetadata{RecordingID: recordingID, MetadataEmbedded: true}
		require.NoError(t, repo.Upsert(ctx, embedded))

		later := &models.StreamMetadata{
			RecordingID:   recordingID,
			ThumbnailPath: "/media/xqc/Season 2025-01/ep1-thumb.jpg",
		}
		require.NoError(t, repo.Upsert(ctx, later))
		assert.True(t, later.MetadataEmbedded)
	})

	t.Run("single row per recording", func(t *testing.T) {
		var count int64
		require.NoError(t, db.Model(&models.StreamMetadata{}).
			Where("recording_id = ?", recordingID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestMetadataRepo_GetByRecording_Missing(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewMetadataRepository(db)

	found, err := repo.GetByRecording(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, found)
}
