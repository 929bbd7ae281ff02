package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingRepo_GetActiveByStream(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "asmongold")
	stream := createTestStream(t, db, streamer.ID, models.Now())

	t.Run("no recording", func(t *testing.T) {
		active, err := repo.GetActiveByStream(ctx, stream.ID)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("skips completed recordings", func(t *testing.T) {
		done := createTestRecording(t, db, stream.ID)
		done.MarkCompleted(models.Now())
		require.NoError(t, repo.Update(ctx, done))

		active, err := repo.GetActiveByStream(ctx, stream.ID)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("returns in-progress recording", func(t *testing.T) {
		recording := createTestRecording(t, db, stream.ID)

		active, err := repo.GetActiveByStream(ctx, stream.ID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, recording.ID, active.ID)
	})
}

func TestRecordingRepo_ListActive(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "cohhcarnage")
	streamA := createTestStream(t, db, streamer.ID, models.Now().Add(-2*time.Hour))
	streamB := createTestStream(t, db, streamer.ID, models.Now())

	first := createTestRecording(t, db, streamA.ID)
	first.MarkFailed(models.Now(), "streamlink exited 1")
	require.NoError(t, repo.Update(ctx, first))

	second := createTestRecording(t, db, streamA.ID)
	third := createTestRecording(t, db, streamB.ID)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := []models.ULID{active[0].ID, active[1].ID}
	assert.Contains(t, ids, second.ID)
	assert.Contains(t, ids, third.ID)

	count, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecordingRepo_ListByStream(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "day9tv")
	stream := createTestStream(t, db, streamer.ID, models.Now())
	other := createTestStream(t, db, streamer.ID, models.Now())

	createTestRecording(t, db, stream.ID)
	createTestRecording(t, db, stream.ID)
	createTestRecording(t, db, other.ID)

	recordings, err := repo.ListByStream(ctx, stream.ID)
	require.NoError(t, err)
	assert.Len(t, recordings, 2)
}

func TestRecordingRepo_UpdateBytes(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "vinesauce")
	stream := createTestStream(t, db, streamer.ID, models.Now())
	recording := createTestRecording(t, db, stream.ID)

	require.NoError(t, repo.UpdateBytes(ctx, recording.ID, 7340032))

	found, err := repo.GetByID(ctx, recording.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(7340032), found.Bytes)
	// Column update leaves the rest of the row alone.
	assert.Equal(t, models.RecordingStatusRecording, found.Status)
}
