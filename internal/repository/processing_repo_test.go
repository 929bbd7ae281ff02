package repository

import (
	"context"
	"testing"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingRepo_GetOrCreate(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProcessingRepository(db)
	ctx := context.Background()

	recordingID := models.NewULID()

	state, err := repo.GetOrCreate(ctx, recordingID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, recordingID, state.RecordingID)

	for _, step := range models.AllSteps() {
		status, err := state.StepStatus(step)
		require.NoError(t, err)
		assert.Equal(t, models.StepPending, status, "step %s", step)
	}

	// Second call returns the same row.
	again, err := repo.GetOrCreate(ctx, recordingID)
	require.NoError(t, err)
	assert.Equal(t, state.ID, again.ID)
}

func TestProcessingRepo_GetByRecording(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProcessingRepository(db)
	ctx := context.Background()

	missing, err := repo.GetByRecording(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)

	recordingID := models.NewULID()
	_, err = repo.GetOrCreate(ctx, recordingID)
	require.NoError(t, err)

	found, err := repo.GetByRecording(ctx, recordingID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, recordingID, found.RecordingID)
}

func TestProcessingRepo_SetStep(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProcessingRepository(db)
	ctx := context.Background()

	recordingID := models.NewULID()

	t.Run("creates state on first transition", func(t *testing.T) {
		state, err := repo.SetStep(ctx, recordingID, models.StepMp4Remux, models.StepRunning, "")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, models.StepRunning, state.Mp4Remux)
	})

	t.Run("blocks step with incomplete predecessors", func(t *testing.T) {
		_, err := repo.SetStep(ctx, recordingID, models.StepThumbnail, models.StepRunning, "")
		assert.ErrorIs(t, err, models.ErrStepPredecessorsIncomplete)
	})

	t.Run("walks the chain", func(t *testing.T) {
		_, err := repo.SetStep(ctx, recordingID, models.StepMp4Remux, models.StepCompleted, "")
		require.NoError(t, err)

		state, err := repo.SetStep(ctx, recordingID, models.StepMp4Validation, models.StepRunning, "")
		require.NoError(t, err)
		assert.Equal(t, models.StepRunning, state.Mp4Validation)
		assert.Equal(t, models.StepCompleted, state.Mp4Remux)
	})

	t.Run("records step error", func(t *testing.T) {
		state, err := repo.SetStep(ctx, recordingID, models.StepMp4Validation, models.StepFailed, "duration mismatch: got 0.42 of expected")
		require.NoError(t, err)
		assert.Equal(t, models.StepFailed, state.Mp4Validation)
		assert.Contains(t, state.LastError, "duration mismatch")

		// Empty lastError on a later transition keeps the stored one.
		state, err = repo.SetStep(ctx, recordingID, models.StepMp4Validation, models.StepPending, "")
		require.NoError(t, err)
		assert.Contains(t, state.LastError, "duration mismatch")
	})

	t.Run("skipped predecessor unblocks successor", func(t *testing.T) {
		other := models.NewULID()
		_, err := repo.SetStep(ctx, other, models.StepMp4Remux, models.StepSkipped, "")
		require.NoError(t, err)

		state, err := repo.SetStep(ctx, other, models.StepMp4Validation, models.StepRunning, "")
		require.NoError(t, err)
		assert.Equal(t, models.StepRunning, state.Mp4Validation)
	})

	t.Run("persists across loads", func(t *testing.T) {
		found, err := repo.GetByRecording(ctx, recordingID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, models.StepCompleted, found.Mp4Remux)
	})
}
