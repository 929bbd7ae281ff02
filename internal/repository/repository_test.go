package repository

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupRepoTestDB creates an in-memory SQLite database with the full schema.
func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Streamer{},
		&models.Stream{},
		&models.StreamEvent{},
		&models.Recording{},
		&models.ProcessingState{},
		&models.StreamMetadata{},
		&models.Task{},
		&models.TaskHistory{},
		&models.Settings{},
	)
	require.NoError(t, err)

	return db
}

// createTestStreamer inserts a streamer with a unique login.
func createTestStreamer(t *testing.T, db *gorm.DB, login string) *models.Streamer {
	t.Helper()

	streamer := &models.Streamer{
		TwitchID:    login + "-id",
		Login:       login,
		DisplayName: login,
	}
	require.NoError(t, db.Create(streamer).Error)
	return streamer
}

// createTestStream inserts a live stream for the streamer.
func createTestStream(t *testing.T, db *gorm.DB, streamerID models.ULID, startedAt time.Time) *models.Stream {
	t.Helper()

	stream := &models.Stream{
		StreamerID:     streamerID,
		TwitchStreamID: "41375541868",
		StartedAt:      startedAt,
		Title:          "test stream",
		Category:       "Just Chatting",
	}
	require.NoError(t, db.Create(stream).Error)
	return stream
}

// createTestRecording inserts an in-progress recording for the stream.
func createTestRecording(t *testing.T, db *gorm.DB, streamID models.ULID) *models.Recording {
	t.Helper()

	recording := &models.Recording{
		StreamID:  streamID,
		Status:    models.RecordingStatusRecording,
		StartTime: models.Now(),
		Path:      "/recordings/test/" + models.NewULID().String() + ".ts",
	}
	require.NoError(t, db.Create(recording).Error)
	return recording
}
