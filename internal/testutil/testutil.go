// Package testutil provides shared test fixtures: an in-memory database
// with the full schema and helpers that insert representative rows.
package testutil

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/models"
)

// SetupTestDB creates an in-memory SQLite database with all vodarr tables.
func SetupTestDB(t *testing.T) *gorm.DB {
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

// CreateStreamer inserts a streamer with a unique login.
func CreateStreamer(t *testing.T, db *gorm.DB, login string) *models.Streamer {
	t.Helper()

	streamer := &models.Streamer{
		TwitchID:    login + "-id",
		Login:       login,
		DisplayName: login,
	}
	require.NoError(t, db.Create(streamer).Error)
	return streamer
}

// CreateLiveStream inserts an open live session for the streamer.
func CreateLiveStream(t *testing.T, db *gorm.DB, streamerID models.ULID, startedAt time.Time) *models.Stream {
	t.Helper()

	stream := &models.Stream{
		StreamerID:     streamerID,
		TwitchStreamID: "41375541868",
		StartedAt:      startedAt,
		Title:          "test stream",
		Category:       "Just Chatting",
		Language:       "en",
	}
	require.NoError(t, db.Create(stream).Error)
	return stream
}

// CreateRecording inserts an in-progress recording for the stream.
func CreateRecording(t *testing.T, db *gorm.DB, streamID models.ULID, path string) *models.Recording {
	t.Helper()

	if path == "" {
		path = "/recordings/test/" + models.NewULID().String() + ".ts"
	}
	recording := &models.Recording{
		StreamID:  streamID,
		Status:    models.RecordingStatusRecording,
		StartTime: models.Now(),
		Path:      path,
	}
	require.NoError(t, db.Create(recording).Error)
	return recording
}

// CreateEvent appends a stream event.
func CreateEvent(t *testing.T, db *gorm.DB, streamID models.ULID, typ models.StreamEventType, at time.Time, title, category string) *models.StreamEvent {
	t.Helper()

	event := &models.StreamEvent{
		StreamID:  streamID,
		Type:      typ,
		Timestamp: at,
		Title:     title,
		Category:  category,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}
