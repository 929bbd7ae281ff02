package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRepo_FindOrCreateLive(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")

	t.Run("creates when no open stream", func(t *testing.T) {
		stream, created, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID:     streamer.ID,
			TwitchStreamID: "41375541868",
			StartedAt:      models.Now(),
			Title:          "speedrun",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.False(t, stream.ID.IsZero())
	})

	t.Run("reuses the open stream", func(t *testing.T) {
		stream, created, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID:     streamer.ID,
			TwitchStreamID: "41375541868",
			StartedAt:      models.Now(),
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "speedrun", stream.Title)
	})

	t.Run("backfills missing twitch id", func(t *testing.T) {
		bob := createTestStreamer(t, db, "bob")

		// Forced session created before the online event arrived.
		first, created, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID: bob.ID,
			StartedAt:  models.Now(),
		})
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID:     bob.ID,
			TwitchStreamID: "9999",
			StartedAt:      models.Now(),
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "9999", second.TwitchStreamID)
	})

	t.Run("new session after previous ended", func(t *testing.T) {
		carol := createTestStreamer(t, db, "carol")

		first, _, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID:     carol.ID,
			TwitchStreamID: "111",
			StartedAt:      models.Now(),
		})
		require.NoError(t, err)

		_, err = repo.End(ctx, first.ID, models.Now())
		require.NoError(t, err)

		second, created, err := repo.FindOrCreateLive(ctx, &models.Stream{
			StreamerID:     carol.ID,
			TwitchStreamID: "222",
			StartedAt:      models.Now(),
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, second.ID)
	})
}

func TestStreamRepo_End(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")
	started := time.Date(2025, time.January, 15, 20, 0, 0, 0, time.UTC)
	stream := createTestStream(t, db, streamer.ID, started)

	firstEnd := started.Add(3 * time.Hour)
	ended, err := repo.End(ctx, stream.ID, firstEnd)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(firstEnd))

	// A later offline event must not move the end time.
	again, err := repo.End(ctx, stream.ID, firstEnd.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.EndedAt.Equal(firstEnd))

	t.Run("unknown stream", func(t *testing.T) {
		result, err := repo.End(ctx, models.NewULID(), models.Now())
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestStreamRepo_NextEpisodeNumber(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")

	t.Run("first of the month", func(t *testing.T) {
		n, err := repo.NextEpisodeNumber(ctx, streamer.ID, 2025, time.January)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("increments past assigned numbers", func(t *testing.T) {
		jan := time.Date(2025, time.January, 10, 18, 0, 0, 0, time.UTC)
		stream := createTestStream(t, db, streamer.ID, jan)
		stream.Episode = 3
		require.NoError(t, repo.Update(ctx, stream))

		n, err := repo.NextEpisodeNumber(ctx, streamer.ID, 2025, time.January)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("resets for a new month", func(t *testing.T) {
		n, err := repo.NextEpisodeNumber(ctx, streamer.ID, 2025, time.February)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("per streamer", func(t *testing.T) {
		bob := createTestStreamer(t, db, "bob")
		n, err := repo.NextEpisodeNumber(ctx, bob.ID, 2025, time.January)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStreamRepo_RecentByStreamer(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")
	base := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		createTestStream(t, db, streamer.ID, base.AddDate(0, 0, i))
	}

	streams, err := repo.RecentByStreamer(ctx, streamer.ID, 2)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.True(t, streams[0].StartedAt.After(streams[1].StartedAt))
}

func TestStreamRepo_OldestByStreamer(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")
	base := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		stream := createTestStream(t, db, streamer.ID, base.AddDate(0, 0, i))
		// Only ended streams are candidates for pruning.
		if i < 2 {
			_, err := repo.End(ctx, stream.ID, base.AddDate(0, 0, i).Add(2*time.Hour))
			require.NoError(t, err)
		}
	}

	oldest, err := repo.OldestByStreamer(ctx, streamer.ID, 5)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.True(t, oldest[0].StartedAt.Before(oldest[1].StartedAt))
}

func TestStreamRepo_Delete(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "alice")
	stream := createTestStream(t, db, streamer.ID, models.Now())
	createTestRecording(t, db, stream.ID)

	require.NoError(t, repo.Delete(ctx, stream.ID))

	found, err := repo.GetByID(ctx, stream.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
