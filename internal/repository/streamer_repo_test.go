package repository

import (
	"context"
	"testing"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamerRepo_CreateAndGet(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	streamer := &models.Streamer{
		TwitchID:    "71092938",
		Login:       "xqc",
		DisplayName: "xQc",
	}
	require.NoError(t, repo.Create(ctx, streamer))
	assert.False(t, streamer.ID.IsZero())

	t.Run("by id", func(t *testing.T) {
		found, err := repo.GetByID(ctx, streamer.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "xqc", found.Login)
	})

	t.Run("by twitch id", func(t *testing.T) {
		found, err := repo.GetByTwitchID(ctx, "71092938")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, streamer.ID, found.ID)
	})

	t.Run("by login is case insensitive", func(t *testing.T) {
		found, err := repo.GetByLogin(ctx, "xQc")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, streamer.ID, found.ID)
	})

	t.Run("unknown returns nil", func(t *testing.T) {
		found, err := repo.GetByID(ctx, models.NewULID())
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("duplicate twitch id rejected", func(t *testing.T) {
		dup := &models.Streamer{TwitchID: "71092938", Login: "xqc_restream"}
		err := repo.Create(ctx, dup)
		assert.Error(t, err)
	})
}

func TestStreamerRepo_GetEnabled(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	unset := createTestStreamer(t, db, "alice")

	explicit := &models.Streamer{TwitchID: "2", Login: "bob", Enabled: models.BoolPtr(true)}
	require.NoError(t, repo.Create(ctx, explicit))

	disabled := &models.Streamer{TwitchID: "3", Login: "carol", Enabled: models.BoolPtr(false)}
	require.NoError(t, repo.Create(ctx, disabled))

	enabled, err := repo.GetEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)

	logins := []string{enabled[0].Login, enabled[1].Login}
	assert.Contains(t, logins, unset.Login)
	assert.Contains(t, logins, "bob")
	assert.NotContains(t, logins, "carol")
}

func TestStreamerRepo_UpdateLiveState(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "lirik")
	streamer.LastTitle = "Variety Friday"
	require.NoError(t, repo.Update(ctx, streamer))

	require.NoError(t, repo.UpdateLiveState(ctx, streamer.ID, true))

	found, err := repo.GetByID(ctx, streamer.ID)
	require.NoError(t, err)
	assert.True(t, found.IsLive)
	assert.Equal(t, "Variety Friday", found.LastTitle)

	require.NoError(t, repo.UpdateLiveState(ctx, streamer.ID, false))
	found, err = repo.GetByID(ctx, streamer.ID)
	require.NoError(t, err)
	assert.False(t, found.IsLive)
}

func TestStreamerRepo_UpdateChannelInfo(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "forsen")

	err := repo.UpdateChannelInfo(ctx, streamer.ID, "Snake tournament", "Just Chatting", "509658", "en")
	require.NoError(t, err)

	found, err := repo.GetByID(ctx, streamer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Snake tournament", found.LastTitle)
	assert.Equal(t, "Just Chatting", found.LastCategory)
	assert.Equal(t, "509658", found.LastCategoryID)
	assert.Equal(t, "en", found.LastLanguage)
}

func TestStreamerRepo_GetAll(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	createTestStreamer(t, db, "zoil")
	createTestStreamer(t, db, "admiralbahroo")

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by login.
	assert.Equal(t, "admiralbahroo", all[0].Login)
	assert.Equal(t, "zoil", all[1].Login)
}

func TestStreamerRepo_Delete(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewStreamerRepository(db)
	ctx := context.Background()

	streamer := createTestStreamer(t, db, "sodapoppin")
	require.NoError(t, repo.Delete(ctx, streamer.ID))

	found, err := repo.GetByID(ctx, streamer.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	// Hard delete: the login is free for re-registration.
	var count int64
	require.NoError(t, db.Unscoped().Model(&models.Streamer{}).Where("login = ?", "sodapoppin").Count(&count).Error)
	assert.Zero(t, count)

	again := &models.Streamer{TwitchID: "26301881", Login: "sodapoppin"}
	require.NoError(t, repo.Create(ctx, again))
}
