package repository

import (
	"context"
	"testing"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepo_GetGlobal(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	settings, err := repo.GetGlobal(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, models.SettingsScopeGlobal, settings.Scope)

	// Idempotent: a second call finds the same row.
	again, err := repo.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&models.Settings{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSettingsRepo_Update(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	settings, err := repo.GetGlobal(ctx)
	require.NoError(t, err)

	settings.Quality = "720p60"
	settings.LayoutPreset = "plex"
	require.NoError(t, settings.SetCodecs([]string{"h264", "h265"}))
	require.NoError(t, repo.Update(ctx, settings))

	found, err := repo.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "720p60", found.Quality)
	assert.Equal(t, "plex", found.LayoutPreset)

	codecs, err := found.Codecs()
	require.NoError(t, err)
	assert.Equal(t, []string{"h264", "h265"}, codecs)
}
