package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/testutil"
)

func newQueueService(t *testing.T) (*QueueService, repository.TaskRepository) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	tasks := repository.NewTaskRepository(db)
	return NewQueueService(tasks), tasks
}

func seedTask(t *testing.T, tasks repository.TaskRepository, kind models.TaskKind, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{Kind: kind, Status: status, MaxAttempts: 3}
	require.NoError(t, tasks.Create(context.Background(), task))
	return task
}

func TestQueueStatsAndFilteredList(t *testing.T) {
	svc, tasks := newQueueService(t)
	ctx := context.Background()

	seedTask(t, tasks, models.TaskKindMp4Remux, models.TaskStatusQueued)
	seedTask(t, tasks, models.TaskKindThumbnail, models.TaskStatusQueued)
	failed := seedTask(t, tasks, models.TaskKindMp4Remux, models.TaskStatusFailed)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Queued)
	assert.Equal(t, int64(1), stats.Failed)

	kind := models.TaskKindMp4Remux
	status := models.TaskStatusFailed
	listed, err := svc.List(ctx, &status, &kind, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, failed.ID, listed[0].ID)
}

func TestCancelOnlyQueuedTasks(t *testing.T) {
	svc, tasks := newQueueService(t)
	ctx := context.Background()

	queued := seedTask(t, tasks, models.TaskKindCleanup, models.TaskStatusQueued)
	running := seedTask(t, tasks, models.TaskKindCleanup, models.TaskStatusRunning)

	cancelled, err := svc.Cancel(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, running.ID)
	require.Error(t, err)
	assert.Equal(t, recerr.KindNotFound, recerr.KindOf(err))
}

func TestRetryResetsAttemptBudget(t *testing.T) {
	svc, tasks := newQueueService(t)
	ctx := context.Background()

	failed := seedTask(t, tasks, models.TaskKindMp4Remux, models.TaskStatusFailed)
	failed.AttemptCount = 3
	failed.LastError = "remux exploded"
	require.NoError(t, tasks.Update(ctx, failed))

	retried, err := svc.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, retried.Status)
	assert.Zero(t, retried.AttemptCount)
	assert.Empty(t, retried.LastError)

	succeeded := seedTask(t, tasks, models.TaskKindMp4Remux, models.TaskStatusSucceeded)
	_, err = svc.Retry(ctx, succeeded.ID)
	require.Error(t, err)

	var rerr *recerr.Error
	assert.True(t, errors.As(err, &rerr))
}
