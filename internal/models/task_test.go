package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_TableName(t *testing.T) {
	task := Task{}
	assert.Equal(t, "tasks", task.TableName())
}

func TestTaskHistory_TableName(t *testing.T) {
	history := TaskHistory{}
	assert.Equal(t, "task_history", history.TableName())
}

func TestTask_StatusChecks(t *testing.T) {
	tests := []struct {
		name       string
		status     TaskStatus
		isPending  bool
		isRunning  bool
		isTerminal bool
	}{
		{
			name:       "queued status",
			status:     TaskStatusQueued,
			isPending:  true,
			isRunning:  false,
			isTerminal: false,
		},
		{
			name:       "running status",
			status:     TaskStatusRunning,
			isPending:  false,
			isRunning:  true,
			isTerminal: false,
		},
		{
			name:       "succeeded status",
			status:     TaskStatusSucceeded,
			isPending:  false,
			isRunning:  false,
			isTerminal: true,
		},
		{
			name:       "failed status",
			status:     TaskStatusFailed,
			isPending:  false,
			isRunning:  false,
			isTerminal: true,
		},
		{
			name:       "cancelled status",
			status:     TaskStatusCancelled,
			isPending:  false,
			isRunning:  false,
			isTerminal: true,
		},
		{
			name:       "skipped status",
			status:     TaskStatusSkipped,
			isPending:  false,
			isRunning:  false,
			isTerminal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Status: tt.status}
			assert.Equal(t, tt.isPending, task.IsPending(), "IsPending")
			assert.Equal(t, tt.isRunning, task.IsRunning(), "IsRunning")
			assert.Equal(t, tt.isTerminal, task.IsTerminal(), "IsTerminal")
		})
	}
}

func TestTask_Dependencies(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ids := []ULID{NewULID(), NewULID()}
		task := &Task{}
		require.NoError(t, task.SetDependencies(ids))
		require.NotEmpty(t, task.DependsOn)

		got, err := task.Dependencies()
		require.NoError(t, err)
		assert.Equal(t, ids, got)
	})

	t.Run("empty", func(t *testing.T) {
		task := &Task{}
		got, err := task.Dependencies()
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("clearing", func(t *testing.T) {
		task := &Task{DependsOn: `["01ARZ3NDEKTSV4RRFFQ69G5FAV"]`}
		require.NoError(t, task.SetDependencies(nil))
		assert.Empty(t, task.DependsOn)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		task := &Task{DependsOn: "not json"}
		_, err := task.Dependencies()
		assert.Error(t, err)
	})
}

func TestTask_Payload(t *testing.T) {
	type remuxPayload struct {
		SourcePath string `json:"source_path"`
		OutputPath string `json:"output_path"`
	}

	task := &Task{Kind: TaskKindMp4Remux}
	require.NoError(t, task.SetPayload(remuxPayload{
		SourcePath: "/recordings/alice/ep.ts",
		OutputPath: "/recordings/alice/ep.mp4",
	}))

	var got remuxPayload
	require.NoError(t, task.UnmarshalPayload(&got))
	assert.Equal(t, "/recordings/alice/ep.ts", got.SourcePath)
	assert.Equal(t, "/recordings/alice/ep.mp4", got.OutputPath)
}

func TestTask_CanRetry(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		maxAttempts  int
		want         bool
	}{
		{
			name:         "attempts remaining",
			attemptCount: 1,
			maxAttempts:  3,
			want:         true,
		},
		{
			name:         "no attempts remaining",
			attemptCount: 3,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "single attempt only",
			attemptCount: 1,
			maxAttempts:  0,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{
				AttemptCount: tt.attemptCount,
				MaxAttempts:  tt.maxAttempts,
			}
			assert.Equal(t, tt.want, task.CanRetry())
		})
	}
}

func TestTask_MarkRunning(t *testing.T) {
	task := &Task{
		Status:       TaskStatusQueued,
		AttemptCount: 0,
		LastError:    "previous error",
	}

	task.MarkRunning("worker-1")

	assert.Equal(t, TaskStatusRunning, task.Status)
	assert.Equal(t, 1, task.AttemptCount)
	assert.Equal(t, "worker-1", task.LockedBy)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.LockedAt)
	assert.Empty(t, task.LastError)
}

func TestTask_MarkSucceeded(t *testing.T) {
	startTime := Now()
	task := &Task{
		Status:    TaskStatusRunning,
		StartedAt: &startTime,
		LockedBy:  "worker-1",
		Progress:  0.5,
	}

	time.Sleep(time.Millisecond)
	task.MarkSucceeded(`{"output":"/recordings/alice/ep.mp4"}`)

	assert.Equal(t, TaskStatusSucceeded, task.Status)
	assert.NotNil(t, task.FinishedAt)
	assert.Equal(t, `{"output":"/recordings/alice/ep.mp4"}`, task.Result)
	assert.Equal(t, float64(1), task.Progress)
	assert.Empty(t, task.LockedBy)
	assert.Nil(t, task.LockedAt)
	assert.GreaterOrEqual(t, task.DurationMs, int64(0))
}

func TestTask_MarkFailed(t *testing.T) {
	startTime := Now()
	task := &Task{
		Status:    TaskStatusRunning,
		StartedAt: &startTime,
		LockedBy:  "worker-1",
	}

	task.MarkFailed(errors.New("remux exited with code 1"))

	assert.Equal(t, TaskStatusFailed, task.Status)
	assert.NotNil(t, task.FinishedAt)
	assert.Equal(t, "remux exited with code 1", task.LastError)
	assert.Empty(t, task.LockedBy)
	assert.Nil(t, task.LockedAt)
}

func TestTask_MarkSkipped(t *testing.T) {
	task := &Task{Status: TaskStatusQueued}

	task.MarkSkipped("dependency failed")

	assert.Equal(t, TaskStatusSkipped, task.Status)
	assert.Equal(t, "dependency failed", task.LastError)
	assert.NotNil(t, task.FinishedAt)
}

func TestTask_MarkCancelled(t *testing.T) {
	task := &Task{
		Status:   TaskStatusRunning,
		LockedBy: "worker-1",
	}

	task.MarkCancelled()

	assert.Equal(t, TaskStatusCancelled, task.Status)
	assert.NotNil(t, task.FinishedAt)
	assert.Empty(t, task.LockedBy)
	assert.Nil(t, task.LockedAt)
}

func TestTask_NextBackoff(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		wantMin      time.Duration
		wantMax      time.Duration
	}{
		{
			name:         "first retry around 30s",
			attemptCount: 1,
			wantMin:      24 * time.Second,
			wantMax:      36 * time.Second,
		},
		{
			name:         "second retry doubles",
			attemptCount: 2,
			wantMin:      48 * time.Second,
			wantMax:      72 * time.Second,
		},
		{
			name:         "third retry quadruples",
			attemptCount: 3,
			wantMin:      96 * time.Second,
			wantMax:      144 * time.Second,
		},
		{
			name:         "capped at ten minutes plus jitter",
			attemptCount: 20,
			wantMin:      8 * time.Minute,
			wantMax:      12 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{AttemptCount: tt.attemptCount}
			backoff := task.NextBackoff()
			assert.GreaterOrEqual(t, backoff, tt.wantMin)
			assert.LessOrEqual(t, backoff, tt.wantMax)
		})
	}
}

func TestTask_ScheduleRetry(t *testing.T) {
	task := &Task{
		Status:       TaskStatusRunning,
		AttemptCount: 1,
		MaxAttempts:  3,
		LockedBy:     "worker-1",
	}

	task.ScheduleRetry(errors.New("transient"))

	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, "transient", task.LastError)
	require.NotNil(t, task.NextRunAt)
	assert.True(t, task.NextRunAt.After(Now().Add(20*time.Second)))
	assert.Empty(t, task.LockedBy)
	assert.Nil(t, task.LockedAt)
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    *Task
		wantErr error
	}{
		{
			name:    "valid task",
			task:    &Task{Kind: TaskKindMp4Remux},
			wantErr: nil,
		},
		{
			name:    "missing kind",
			task:    &Task{},
			wantErr: ErrTaskKindRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTaskHistory(t *testing.T) {
	startTime := Now()
	task := &Task{
		Kind:         TaskKindMp4Validation,
		RecordingID:  NewULID(),
		Status:       TaskStatusFailed,
		StartedAt:    &startTime,
		AttemptCount: 2,
		LastError:    "size ratio 0.37 below minimum",
	}
	task.ID = NewULID()

	history := NewTaskHistory(task)

	assert.Equal(t, task.ID, history.TaskID)
	assert.Equal(t, TaskKindMp4Validation, history.Kind)
	assert.Equal(t, task.RecordingID, history.RecordingID)
	assert.Equal(t, TaskStatusFailed, history.Status)
	assert.Equal(t, 2, history.AttemptNumber)
	assert.Equal(t, "size ratio 0.37 below minimum", history.Error)
}

func TestTask_Lifecycle(t *testing.T) {
	task := &Task{
		Kind:        TaskKindMp4Remux,
		RecordingID: NewULID(),
		Status:      TaskStatusQueued,
		MaxAttempts: 3,
	}

	require.True(t, task.IsPending())
	task.MarkRunning("worker-1")
	require.True(t, task.IsRunning())
	require.Equal(t, 1, task.AttemptCount)

	// First attempt fails; still retryable.
	require.True(t, task.CanRetry())
	task.ScheduleRetry(errors.New("ffmpeg crashed"))
	require.Equal(t, TaskStatusQueued, task.Status)
	require.NotNil(t, task.NextRunAt)

	// Second attempt succeeds.
	task.MarkRunning("worker-2")
	require.Equal(t, 2, task.AttemptCount)
	task.MarkSucceeded("remuxed")
	require.True(t, task.IsTerminal())
	require.Equal(t, "remuxed", task.Result)
}
