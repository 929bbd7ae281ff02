package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording_TableName(t *testing.T) {
	recording := Recording{}
	assert.Equal(t, "recordings", recording.TableName())
}

func TestRecording_StatusChecks(t *testing.T) {
	tests := []struct {
		name       string
		status     RecordingStatus
		isActive   bool
		isTerminal bool
	}{
		{
			name:       "recording",
			status:     RecordingStatusRecording,
			isActive:   true,
			isTerminal: false,
		},
		{
			name:       "completed",
			status:     RecordingStatusCompleted,
			isActive:   false,
			isTerminal: true,
		},
		{
			name:       "failed",
			status:     RecordingStatusFailed,
			isActive:   false,
			isTerminal: true,
		},
		{
			name:       "cancelled",
			status:     RecordingStatusCancelled,
			isActive:   false,
			isTerminal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recording := &Recording{Status: tt.status}
			assert.Equal(t, tt.isActive, recording.IsActive(), "IsActive")
			assert.Equal(t, tt.isTerminal, recording.IsTerminal(), "IsTerminal")
		})
	}
}

func TestRecording_MarkCompleted(t *testing.T) {
	start := Time(time.Date(2025, time.January, 15, 20, 0, 0, 0, time.UTC))
	recording := &Recording{
		Status:    RecordingStatusRecording,
		StartTime: start,
	}

	end := start.Add(3*time.Hour + 30*time.Minute)
	recording.MarkCompleted(end)

	assert.Equal(t, RecordingStatusCompleted, recording.Status)
	require.NotNil(t, recording.EndTime)
	assert.Equal(t, end, *recording.EndTime)
	assert.Equal(t, (3*time.Hour + 30*time.Minute).Milliseconds(), recording.DurationMs)
}

func TestRecording_MarkFailed(t *testing.T) {
	recording := &Recording{
		Status:    RecordingStatusRecording,
		StartTime: Now(),
	}

	recording.MarkFailed(Now(), "interrupted by restart")

	assert.Equal(t, RecordingStatusFailed, recording.Status)
	assert.NotNil(t, recording.EndTime)
	assert.Equal(t, "interrupted by restart", recording.LastError)
}

func TestRecording_MarkCancelled(t *testing.T) {
	recording := &Recording{
		Status:    RecordingStatusRecording,
		StartTime: Now(),
	}

	recording.MarkCancelled(Now())

	assert.Equal(t, RecordingStatusCancelled, recording.Status)
	assert.NotNil(t, recording.EndTime)
}

func TestRecording_Validate(t *testing.T) {
	tests := []struct {
		name      string
		recording *Recording
		wantErr   error
	}{
		{
			name: "valid recording",
			recording: &Recording{
				StreamID:  NewULID(),
				Status:    RecordingStatusRecording,
				StartTime: Now(),
				Path:      "/recordings/alice/ep.ts",
			},
			wantErr: nil,
		},
		{
			name: "missing stream id",
			recording: &Recording{
				Status:    RecordingStatusRecording,
				StartTime: Now(),
				Path:      "/recordings/alice/ep.ts",
			},
			wantErr: ErrStreamIDRequired,
		},
		{
			name: "missing path",
			recording: &Recording{
				StreamID:  NewULID(),
				Status:    RecordingStatusRecording,
				StartTime: Now(),
			},
			wantErr: ErrPathRequired,
		},
		{
			name: "invalid status",
			recording: &Recording{
				StreamID:  NewULID(),
				Status:    RecordingStatus("paused"),
				StartTime: Now(),
				Path:      "/recordings/alice/ep.ts",
			},
			wantErr: ErrInvalidRecordingStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recording.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
