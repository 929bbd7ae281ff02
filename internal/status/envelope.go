// Package status fans recording and queue state out to WebSocket clients.
package status

import "time"

// Envelope is the wire shape of every broadcast message.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcast envelope types.
const (
	TypeConnectionStatus       = "connection.status"
	TypeRecordingStarted       = "recording_started"
	TypeRecordingStopped       = "recording_stopped"
	TypeRecordingAvailable     = "recording_available"
	TypeProcessingStatus       = "recording_processing_status"
	TypeActiveRecordingsUpdate = "active_recordings_update"
	TypeQueueStatsUpdate       = "queue_stats_update"
	TypeTaskProgressUpdate     = "task_progress_update"
	TypeToast                  = "toast"
)

// Toast is the payload of a user-visible failure notification.
type Toast struct {
	Level       string `json:"level"`
	Message     string `json:"message"`
	StreamerID  string `json:"streamer_id,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
}
