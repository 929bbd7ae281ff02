package models

import "gorm.io/gorm"

// RecordingStatus represents the lifecycle state of a capture attempt.
type RecordingStatus string

const (
	// RecordingStatusRecording indicates capture is in progress.
	RecordingStatusRecording RecordingStatus = "recording"
	// RecordingStatusCompleted indicates capture finished and the file is
	// eligible for post-processing.
	RecordingStatusCompleted RecordingStatus = "completed"
	// RecordingStatusFailed indicates capture failed or produced no usable file.
	RecordingStatusFailed RecordingStatus = "failed"
	// RecordingStatusCancelled indicates capture was cancelled by an operator.
	RecordingStatusCancelled RecordingStatus = "cancelled"
)

// Recording represents one attempt to capture a Stream to disk.
type Recording struct {
	BaseModel

	// StreamID references the owning stream.
	StreamID ULID `gorm:"not null;index;type:varchar(26)" json:"stream_id"`

	// Status is the capture lifecycle state. At most one recording per
	// stream is in "recording" state.
	Status RecordingStatus `gorm:"not null;default:'recording';size:20;index" json:"status"`

	// StartTime is when capture began (UTC).
	StartTime Time `gorm:"not null" json:"start_time"`

	// EndTime is when capture ended; nil while recording.
	EndTime *Time `json:"end_time,omitempty"`

	// Path is the TS capture file path.
	Path string `gorm:"not null;size:2048" json:"path"`

	// Bytes is the captured file size as last observed.
	Bytes int64 `gorm:"default:0" json:"bytes"`

	// DurationMs is the capture duration in milliseconds, when known.
	DurationMs int64 `gorm:"default:0" json:"duration_ms"`

	// UsedProxy records whether an ad-free proxy carried the capture; the
	// validation step selects its thresholds from this.
	UsedProxy bool `gorm:"default:false" json:"used_proxy"`

	// Forced records an operator-initiated session (elevated retry settings).
	Forced bool `gorm:"default:false" json:"forced"`

	// ExitCode is the capture child's exit code, when it has exited.
	ExitCode *int `json:"exit_code,omitempty"`

	// LastError holds the most recent capture error, if any.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// IsActive reports whether the capture is still running.
func (r *Recording) IsActive() bool {
	return r.Status == RecordingStatusRecording
}

// IsTerminal reports whether the recording reached a final state.
func (r *Recording) IsTerminal() bool {
	switch r.Status {
	case RecordingStatusCompleted, RecordingStatusFailed, RecordingStatusCancelled:
		return true
	default:
		return false
	}
}

// MarkCompleted transitions the recording to completed at the given time.
func (r *Recording) MarkCompleted(at Time) {
	r.Status = RecordingStatusCompleted
	r.EndTime = &at
	if at.After(r.StartTime) {
		r.DurationMs = at.Sub(r.StartTime).Milliseconds()
	}
}

// MarkFailed transitions the recording to failed with an error message.
func (r *Recording) MarkFailed(at Time, reason string) {
	r.Status = RecordingStatusFailed
	r.EndTime = &at
	r.LastError = reason
}

// MarkCancelled transitions the recording to cancelled.
func (r *Recording) MarkCancelled(at Time) {
	r.Status = RecordingStatusCancelled
	r.EndTime = &at
}

// Validate performs basic validation on the recording.
func (r *Recording) Validate() error {
	if r.StreamID.IsZero() {
		return ErrStreamIDRequired
	}
	if r.Path == "" {
		return ErrPathRequired
	}
	if r.StartTime.IsZero() {
		return ErrStartTimeRequired
	}
	switch r.Status {
	case RecordingStatusRecording, RecordingStatusCompleted,
		RecordingStatusFailed, RecordingStatusCancelled:
	default:
		return ErrInvalidRecordingStatus
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the recording and generates a ULID.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}
