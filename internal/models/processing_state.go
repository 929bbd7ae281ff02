package models

import "gorm.io/gorm"

// StepStatus represents the status of one post-processing step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning indicates the step is executing.
	StepRunning StepStatus = "running"
	// StepCompleted indicates the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the step failed terminally.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was skipped because a dependency failed
	// or the work was unnecessary.
	StepSkipped StepStatus = "skipped"
)

// Step identifies one post-processing pipeline step.
type Step string

// Pipeline steps. Execution order follows the DAG:
// mp4_remux → mp4_validation → {metadata, chapters} → thumbnail → cleanup.
const (
	StepMp4Remux      Step = "mp4_remux"
	StepMp4Validation Step = "mp4_validation"
	StepMetadata      Step = "metadata"
	StepChapters      Step = "chapters"
	StepThumbnail     Step = "thumbnail"
	StepCleanup       Step = "cleanup"
)

// AllSteps lists every pipeline step in DAG order.
func AllSteps() []Step {
	return []Step{StepMp4Remux, StepMp4Validation, StepMetadata, StepChapters, StepThumbnail, StepCleanup}
}

// StepPredecessors returns the steps that must be completed or skipped
// before the given step may run.
func StepPredecessors(step Step) []Step {
	switch step {
	case StepMp4Remux:
		return nil
	case StepMp4Validation:
		return []Step{StepMp4Remux}
	case StepMetadata, StepChapters:
		return []Step{StepMp4Validation}
	case StepThumbnail:
		return []Step{StepMetadata, StepChapters}
	case StepCleanup:
		return []Step{StepThumbnail}
	default:
		return nil
	}
}

// ProcessingState tracks per-recording post-processing progress.
type ProcessingState struct {
	BaseModel

	// RecordingID references the owning recording; one state row each.
	RecordingID ULID `gorm:"not null;uniqueIndex;type:varchar(26)" json:"recording_id"`

	Mp4Remux      StepStatus `gorm:"not null;default:'pending';size:20" json:"mp4_remux"`
	Mp4Validation StepStatus `gorm:"not null;default:'pending';size:20" json:"mp4_validation"`
	Metadata      StepStatus `gorm:"not null;default:'pending';size:20" json:"metadata"`
	Chapters      StepStatus `gorm:"not null;default:'pending';size:20" json:"chapters"`
	Thumbnail     StepStatus `gorm:"not null;default:'pending';size:20" json:"thumbnail"`
	Cleanup       StepStatus `gorm:"not null;default:'pending';size:20" json:"cleanup"`

	// LastError holds the most recent step failure message.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for ProcessingState.
func (ProcessingState) TableName() string {
	return "recording_processing_states"
}

// StepStatus returns the status of the given step.
func (p *ProcessingState) StepStatus(step Step) (StepStatus, error) {
	switch step {
	case StepMp4Remux:
		return p.Mp4Remux, nil
	case StepMp4Validation:
		return p.Mp4Validation, nil
	case StepMetadata:
		return p.Metadata, nil
	case StepChapters:
		return p.Chapters, nil
	case StepThumbnail:
		return p.Thumbnail, nil
	case StepCleanup:
		return p.Cleanup, nil
	default:
		return "", ErrUnknownStep
	}
}

// SetStep updates the status of the given step, enforcing that a step only
// enters running once all of its predecessors are completed or skipped.
func (p *ProcessingState) SetStep(step Step, status StepStatus) error {
	switch status {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped:
	default:
		return ErrInvalidStepStatus
	}

	if status == StepRunning {
		for _, pre := range StepPredecessors(step) {
			st, err := p.StepStatus(pre)
			if err != nil {
				return err
			}
			if st != StepCompleted && st != StepSkipped {
				return ErrStepPredecessorsIncomplete
			}
		}
	}

	switch step {
	case StepMp4Remux:
		p.Mp4Remux = status
	case StepMp4Validation:
		p.Mp4Validation = status
	case StepMetadata:
		p.Metadata = status
	case StepChapters:
		p.Chapters = status
	case StepThumbnail:
		p.Thumbnail = status
	case StepCleanup:
		p.Cleanup = status
	default:
		return ErrUnknownStep
	}
	return nil
}

// Done reports whether every step reached a terminal state.
func (p *ProcessingState) Done() bool {
	for _, step := range AllSteps() {
		st, _ := p.StepStatus(step)
		if st != StepCompleted && st != StepFailed && st != StepSkipped {
			return false
		}
	}
	return true
}

// Failed reports whether any step failed.
func (p *ProcessingState) Failed() bool {
	for _, step := range AllSteps() {
		if st, _ := p.StepStatus(step); st == StepFailed {
			return true
		}
	}
	return false
}

// Validate performs basic validation on the processing state.
func (p *ProcessingState) Validate() error {
	if p.RecordingID.IsZero() {
		return ErrRecordingIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the state and generates a ULID.
func (p *ProcessingState) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
