package models

import "errors"

// Common validation errors for models.
var (
	// ErrLoginRequired indicates a required login field is empty.
	ErrLoginRequired = errors.New("login is required")

	// ErrTwitchIDRequired indicates a required Twitch user id field is empty.
	ErrTwitchIDRequired = errors.New("twitch_id is required")

	// ErrStreamerIDRequired indicates a required streamer ID field is zero.
	ErrStreamerIDRequired = errors.New("streamer_id is required")

	// ErrStreamIDRequired indicates a required stream ID field is zero.
	ErrStreamIDRequired = errors.New("stream_id is required")

	// ErrRecordingIDRequired indicates a required recording ID field is zero.
	ErrRecordingIDRequired = errors.New("recording_id is required")

	// ErrStartTimeRequired indicates a required start time field is empty.
	ErrStartTimeRequired = errors.New("start time is required")

	// ErrInvalidTimeRange indicates end time is before start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrEndedStreamImmutable indicates an attempt to change ended_at after
	// it was set.
	ErrEndedStreamImmutable = errors.New("ended_at is immutable once set")

	// ErrPathRequired indicates a required file path field is empty.
	ErrPathRequired = errors.New("path is required")

	// ErrInvalidRecordingStatus indicates an unknown recording status value.
	ErrInvalidRecordingStatus = errors.New("invalid recording status")

	// ErrInvalidStepStatus indicates an unknown processing step status value.
	ErrInvalidStepStatus = errors.New("invalid processing step status")

	// ErrInvalidEventType indicates an unknown stream event type.
	ErrInvalidEventType = errors.New("invalid stream event type: must be 'online', 'offline' or 'channel.update'")

	// ErrTaskKindRequired indicates a required task kind field is empty.
	ErrTaskKindRequired = errors.New("task kind is required")

	// ErrStepPredecessorsIncomplete indicates a processing step was moved to
	// running before all of its predecessors finished.
	ErrStepPredecessorsIncomplete = errors.New("predecessor steps are not complete")

	// ErrUnknownStep indicates an unrecognised processing step name.
	ErrUnknownStep = errors.New("unknown processing step")
)
