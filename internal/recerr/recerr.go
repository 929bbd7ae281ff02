// Package recerr defines the error kinds the recording core distinguishes
// and the wrapping used to carry them across component boundaries.
package recerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry policy and HTTP mapping decisions.
type Kind string

const (
	// KindConfig indicates invalid settings, e.g. a malformed proxy URL.
	KindConfig Kind = "ConfigError"
	// KindStreamerNotFound indicates an unknown streamer reference.
	KindStreamerNotFound Kind = "StreamerNotFound"
	// KindStreamNotFound indicates an unknown stream reference.
	KindStreamNotFound Kind = "StreamNotFound"
	// KindRecordingNotFound indicates an unknown recording reference.
	KindRecordingNotFound Kind = "RecordingNotFound"
	// KindRecordingAlreadyActive indicates a start attempt while a recording
	// is already in flight for the streamer.
	KindRecordingAlreadyActive Kind = "RecordingAlreadyActive"
	// KindSpawn indicates the capture or converter child could not be started.
	KindSpawn Kind = "SpawnError"
	// KindProxyUnreachable indicates the configured proxy failed pre-flight.
	KindProxyUnreachable Kind = "ProxyUnreachable"
	// KindCaptureFailed indicates the capture child failed at runtime.
	KindCaptureFailed Kind = "CaptureFailed"
	// KindRemuxFailed indicates the TS→MP4 remux step failed.
	KindRemuxFailed Kind = "RemuxFailed"
	// KindValidationFailed indicates the remux output failed acceptance checks.
	KindValidationFailed Kind = "ValidationFailed"
	// KindMetadata indicates sidecar metadata generation failed.
	KindMetadata Kind = "MetadataError"
	// KindChapters indicates chapter artefact generation failed.
	KindChapters Kind = "ChaptersError"
	// KindThumbnail indicates thumbnail generation failed.
	KindThumbnail Kind = "ThumbnailError"
	// KindCleanup indicates intermediate-file cleanup failed.
	KindCleanup Kind = "CleanupError"
	// KindCrossStreamerPath indicates a recording path that appears to belong
	// to a different streamer. Always terminal, never retried.
	KindCrossStreamerPath Kind = "CrossStreamerPath"
	// KindWebhookVerification indicates an EventSub message that failed
	// signature verification.
	KindWebhookVerification Kind = "WebhookVerificationError"
	// KindTwitchAPI indicates a permanent Twitch API failure.
	KindTwitchAPI Kind = "TwitchAPIError"
	// KindNotFound indicates an unknown resource reference outside the
	// streamer/stream/recording entities.
	KindNotFound Kind = "NotFound"
	// KindInternal is the fallback for unexpected faults.
	KindInternal Kind = "InternalError"
)

// Error carries a kind, the failing operation, and optional correlation ids.
type Error struct {
	Kind        Kind
	Op          string
	RecordingID string
	StreamerID  string
	Err         error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps err with a kind and operation. Returns nil when err is nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithRecording attaches a recording id for log correlation.
func (e *Error) WithRecording(id string) *Error {
	e.RecordingID = id
	return e
}

// WithStreamer attaches a streamer id for log correlation.
func (e *Error) WithStreamer(id string) *Error {
	e.StreamerID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) matches.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from an error chain, or KindInternal when no
// recerr.Error is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the queue's retry policy applies to errors of
// this kind. Precondition and path-safety failures never retry; transient
// pipeline and capture faults do.
func Retryable(kind Kind) bool {
	switch kind {
	case KindConfig,
		KindStreamerNotFound,
		KindStreamNotFound,
		KindRecordingNotFound,
		KindRecordingAlreadyActive,
		KindCrossStreamerPath,
		KindWebhookVerification,
		KindValidationFailed,
		KindNotFound:
		return false
	default:
		return true
	}
}

// Permanent reports whether the error chain should bypass retries entirely.
func Permanent(err error) bool {
	return !Retryable(KindOf(err))
}
