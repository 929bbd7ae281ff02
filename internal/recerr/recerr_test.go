package recerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindRemuxFailed, "remux", nil))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindProxyUnreachable, "capture.preflight", "proxy %s timed out", "http://p:3128")
	assert.Equal(t, "capture.preflight: ProxyUnreachable: proxy http://p:3128 timed out", err.Error())
}

func TestKindOf(t *testing.T) {
	base := Wrap(KindValidationFailed, "validate", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("task failed: %w", base)

	assert.Equal(t, KindValidationFailed, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.True(t, IsKind(wrapped, KindValidationFailed))
	assert.False(t, IsKind(wrapped, KindRemuxFailed))
}

func TestUnwrap(t *testing.T) {
	err := Wrap(KindCaptureFailed, "capture", io.ErrClosedPipe)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{KindSpawn, KindProxyUnreachable, KindCaptureFailed, KindRemuxFailed,
		KindMetadata, KindChapters, KindThumbnail, KindCleanup, KindTwitchAPI, KindInternal}
	for _, k := range retryable {
		assert.True(t, Retryable(k), "kind %s should be retryable", k)
	}

	terminal := []Kind{KindConfig, KindStreamerNotFound, KindStreamNotFound,
		KindRecordingAlreadyActive, KindCrossStreamerPath, KindWebhookVerification,
		KindValidationFailed}
	for _, k := range terminal {
		assert.False(t, Retryable(k), "kind %s should not be retryable", k)
	}
}

func TestPermanent(t *testing.T) {
	assert.True(t, Permanent(New(KindCrossStreamerPath, "metadata", "path mismatch")))
	assert.False(t, Permanent(New(KindRemuxFailed, "remux", "exit 1")))
	// Unclassified errors default to retryable internal faults.
	assert.False(t, Permanent(errors.New("boom")))
}

func TestCorrelationIDs(t *testing.T) {
	err := New(KindThumbnail, "thumbnail", "no frame").
		WithRecording("01ABC").WithStreamer("01DEF")
	assert.Equal(t, "01ABC", err.RecordingID)
	assert.Equal(t, "01DEF", err.StreamerID)
}
