package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ActivityLog is an append-only JSON audit log of recording lifecycle events.
// It lives under the application log partition (app/recording_activity.log)
// and is separate from the process logger so that operator-facing activity
// survives log level changes.
type ActivityLog struct {
	logger *slog.Logger
	closer io.Closer
}

// OpenActivityLog opens (creating if necessary) the recording activity log
// beneath the given application log directory.
func OpenActivityLog(appLogDir string) (*ActivityLog, error) {
	if err := os.MkdirAll(appLogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating app log directory: %w", err)
	}
	path := filepath.Join(appLogDir, "recording_activity.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &ActivityLog{logger: slog.New(handler), closer: f}, nil
}

// Record writes one activity entry. Args follow slog key/value convention.
func (a *ActivityLog) Record(event string, args ...any) {
	if a == nil || a.logger == nil {
		return
	}
	a.logger.Info(event, args...)
}

// Close releases the underlying file handle.
func (a *ActivityLog) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
