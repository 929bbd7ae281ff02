package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxStderrLines bounds the in-memory stderr tail kept per process.
const maxStderrLines = 100

// Handle is the supervisor's view of one child process. The id is a stable
// string, so other components can refer to the process without holding the
// handle itself.
type Handle struct {
	id   string
	spec Spec

	mu            sync.RWMutex
	cmd           *exec.Cmd
	pid           int
	started       time.Time
	exitedAt      time.Time
	exitCode      int
	signal        syscall.Signal
	forced        bool
	stopRequested bool

	logFile *os.File

	stderrMu    sync.RWMutex
	stderrLines []string

	done        chan struct{}
	captureDone chan struct{}
}

// ID returns the stable handle id.
func (h *Handle) ID() string { return h.id }

// Name returns the label the process was spawned under.
func (h *Handle) Name() string {
	if h.spec.Name != "" {
		return h.spec.Name
	}
	return h.spec.Command
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pid
}

// LogPath returns the per-job log file path, or "" when logging was disabled.
func (h *Handle) LogPath() string { return h.spec.LogPath }

// Started returns when the process was started.
func (h *Handle) Started() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Uptime returns how long the process has been running, frozen at exit.
func (h *Handle) Uptime() time.Duration {
	select {
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.exitedAt.Sub(h.started)
	default:
		return time.Since(h.Started())
	}
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process has exited and its exit
// status is recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the recorded exit code: 0 for clean exit, the child's
// code for a failure, -1 while running or when the child died on a signal.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// Signal returns the signal that terminated the child, or 0 when it exited
// on its own.
func (h *Handle) Signal() syscall.Signal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.signal
}

// Forced reports whether the supervisor had to SIGKILL the process.
func (h *Handle) Forced() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.forced
}

// StopRequested reports whether Terminate was called for this process. The
// lifecycle manager uses it to tell an operator stop from a crash.
func (h *Handle) StopRequested() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopRequested
}

// StderrTail returns a copy of the most recent stderr lines (up to 100).
func (h *Handle) StderrTail() []string {
	h.stderrMu.RLock()
	defer h.stderrMu.RUnlock()
	lines := make([]string, len(h.stderrLines))
	copy(lines, h.stderrLines)
	return lines
}

// LastStderrLine returns the newest captured stderr line, or "".
func (h *Handle) LastStderrLine() string {
	h.stderrMu.RLock()
	defer h.stderrMu.RUnlock()
	if len(h.stderrLines) == 0 {
		return ""
	}
	return h.stderrLines[len(h.stderrLines)-1]
}

// captureStderr streams the child's stderr into the log file while keeping
// a bounded tail in memory for error reporting.
func (h *Handle) captureStderr(stderr io.ReadCloser) {
	defer close(h.captureDone)

	scanner := bufio.NewScanner(stderr)
	// ffmpeg progress output can produce very long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	for scanner.Scan() {
		line := scanner.Text()

		h.stderrMu.Lock()
		if len(h.stderrLines) >= maxStderrLines {
			h.stderrLines = h.stderrLines[1:]
		}
		h.stderrLines = append(h.stderrLines, line)
		h.stderrMu.Unlock()

		if h.logFile != nil {
			fmt.Fprintln(h.logFile, line)
		}
	}
}

// reap waits for the child to exit, records its status, finishes the log
// file, and closes done.
func (h *Handle) reap() {
	// The pipe EOFs when the process exits; drain it fully before Wait.
	<-h.captureDone

	err := h.cmd.Wait()
	now := time.Now()

	code := 0
	var sig syscall.Signal
	if err != nil {
		code = -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				sig = ws.Signal()
			}
		}
	}

	h.mu.Lock()
	h.exitCode = code
	h.signal = sig
	h.exitedAt = now
	h.mu.Unlock()

	if h.logFile != nil {
		if sig != 0 {
			fmt.Fprintf(h.logFile, "\n=== %s terminated by %s at %s ===\n", h.id, sig, now.UTC().Format(time.RFC3339))
		} else {
			fmt.Fprintf(h.logFile, "\n=== %s exited with code %d at %s ===\n", h.id, code, now.UTC().Format(time.RFC3339))
		}
		h.logFile.Close()
	}

	close(h.done)
}

// terminate implements graceful-then-forced stop for the process group.
func (h *Handle) terminate(ctx context.Context, graceTimeout time.Duration) (bool, error) {
	h.mu.Lock()
	h.stopRequested = true
	pid := h.pid
	h.mu.Unlock()

	// Already gone: a stop that needs no signal counts as graceful.
	select {
	case <-h.done:
		return true, nil
	default:
	}

	// Negative pid addresses the process group set up at spawn.
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("signalling %s: %w", h.id, err)
	}

	grace := time.NewTimer(graceTimeout)
	defer grace.Stop()
	select {
	case <-h.done:
		return true, nil
	case <-ctx.Done():
		h.forceKill(pid)
		return false, ctx.Err()
	case <-grace.C:
	}

	h.forceKill(pid)

	// SIGKILL cannot be caught, so this resolves promptly; the timeout is a
	// backstop for unkillable (uninterruptible-sleep) processes.
	kill := time.NewTimer(10 * time.Second)
	defer kill.Stop()
	select {
	case <-h.done:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-kill.C:
		return false, fmt.Errorf("process %s did not die after SIGKILL", h.id)
	}
	return false, nil
}

func (h *Handle) forceKill(pid int) {
	h.mu.Lock()
	h.forced = true
	h.mu.Unlock()
	syscall.Kill(-pid, syscall.SIGKILL) //nolint:errcheck
}
