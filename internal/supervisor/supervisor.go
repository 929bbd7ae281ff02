// Package supervisor owns the capture and conversion child processes.
// Every streamlink and ffmpeg invocation in vodarr goes through it: the
// supervisor assigns each child a stable string handle id, streams its
// stdout/stderr to a per-job log file, and provides graceful-then-forced
// termination for single processes and for the whole set on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/vodarr/internal/recerr"
)

// ErrUnknownHandle is returned when an operation names a handle id that is
// not (or no longer) registered.
var ErrUnknownHandle = errors.New("unknown process handle")

// Spec describes a child process to spawn.
type Spec struct {
	// Name is a short label used in the handle id and logs, e.g. "streamlink-xqc".
	// Defaults to the command basename.
	Name string
	// Command is the executable to run; resolved via PATH if not absolute.
	Command string
	// Args are the command arguments, excluding the command itself.
	Args []string
	// Env entries ("KEY=VALUE") are appended to the parent environment.
	Env []string
	// Dir is the working directory. Must exist and be writable when set.
	Dir string
	// LogPath is the per-job log file. stdout and stderr are streamed to it;
	// the parent directory is created if missing.
	LogPath string
}

// Supervisor tracks spawned child processes by handle id.
type Supervisor struct {
	log *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
}

// New creates a Supervisor. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log:     log,
		handles: make(map[string]*Handle),
	}
}

// Spawn starts the described process and registers a handle for it.
// The child is placed in its own process group so that termination signals
// reach grandchildren (streamlink forks its own muxer).
//
// The returned handle stays registered after the process exits, so callers
// can still Wait on it; Release removes it once the exit has been consumed.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, recerr.New(recerr.KindSpawn, "supervisor.spawn", "empty command")
	}

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindSpawn, "supervisor.spawn", fmt.Errorf("resolving %q: %w", spec.Command, err))
	}
	if spec.Dir != "" {
		if err := probeWritableDir(spec.Dir); err != nil {
			return nil, recerr.Wrap(recerr.KindSpawn, "supervisor.spawn", err)
		}
	}

	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Command)
	}
	id := fmt.Sprintf("%s-%s", name, ulid.Make())

	logFile, err := openLogFile(spec.LogPath)
	if err != nil {
		return nil, recerr.Wrap(recerr.KindSpawn, "supervisor.spawn", err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so Terminate can signal the whole tree at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		id:          id,
		spec:        spec,
		cmd:         cmd,
		logFile:     logFile,
		done:        make(chan struct{}),
		captureDone: make(chan struct{}),
		exitCode:    -1,
	}

	// stdout is wired straight into the log file; stderr goes through a
	// scanner so the most recent lines stay available for error reporting.
	if logFile != nil {
		cmd.Stdout = logFile
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()
		return nil, recerr.Wrap(recerr.KindSpawn, "supervisor.spawn", fmt.Errorf("stderr pipe: %w", err))
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "=== %s started at %s ===\n", id, time.Now().UTC().Format(time.RFC3339))
		fmt.Fprintf(logFile, "Command: %s %s\n\n", path, joinArgs(spec.Args))
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, recerr.Wrap(recerr.KindSpawn, "supervisor.spawn", fmt.Errorf("starting %q: %w", spec.Command, err))
	}
	h.started = time.Now()
	h.pid = cmd.Process.Pid

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	go h.captureStderr(stderr)
	go h.reap()

	s.log.InfoContext(ctx, "process started",
		slog.String("handle", id),
		slog.Int("pid", h.pid),
		slog.String("command", spec.Command),
		slog.String("log", spec.LogPath))

	return h, nil
}

// Get returns the handle with the given id.
func (s *Supervisor) Get(id string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// List returns all registered handles, running and exited.
func (s *Supervisor) List() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// ManagedPIDs returns pid → handle id for every live supervised process.
// The cleanup step uses it to tell its own writers apart from foreign ones.
func (s *Supervisor) ManagedPIDs() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.handles))
	for id, h := range s.handles {
		if h.Running() {
			out[h.PID()] = id
		}
	}
	return out
}

// Release removes an exited handle from the registry. Releasing a running
// process is refused so nothing can orphan a live child.
func (s *Supervisor) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return ErrUnknownHandle
	}
	if h.Running() {
		return fmt.Errorf("releasing %s: process still running", id)
	}
	delete(s.handles, id)
	return nil
}

// Wait blocks until the process exits or ctx is done, then returns its exit
// code. Non-zero exit codes are data, not errors; the error is non-nil only
// for an unknown handle or a cancelled context.
func (s *Supervisor) Wait(ctx context.Context, id string) (int, error) {
	h, ok := s.Get(id)
	if !ok {
		return 0, ErrUnknownHandle
	}
	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Terminate stops the process: it sends SIGINT to the process group, waits
// up to graceTimeout for a cooperative exit, then SIGKILLs the group.
// The returned bool reports whether the graceful stop succeeded.
func (s *Supervisor) Terminate(ctx context.Context, id string, graceTimeout time.Duration) (bool, error) {
	h, ok := s.Get(id)
	if !ok {
		return false, ErrUnknownHandle
	}
	graceful, err := h.terminate(ctx, graceTimeout)
	if err != nil {
		return graceful, err
	}
	s.log.InfoContext(ctx, "process terminated",
		slog.String("handle", id),
		slog.Bool("graceful", graceful),
		slog.Int("exit_code", h.ExitCode()))
	return graceful, nil
}

// TerminateAll stops every running process concurrently, giving each the
// same grace window. Used on service shutdown; ctx bounds the overall wait.
func (s *Supervisor) TerminateAll(ctx context.Context, graceTimeout time.Duration) {
	var running []*Handle
	s.mu.RLock()
	for _, h := range s.handles {
		if h.Running() {
			running = append(running, h)
		}
	}
	s.mu.RUnlock()

	if len(running) == 0 {
		return
	}
	s.log.InfoContext(ctx, "terminating all processes", slog.Int("count", len(running)))

	var wg sync.WaitGroup
	for _, h := range running {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			graceful, err := h.terminate(ctx, graceTimeout)
			if err != nil {
				s.log.WarnContext(ctx, "terminate failed",
					slog.String("handle", h.ID()),
					slog.String("error", err.Error()))
				return
			}
			if !graceful {
				s.log.WarnContext(ctx, "process required force kill", slog.String("handle", h.ID()))
			}
		}(h)
	}
	wg.Wait()
}

// Run spawns the process, waits for it, and releases the handle: the
// one-shot shape the pipeline steps use for ffmpeg invocations. If ctx is
// cancelled while the process runs it is terminated with a short grace.
func (s *Supervisor) Run(ctx context.Context, spec Spec) (int, error) {
	h, err := s.Spawn(ctx, spec)
	if err != nil {
		return 0, err
	}
	defer s.Release(h.ID()) //nolint:errcheck

	select {
	case <-h.done:
		return h.ExitCode(), nil
	case <-ctx.Done():
		// Detach from the cancelled context for the kill itself.
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.terminate(stopCtx, 3*time.Second) //nolint:errcheck
		return h.ExitCode(), ctx.Err()
	}
}

// probeWritableDir verifies dir exists and accepts writes. A stat alone is
// not enough: permission bits lie on network mounts and for capability-
// restricted users, so this creates and removes a scratch file.
func probeWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("workdir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workdir %q: not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".vodarr-write-probe-*")
	if err != nil {
		return fmt.Errorf("workdir %q not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
