package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/recerr"
)

func newTestSupervisor() *Supervisor {
	return New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

// sh builds a Spec running a shell snippet, logging into dir.
func sh(dir, script string) Spec {
	return Spec{
		Name:    "test",
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		LogPath: filepath.Join(dir, "job.log"),
	}
}

func TestSpawn_MissingExecutable(t *testing.T) {
	s := newTestSupervisor()

	_, err := s.Spawn(context.Background(), Spec{Command: "definitely-not-a-real-binary-4712"})
	require.Error(t, err)
	assert.True(t, recerr.IsKind(err, recerr.KindSpawn))
}

func TestSpawn_MissingWorkdir(t *testing.T) {
	s := newTestSupervisor()

	spec := sh(t.TempDir(), "true")
	spec.Dir = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := s.Spawn(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, recerr.IsKind(err, recerr.KindSpawn))
}

func TestSpawn_UnwritableWorkdir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}
	s := newTestSupervisor()

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	spec := sh(t.TempDir(), "true")
	spec.Dir = dir

	_, err := s.Spawn(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, recerr.IsKind(err, recerr.KindSpawn))
}

func TestWait_ReportsExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		expected int
	}{
		{name: "clean exit", script: "exit 0", expected: 0},
		{name: "failure exit", script: "exit 3", expected: 3},
	}

	s := newTestSupervisor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := s.Spawn(context.Background(), sh(t.TempDir(), tt.script))
			require.NoError(t, err)

			code, err := s.Wait(context.Background(), h.ID())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, code)
			assert.False(t, h.Running())
		})
	}
}

func TestWait_UnknownHandle(t *testing.T) {
	s := newTestSupervisor()

	_, err := s.Wait(context.Background(), "no-such-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestSpawn_StreamsOutputToLogFile(t *testing.T) {
	s := newTestSupervisor()
	dir := t.TempDir()

	h, err := s.Spawn(context.Background(), sh(dir, "echo to-stdout; echo to-stderr >&2"))
	require.NoError(t, err)

	_, err = s.Wait(context.Background(), h.ID())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "job.log"))
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "to-stdout")
	assert.Contains(t, log, "to-stderr")
	assert.Contains(t, log, "started at")
	assert.Contains(t, log, "exited with code 0")
}

func TestStderrTail_KeepsLastHundredLines(t *testing.T) {
	s := newTestSupervisor()

	h, err := s.Spawn(context.Background(), sh(t.TempDir(), `i=1; while [ $i -le 150 ]; do echo "line$i" >&2; i=$((i+1)); done`))
	require.NoError(t, err)

	_, err = s.Wait(context.Background(), h.ID())
	require.NoError(t, err)

	tail := h.StderrTail()
	require.Len(t, tail, 100)
	assert.Equal(t, "line51", tail[0])
	assert.Equal(t, "line150", tail[99])
	assert.Equal(t, "line150", h.LastStderrLine())
}

func TestTerminate_Graceful(t *testing.T) {
	s := newTestSupervisor()
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")

	// The trap makes the shell exit cleanly on SIGINT. The ready file tells
	// the test the trap is armed before any signal is sent.
	h, err := s.Spawn(context.Background(), sh(dir, fmt.Sprintf(`trap "exit 0" INT; : > %s; sleep 30`, ready)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(ready)
		return statErr == nil
	}, 5*time.Second, 10*time.Millisecond, "shell never armed its trap")

	graceful, err := s.Terminate(context.Background(), h.ID(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, graceful)
	assert.Equal(t, 0, h.ExitCode())
	assert.False(t, h.Forced())
	assert.True(t, h.StopRequested())
}

func TestTerminate_ForcesStubbornProcess(t *testing.T) {
	s := newTestSupervisor()

	// Ignored SIGINT is inherited by sleep, so the grace window expires.
	h, err := s.Spawn(context.Background(), sh(t.TempDir(), `trap "" INT; sleep 30`))
	require.NoError(t, err)

	graceful, err := s.Terminate(context.Background(), h.ID(), 250*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, graceful)
	assert.True(t, h.Forced())
	assert.Equal(t, syscall.SIGKILL, h.Signal())
	assert.Equal(t, -1, h.ExitCode())
}

func TestTerminate_AlreadyExited(t *testing.T) {
	s := newTestSupervisor()

	h, err := s.Spawn(context.Background(), sh(t.TempDir(), "true"))
	require.NoError(t, err)
	_, err = s.Wait(context.Background(), h.ID())
	require.NoError(t, err)

	graceful, err := s.Terminate(context.Background(), h.ID(), time.Second)
	require.NoError(t, err)
	assert.True(t, graceful)
}

func TestTerminate_UnknownHandle(t *testing.T) {
	s := newTestSupervisor()

	_, err := s.Terminate(context.Background(), "no-such-handle", time.Second)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTerminateAll(t *testing.T) {
	s := newTestSupervisor()

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := s.Spawn(context.Background(), sh(t.TempDir(), `trap "exit 0" INT; sleep 30`))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	s.TerminateAll(context.Background(), 5*time.Second)

	for _, h := range handles {
		assert.False(t, h.Running(), "handle %s still running", h.ID())
	}
}

func TestListAndRelease(t *testing.T) {
	s := newTestSupervisor()

	h, err := s.Spawn(context.Background(), sh(t.TempDir(), `trap "exit 0" INT; sleep 30`))
	require.NoError(t, err)

	require.Len(t, s.List(), 1)
	assert.Equal(t, h.ID(), s.List()[0].ID())

	// A running process cannot be released.
	require.Error(t, s.Release(h.ID()))

	_, err = s.Terminate(context.Background(), h.ID(), 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Release(h.ID()))
	assert.Empty(t, s.List())
	assert.ErrorIs(t, s.Release(h.ID()), ErrUnknownHandle)
}

func TestRun_OneShot(t *testing.T) {
	s := newTestSupervisor()

	code, err := s.Run(context.Background(), sh(t.TempDir(), "exit 7"))
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Empty(t, s.List(), "one-shot handle should be released")
}

func TestRun_CancelledContext(t *testing.T) {
	s := newTestSupervisor()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, sh(t.TempDir(), `trap "exit 0" INT; sleep 30`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.List())
}

func TestFindByCommandSubstring(t *testing.T) {
	s := newTestSupervisor()

	marker := fmt.Sprintf("vodarr-scan-marker-%d", os.Getpid())
	h, err := s.Spawn(context.Background(), sh(t.TempDir(), fmt.Sprintf(`trap "exit 0" INT; sleep 30 # %s`, marker)))
	require.NoError(t, err)
	defer s.Terminate(context.Background(), h.ID(), time.Second) //nolint:errcheck

	found, err := s.FindByCommandSubstring(context.Background(), marker)
	require.NoError(t, err)
	require.NotEmpty(t, found)

	pids := make([]int32, 0, len(found))
	for _, p := range found {
		pids = append(pids, p.PID)
	}
	assert.Contains(t, pids, int32(h.PID()))

	none, err := s.FindByCommandSubstring(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManagedPIDs(t *testing.T) {
	s := newTestSupervisor()

	h, err := s.Spawn(context.Background(), sh(t.TempDir(), `trap "exit 0" INT; sleep 30`))
	require.NoError(t, err)

	pids := s.ManagedPIDs()
	assert.Equal(t, h.ID(), pids[h.PID()])

	_, err = s.Terminate(context.Background(), h.ID(), 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, s.ManagedPIDs())
}

func TestUsage(t *testing.T) {
	s := newTestSupervisor()

	h, err := s.Spawn(context.Background(), sh(t.TempDir(), `trap "exit 0" INT; sleep 30`))
	require.NoError(t, err)
	defer s.Terminate(context.Background(), h.ID(), time.Second) //nolint:errcheck

	u, err := s.Usage(context.Background(), h.ID())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.GreaterOrEqual(t, u.Uptime, time.Duration(0))

	_, err = s.Usage(context.Background(), "no-such-handle")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}
