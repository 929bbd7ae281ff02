package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/eventsub"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/status"
	"github.com/jmylchreest/vodarr/internal/supervisor"
	"github.com/jmylchreest/vodarr/internal/testutil"
)

type fakeHandle struct {
	id   string
	done chan struct{}

	mu       sync.Mutex
	running  bool
	exitCode int
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *fakeHandle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *fakeHandle) exit(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	h.exitCode = code
	close(h.done)
}

type fakeRunner struct {
	mu         sync.Mutex
	spawned    []supervisor.Spec
	handles    []*fakeHandle
	spawnErr   error
	termExit   int
	terminated []string
}

func (r *fakeRunner) Spawn(ctx context.Context, spec supervisor.Spec) (CaptureHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spawnErr != nil {
		return nil, r.spawnErr
	}
	h := &fakeHandle{
		id:       fmt.Sprintf("capture-%d", len(r.handles)),
		done:     make(chan struct{}),
		running:  true,
		exitCode: -1,
	}
	r.spawned = append(r.spawned, spec)
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRunner) Terminate(ctx context.Context, id string, grace time.Duration) (bool, error) {
	r.mu.Lock()
	r.terminated = append(r.terminated, id)
	exit := r.termExit
	var target *fakeHandle
	for _, h := range r.handles {
		if h.id == id {
			target = h
		}
	}
	r.mu.Unlock()
	if target == nil {
		return false, nil
	}
	target.exit(exit)
	return true, nil
}

func (r *fakeRunner) spawnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawned)
}

func (r *fakeRunner) last() (supervisor.Spec, *fakeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handles) == 0 {
		return supervisor.Spec{}, nil
	}
	return r.spawned[len(r.spawned)-1], r.handles[len(r.handles)-1]
}

// outputPath extracts the --output flag from a spawned argv.
func outputPath(spec supervisor.Spec) string {
	for _, arg := range spec.Args {
		if rest, ok := strings.CutPrefix(arg, "--output="); ok {
			return rest
		}
	}
	return ""
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []status.Envelope
	toasts []status.Toast
}

func (n *fakeNotifier) Broadcast(envType string, data any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status.Envelope{Type: envType, Data: data})
}

func (n *fakeNotifier) BroadcastToast(toast status.Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast)
}

func (n *fakeNotifier) count(envType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == envType {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) toastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toasts)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []models.ULID
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, recordingID, streamID models.ULID) ([]*models.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, recordingID)
	return nil, nil
}

func (e *fakeEnqueuer) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fixture struct {
	t          *testing.T
	mgr        *Manager
	runner     *fakeRunner
	notifier   *fakeNotifier
	pipe       *fakeEnqueuer
	streamers  repository.StreamerRepository
	streams    repository.StreamRepository
	events     repository.StreamEventRepository
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository
	streamer   *models.Streamer
}

func newFixture(t *testing.T, mutate func(*config.RecordingConfig)) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	root := t.TempDir()

	cfg := config.RecordingConfig{
		Quality:          "best",
		FilenameTemplate: "{streamer} - S{year}{month}E{episode:02d}",
		MaxConcurrent:    4,
		StartTimeout:     400 * time.Millisecond,
		StopTimeout:      100 * time.Millisecond,
		Cooldown:         60 * time.Millisecond,
		StartThreshold:   64,
		MinCaptureSize:   128,
		ThumbnailDelay:   time.Hour,
		CaptureAttempts:  3,
		ForcedAttempts:   5,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	streamers := repository.NewStreamerRepository(db)
	settings := repository.NewSettingsRepository(db)

	f := &fixture{
		t:          t,
		runner:     &fakeRunner{},
		notifier:   &fakeNotifier{},
		pipe:       &fakeEnqueuer{},
		streamers:  streamers,
		streams:    repository.NewStreamRepository(db),
		events:     repository.NewStreamEventRepository(db),
		recordings: repository.NewRecordingRepository(db),
		tasks:      repository.NewTaskRepository(db),
		streamer:   testutil.CreateStreamer(t, db, "alice"),
	}
	f.mgr = New(Deps{
		Config:     cfg,
		Tools:      config.ToolsConfig{StreamlinkPath: "streamlink"},
		Layout:     layout.New(root, filepath.Join(root, "logs")),
		Resolver:   resolver.New(cfg, streamers, settings, log),
		Runner:     f.runner,
		Pipeline:   f.pipe,
		Notifier:   f.notifier,
		Streamers:  streamers,
		Streams:    f.streams,
		Events:     f.events,
		Recordings: f.recordings,
		Tasks:      f.tasks,
		Log:        log,
	})
	f.mgr.pollInterval = 10 * time.Millisecond
	f.mgr.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.mgr.Stop(ctx)
	})
	return f
}

func (f *fixture) onlineEvent() eventsub.EventPayload {
	return eventsub.EventPayload{
		ID:                   "40123456789",
		BroadcasterUserID:    f.streamer.TwitchID,
		BroadcasterUserLogin: f.streamer.Login,
		StartedAt:            time.Now().UTC(),
	}
}

// goLive drives the session to the recording state and returns the spawned
// capture's output path.
func (f *fixture) goLive() (string, *fakeHandle) {
	f.t.Helper()
	f.mgr.Online(f.streamer, f.onlineEvent())
	require.Eventually(f.t, func() bool { return f.runner.spawnCount() > 0 },
		2*time.Second, 5*time.Millisecond, "capture never spawned")

	spec, handle := f.runner.last()
	ts := outputPath(spec)
	require.NotEmpty(f.t, ts)
	require.NoError(f.t, os.WriteFile(ts, make([]byte, 256), 0o644))

	require.Eventually(f.t, func() bool { return f.sessionState() == stateRecording },
		2*time.Second, 5*time.Millisecond, "session never promoted")
	return ts, handle
}

func (f *fixture) sessionState() State {
	f.mgr.mu.Lock()
	s, ok := f.mgr.sessions[f.streamer.ID]
	f.mgr.mu.Unlock()
	if !ok {
		return stateIdle
	}
	return s.currentState()
}

func TestOnlineSpawnsAndPromotes(t *testing.T) {
	f := newFixture(t, nil)
	ts, _ := f.goLive()

	spec, _ := f.runner.last()
	assert.Equal(t, "streamlink", spec.Command)
	assert.Equal(t, "streamlink-alice", spec.Name)
	assert.Contains(t, spec.Args, "--twitch-disable-ads")
	assert.Contains(t, spec.Args, "https://www.twitch.tv/alice")
	assert.True(t, strings.HasSuffix(ts, ".ts"), "capture target should be a transport stream")
	assert.Contains(t, ts, "Season ")

	assert.Equal(t, 1, f.notifier.count(status.TypeRecordingStarted))

	ctx := context.Background()
	recordings, err := f.recordings.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.Equal(t, ts, recordings[0].Path)
	assert.False(t, recordings[0].UsedProxy)
	assert.False(t, recordings[0].Forced)

	stream, err := f.streams.GetByID(ctx, recordings[0].StreamID)
	require.NoError(t, err)
	assert.Equal(t, "40123456789", stream.TwitchStreamID)
	assert.Equal(t, 1, stream.Episode)

	// The live preview grab is parked well into the session.
	queued, err := f.tasks.ListByStatus(ctx, models.TaskStatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, models.TaskKindThumbnailPreview, queued[0].Kind)
	require.NotNil(t, queued[0].NextRunAt)
	assert.True(t, time.Time(*queued[0].NextRunAt).After(time.Now().Add(30*time.Minute)))
}

func TestOfflineEndsStreamAndEnqueuesPipeline(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.termExit = 0
	ts, _ := f.goLive()

	f.mgr.Offline(f.streamer, eventsub.EventPayload{BroadcasterUserLogin: "alice"})
	require.Eventually(t, func() bool { return f.pipe.callCount() == 1 },
		2*time.Second, 5*time.Millisecond, "pipeline never enqueued")

	ctx := context.Background()
	active, err := f.recordings.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	streamer, err := f.streamers.GetByID(ctx, f.streamer.ID)
	require.NoError(t, err)
	assert.False(t, streamer.IsLive)

	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.NotNil(t, recent[0].EndedAt)

	events, err := f.events.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	var types []models.StreamEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []models.StreamEventType{models.StreamEventOnline, models.StreamEventOffline}, types)

	assert.Equal(t, 1, f.notifier.count(status.TypeRecordingStopped))
	assert.FileExists(t, ts)

	// Cooldown absorbs the stop, then the session is ready again.
	require.Eventually(t, func() bool { return f.sessionState() == stateIdle },
		2*time.Second, 5*time.Millisecond)
}

func TestSpontaneousCleanExitEndsStream(t *testing.T) {
	f := newFixture(t, nil)
	_, handle := f.goLive()

	// Child quits cleanly on its own, no Offline webhook arrives.
	handle.exit(0)
	require.Eventually(t, func() bool { return f.pipe.callCount() == 1 },
		2*time.Second, 5*time.Millisecond, "pipeline never enqueued")

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.NotNil(t, recent[0].EndedAt, "clean exit must close the stream")

	active, err := f.recordings.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCrashLeavesStreamOpenForRejoin(t *testing.T) {
	f := newFixture(t, nil)
	_, handle := f.goLive()

	handle.exit(1)
	require.Eventually(t, func() bool { return f.pipe.callCount() == 1 },
		2*time.Second, 5*time.Millisecond, "usable capture should still reach the pipeline")

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].EndedAt, "crash keeps the stream open so the next attempt rejoins it")
}

func TestDisabledStreamerIsNotRecorded(t *testing.T) {
	f := newFixture(t, nil)
	disabled := false
	f.streamer.Enabled = &disabled
	require.NoError(t, f.streamers.Update(context.Background(), f.streamer))

	f.mgr.Online(f.streamer, f.onlineEvent())

	require.Eventually(t, func() bool {
		s, err := f.streamers.GetByID(context.Background(), f.streamer.ID)
		require.NoError(t, err)
		return s.IsLive
	}, 2*time.Second, 5*time.Millisecond, "live flag should still be tracked")
	assert.Equal(t, 0, f.runner.spawnCount())
}

func TestSmallCaptureIsDiscarded(t *testing.T) {
	f := newFixture(t, func(cfg *config.RecordingConfig) {
		cfg.StartThreshold = 16
		cfg.MinCaptureSize = 1024
	})
	f.runner.termExit = 0

	f.mgr.Online(f.streamer, f.onlineEvent())
	require.Eventually(t, func() bool { return f.runner.spawnCount() > 0 },
		2*time.Second, 5*time.Millisecond)
	spec, _ := f.runner.last()
	require.NoError(t, os.WriteFile(outputPath(spec), make([]byte, 64), 0o644))
	require.Eventually(t, func() bool { return f.sessionState() == stateRecording },
		2*time.Second, 5*time.Millisecond)

	f.mgr.Offline(f.streamer, eventsub.EventPayload{})
	require.Eventually(t, func() bool { return f.sessionState() != stateRecording && f.sessionState() != stateStopping },
		2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	all, err := f.recordings.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RecordingStatusFailed, all[0].Status)
	assert.Contains(t, all[0].LastError, "too small")
	assert.Equal(t, 0, f.pipe.callCount())
	assert.Equal(t, 1, f.notifier.toastCount())
}

func TestStartTimeoutFailsRecording(t *testing.T) {
	f := newFixture(t, func(cfg *config.RecordingConfig) {
		cfg.StartTimeout = 50 * time.Millisecond
	})
	f.runner.termExit = 1

	f.mgr.Online(f.streamer, f.onlineEvent())
	require.Eventually(t, func() bool { return f.sessionState() == stateCooldown },
		2*time.Second, 5*time.Millisecond, "session never gave up")

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	all, err := f.recordings.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RecordingStatusFailed, all[0].Status)
	assert.Contains(t, all[0].LastError, "start timeout")
	assert.Equal(t, 0, f.pipe.callCount())
}

func TestConcurrencyLimitRejectsStart(t *testing.T) {
	f := newFixture(t, func(cfg *config.RecordingConfig) {
		cfg.MaxConcurrent = 1
	})
	_, _ = f.goLive()

	other := &models.Streamer{TwitchID: "777", Login: "bob", DisplayName: "Bob"}
	require.NoError(t, f.streamers.Create(context.Background(), other))

	f.mgr.Online(other, eventsub.EventPayload{ID: "555", StartedAt: time.Now().UTC()})
	require.Eventually(t, func() bool { return f.notifier.toastCount() == 1 },
		2*time.Second, 5*time.Millisecond, "limit rejection should surface a toast")
	assert.Equal(t, 1, f.runner.spawnCount())
}

func TestForceStartBypassesDisabled(t *testing.T) {
	f := newFixture(t, nil)
	disabled := false
	f.streamer.Enabled = &disabled
	require.NoError(t, f.streamers.Update(context.Background(), f.streamer))

	require.NoError(t, f.mgr.ForceStart(context.Background(), f.streamer.ID))
	require.Eventually(t, func() bool { return f.runner.spawnCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	spec, _ := f.runner.last()
	assert.Contains(t, spec.Args, "--retry-open=5")
	assert.Contains(t, spec.Args, "--retry-streams=10")

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].IsForced())

	all, err := f.recordings.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Forced)

	// A second force start while the session is active is rejected.
	err = f.mgr.ForceStart(ctx, f.streamer.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active")
}

func TestChannelUpdateDuringRecording(t *testing.T) {
	f := newFixture(t, nil)
	_, _ = f.goLive()

	f.mgr.Update(f.streamer, eventsub.EventPayload{
		Title:        "speedrun time",
		CategoryName: "Celeste",
		CategoryID:   "492535",
	})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
		require.NoError(t, err)
		events, err := f.events.ListByStream(ctx, recent[0].ID)
		require.NoError(t, err)
		return len(events) == 2
	}, 2*time.Second, 5*time.Millisecond)

	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "speedrun time", recent[0].Title)
	assert.Equal(t, "Celeste", recent[0].Category)

	events, err := f.events.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamEventUpdate, events[1].Type)
	assert.Equal(t, "Celeste", events[1].Category)

	streamer, err := f.streamers.GetByID(ctx, f.streamer.ID)
	require.NoError(t, err)
	assert.Equal(t, "speedrun time", streamer.LastTitle)
}

func TestSpawnFailureEntersCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.spawnErr = fmt.Errorf("streamlink: executable not found")

	f.mgr.Online(f.streamer, f.onlineEvent())
	require.Eventually(t, func() bool { return f.sessionState() == stateCooldown },
		2*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	recent, err := f.streams.RecentByStreamer(ctx, f.streamer.ID, 1)
	require.NoError(t, err)
	all, err := f.recordings.ListByStream(ctx, recent[0].ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RecordingStatusFailed, all[0].Status)
	assert.Contains(t, all[0].LastError, "spawn")
	assert.Equal(t, 0, f.mgr.activeCount(), "failed spawn must not leak a slot")
}

func TestStopDrainsActiveCaptures(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.termExit = 0
	_, _ = f.goLive()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.mgr.Stop(ctx)

	assert.Equal(t, 0, f.mgr.activeCount())
	assert.Equal(t, 1, f.pipe.callCount(), "graceful shutdown still hands the capture to the pipeline")
}
