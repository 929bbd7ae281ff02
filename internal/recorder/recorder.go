// Package recorder owns the per-streamer recording lifecycle: it turns
// EventSub notifications into supervised streamlink captures and hands
// finished captures to the post-processing pipeline. Each streamer gets an
// ordered mailbox so its events apply in arrival order while different
// streamers proceed independently.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/eventsub"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/status"
	"github.com/jmylchreest/vodarr/internal/supervisor"
)

// CaptureHandle is the view of a supervised capture child the session state
// machine needs.
type CaptureHandle interface {
	ID() string
	Done() <-chan struct{}
	ExitCode() int
	Running() bool
}

// CaptureRunner spawns and terminates capture children. Satisfied by the
// supervisor through the Runner adapter.
type CaptureRunner interface {
	Spawn(ctx context.Context, spec supervisor.Spec) (CaptureHandle, error)
	Terminate(ctx context.Context, id string, grace time.Duration) (bool, error)
}

// supervisorRunner adapts *supervisor.Supervisor to CaptureRunner.
type supervisorRunner struct {
	s *supervisor.Supervisor
}

// NewSupervisorRunner wraps the process supervisor for the manager.
func NewSupervisorRunner(s *supervisor.Supervisor) CaptureRunner {
	return &supervisorRunner{s: s}
}

func (r *supervisorRunner) Spawn(ctx context.Context, spec supervisor.Spec) (CaptureHandle, error) {
	return r.s.Spawn(ctx, spec)
}

func (r *supervisorRunner) Terminate(ctx context.Context, id string, grace time.Duration) (bool, error) {
	return r.s.Terminate(ctx, id, grace)
}

// Enqueuer creates the post-processing task graph for a finished recording.
// Satisfied by *pipeline.Pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, recordingID, streamID models.ULID) ([]*models.Task, error)
}

// Notifier receives recorder status envelopes. Satisfied by *status.Hub.
type Notifier interface {
	Broadcast(envType string, data any)
	BroadcastToast(toast status.Toast)
}

// Waker nudges the queue after an enqueue. Satisfied by *queue.Runner.
type Waker interface {
	Wake()
}

// Deps collects the manager's collaborators.
type Deps struct {
	Config   config.RecordingConfig
	Tools    config.ToolsConfig
	Layout   *layout.Layout
	Resolver *resolver.Resolver
	Runner   CaptureRunner
	Pipeline Enqueuer
	Notifier Notifier
	Waker    Waker

	// Activity, when set, receives the append-only recording audit trail.
	Activity *observability.ActivityLog

	Streamers  repository.StreamerRepository
	Streams    repository.StreamRepository
	Events     repository.StreamEventRepository
	Recordings repository.RecordingRepository
	Tasks      repository.TaskRepository

	Log *slog.Logger
}

// Manager owns one session state machine per streamer and the global
// concurrency budget across them.
type Manager struct {
	cfg      config.RecordingConfig
	tools    config.ToolsConfig
	layout   *layout.Layout
	resolver *resolver.Resolver
	runner   CaptureRunner
	pipeline Enqueuer
	notifier Notifier
	waker    Waker
	activity *observability.ActivityLog

	streamers  repository.StreamerRepository
	streams    repository.StreamRepository
	events     repository.StreamEventRepository
	recordings repository.RecordingRepository
	tasks      repository.TaskRepository

	log *slog.Logger

	// pollInterval paces the capture growth watcher; tests shrink it.
	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[models.ULID]*session
	active   int

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Manager. Zero config values fall back to the standard
// thresholds (64 KiB start threshold, 30 s timeouts, 8 concurrent captures).
func New(deps Deps) *Manager {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	cfg := deps.Config
	if cfg.StartThreshold <= 0 {
		cfg.StartThreshold = 64 * 1024
	}
	if cfg.MinCaptureSize <= 0 {
		cfg.MinCaptureSize = 1024 * 1024
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.ThumbnailDelay <= 0 {
		cfg.ThumbnailDelay = 5 * time.Minute
	}
	if cfg.CaptureAttempts <= 0 {
		cfg.CaptureAttempts = 3
	}
	if cfg.ForcedAttempts <= 0 {
		cfg.ForcedAttempts = 5
	}

	return &Manager{
		cfg:          cfg,
		tools:        deps.Tools,
		layout:       deps.Layout,
		resolver:     deps.Resolver,
		runner:       deps.Runner,
		pipeline:     deps.Pipeline,
		notifier:     deps.Notifier,
		waker:        deps.Waker,
		activity:     deps.Activity,
		streamers:    deps.Streamers,
		streams:      deps.Streams,
		events:       deps.Events,
		recordings:   deps.Recordings,
		tasks:        deps.Tasks,
		log:          observability.WithComponent(log, "recorder"),
		pollInterval: time.Second,
		sessions:     make(map[models.ULID]*session),
	}
}

// Start makes the manager accept lifecycle inputs.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.runCtx, m.runCancel = context.WithCancel(context.Background())
	})
}

// Stop terminates all sessions: children get a graceful stop, then the
// session goroutines wind down.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.Start()
		m.mu.Lock()
		sessions := make([]*session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()

		for _, s := range sessions {
			s.deliver(input{kind: inputForceStop})
		}

		for m.activeCount() > 0 {
			select {
			case <-ctx.Done():
				m.log.Warn("session drain interrupted by shutdown deadline",
					"still_active", m.activeCount())
			case <-time.After(50 * time.Millisecond):
				continue
			}
			break
		}
		m.runCancel()
		m.wg.Wait()
	})
}

// Online implements eventsub.Lifecycle.
func (m *Manager) Online(streamer *models.Streamer, ev eventsub.EventPayload) {
	m.session(streamer).deliver(input{kind: inputOnline, ev: ev})
}

// Offline implements eventsub.Lifecycle.
func (m *Manager) Offline(streamer *models.Streamer, ev eventsub.EventPayload) {
	m.session(streamer).deliver(input{kind: inputOffline, ev: ev})
}

// Update implements eventsub.Lifecycle.
func (m *Manager) Update(streamer *models.Streamer, ev eventsub.EventPayload) {
	m.session(streamer).deliver(input{kind: inputUpdate, ev: ev})
}

// ForceStart begins a recording regardless of the enabled flag, with
// elevated retry settings. It fails fast when a session is already active.
func (m *Manager) ForceStart(ctx context.Context, streamerID models.ULID) error {
	streamer, err := m.streamers.GetByID(ctx, streamerID)
	if err != nil {
		return err
	}
	if streamer == nil {
		return recerr.New(recerr.KindStreamerNotFound, "recorder.force_start",
			"streamer %s not found", streamerID)
	}
	s := m.session(streamer)
	if s.currentState() != stateIdle {
		return recerr.New(recerr.KindRecordingAlreadyActive, "recorder.force_start",
			"%s already has an active session", streamer.Login)
	}
	s.deliver(input{kind: inputForceStart})
	return nil
}

// ForceStop gracefully ends the streamer's active session.
func (m *Manager) ForceStop(ctx context.Context, streamerID models.ULID) error {
	streamer, err := m.streamers.GetByID(ctx, streamerID)
	if err != nil {
		return err
	}
	if streamer == nil {
		return recerr.New(recerr.KindStreamerNotFound, "recorder.force_stop",
			"streamer %s not found", streamerID)
	}
	m.session(streamer).deliver(input{kind: inputForceStop})
	return nil
}

// ActiveSessions returns a snapshot of non-idle sessions for the status
// broadcaster.
func (m *Manager) ActiveSessions(ctx context.Context) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type activeSession struct {
		Streamer    string `json:"streamer"`
		State       string `json:"state"`
		RecordingID string `json:"recording_id,omitempty"`
		StreamID    string `json:"stream_id,omitempty"`
		StartedAt   string `json:"started_at,omitempty"`
	}

	out := make([]activeSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		snap := s.snapshot()
		if snap.state == stateIdle {
			continue
		}
		entry := activeSession{Streamer: snap.login, State: string(snap.state)}
		if snap.recordingID != "" {
			entry.RecordingID = snap.recordingID
			entry.StreamID = snap.streamID
			entry.StartedAt = snap.startedAt
		}
		out = append(out, entry)
	}
	return out, nil
}

// session returns the streamer's session, creating and starting its
// goroutine on first use.
func (m *Manager) session(streamer *models.Streamer) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[streamer.ID]; ok {
		return s
	}
	if m.runCtx == nil {
		m.Start()
	}
	s := newSession(m, streamer)
	m.sessions[streamer.ID] = s
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(m.runCtx)
	}()
	return s
}

// tryAcquireSlot claims one unit of the global concurrency budget.
func (m *Manager) tryAcquireSlot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active >= m.cfg.MaxConcurrent {
		return false
	}
	m.active++
	return true
}

// activeCount reports how many sessions currently hold a capture slot.
func (m *Manager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active > 0 {
		m.active--
	}
}
