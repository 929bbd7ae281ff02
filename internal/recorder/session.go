package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/capture"
	"github.com/jmylchreest/vodarr/internal/eventsub"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/status"
)

// State is a session's position in the recording lifecycle.
type State string

const (
	stateIdle      State = "idle"
	stateStarting  State = "starting"
	stateRecording State = "recording"
	stateStopping  State = "stopping"
	stateCooldown  State = "cooldown"
)

// promoteAfter is how long a session may sit in starting with a live child
// and some output before it is promoted regardless of the size threshold.
const promoteAfter = 10 * time.Second

type inputKind int

const (
	inputOnline inputKind = iota
	inputOffline
	inputUpdate
	inputForceStart
	inputForceStop
)

type input struct {
	kind inputKind
	ev   eventsub.EventPayload
}

// sessionSnapshot is the mutex-protected view exposed to the status hub.
type sessionSnapshot struct {
	login       string
	state       State
	recordingID string
	streamID    string
	startedAt   string
}

// session drives one streamer's recording state machine. All transitions
// happen on the session goroutine; the mailbox serialises inputs.
type session struct {
	m       *Manager
	mailbox chan input
	log     *slog.Logger

	mu   sync.Mutex
	snap sessionSnapshot

	// Attempt fields below are owned by the run goroutine.
	streamer  *models.Streamer
	stream    *models.Stream
	recording *models.Recording
	handle    CaptureHandle

	forced        bool
	stopRequested bool
	startTimedOut bool
	offlineAt     time.Time
	attemptStart  time.Time
	startDeadline time.Time
	cooldownUntil time.Time
}

func newSession(m *Manager, streamer *models.Streamer) *session {
	return &session{
		m:        m,
		mailbox:  make(chan input, 16),
		log:      m.log.With("streamer", streamer.Login),
		streamer: streamer,
		snap:     sessionSnapshot{login: streamer.Login, state: stateIdle},
	}
}

// deliver queues an input without blocking the caller. A full mailbox means
// the session is badly wedged; dropping is better than stalling the
// dispatcher for every other streamer.
func (s *session) deliver(in input) {
	select {
	case s.mailbox <- in:
	default:
		s.log.Warn("session mailbox full, dropping input", "kind", in.kind)
	}
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.state
}

func (s *session) snapshot() sessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.snap.state = state
	if state == stateIdle || state == stateCooldown {
		s.snap.recordingID = ""
		s.snap.streamID = ""
		s.snap.startedAt = ""
	}
	s.mu.Unlock()
}

func (s *session) noteAttempt(rec *models.Recording, stream *models.Stream) {
	s.mu.Lock()
	s.snap.recordingID = rec.ID.String()
	s.snap.streamID = stream.ID.String()
	s.snap.startedAt = time.Time(rec.StartTime).UTC().Format(time.RFC3339)
	s.mu.Unlock()
}

func (s *session) run(ctx context.Context) {
	ticker := time.NewTicker(s.m.pollInterval)
	defer ticker.Stop()

	for {
		var childDone <-chan struct{}
		if s.handle != nil {
			childDone = s.handle.Done()
		}
		select {
		case <-ctx.Done():
			return
		case in := <-s.mailbox:
			s.handleInput(ctx, in)
		case <-childDone:
			s.onChildExit(ctx)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *session) handleInput(ctx context.Context, in input) {
	switch s.currentState() {
	case stateIdle:
		switch in.kind {
		case inputOnline:
			s.begin(ctx, &in.ev, false)
		case inputForceStart:
			s.begin(ctx, nil, true)
		case inputUpdate:
			s.updateChannelInfo(ctx, in.ev)
		case inputOffline:
			s.markLive(ctx, false)
		}

	case stateStarting, stateRecording:
		switch in.kind {
		case inputUpdate:
			s.applyUpdate(ctx, in.ev)
		case inputOffline:
			s.beginStop(ctx, "stream went offline")
		case inputForceStop:
			s.beginStop(ctx, "stop requested")
		case inputOnline:
			// Duplicate webhook for the session already being captured.
			s.log.Debug("online event while capture active, ignoring")
		}

	case stateStopping:
		if in.kind == inputUpdate {
			s.updateChannelInfo(ctx, in.ev)
		}

	case stateCooldown:
		switch in.kind {
		case inputUpdate:
			s.updateChannelInfo(ctx, in.ev)
		case inputOffline:
			s.markLive(ctx, false)
		default:
			// Online events during cooldown are the tail of the session
			// that just ended; a still-live channel is picked up again by
			// the reconcile sweep.
			s.log.Debug("input during cooldown, ignoring", "kind", in.kind)
		}
	}
}

// begin starts a capture attempt: resolve config, create the stream and
// recording rows, pre-flight the proxy, and spawn streamlink.
func (s *session) begin(ctx context.Context, ev *eventsub.EventPayload, forced bool) {
	effective, err := s.m.resolver.Resolve(ctx, s.streamer.ID)
	if err != nil {
		s.log.Error("config resolution failed, not starting capture", "error", err)
		s.toast("error", fmt.Sprintf("%s: cannot resolve recording config: %v", s.streamer.Login, err))
		return
	}

	s.markLive(ctx, true)
	if !forced && !effective.Enabled {
		s.log.Info("streamer online but recording disabled")
		return
	}

	if !s.m.tryAcquireSlot() {
		s.log.Warn("recording limit reached, not starting capture",
			"max_concurrent", s.m.cfg.MaxConcurrent)
		s.toast("warning", fmt.Sprintf("%s went live but the concurrent recording limit (%d) is reached",
			s.streamer.Login, s.m.cfg.MaxConcurrent))
		return
	}
	ok := false
	defer func() {
		if !ok {
			s.m.releaseSlot()
		}
	}()

	if effective.UsesProxy() {
		if err := s.m.resolver.ProbeProxy(ctx, effective.ProxyURL()); err != nil {
			s.log.Error("proxy pre-flight failed", "error", err)
			s.toast("error", fmt.Sprintf("%s: proxy unreachable, capture not started", s.streamer.Login))
			s.enterCooldown()
			return
		}
	}

	now := time.Now().UTC()
	startedAt := now
	twitchStreamID := fmt.Sprintf("force_%d", now.Unix())
	if ev != nil {
		if !ev.StartedAt.IsZero() {
			startedAt = ev.StartedAt.UTC()
		}
		if ev.ID != "" {
			twitchStreamID = ev.ID
		}
	}

	stream, created, err := s.m.streams.FindOrCreateLive(ctx, &models.Stream{
		StreamerID:     s.streamer.ID,
		TwitchStreamID: twitchStreamID,
		StartedAt:      startedAt,
		Title:          s.streamer.LastTitle,
		Category:       s.streamer.LastCategory,
		CategoryID:     s.streamer.LastCategoryID,
		Language:       s.streamer.LastLanguage,
	})
	if err != nil {
		s.log.Error("stream row creation failed", "error", err)
		s.enterCooldown()
		return
	}
	if created {
		if err := s.m.events.Create(ctx, &models.StreamEvent{
			StreamID:   stream.ID,
			Type:       models.StreamEventOnline,
			Timestamp:  stream.StartedAt,
			Title:      stream.Title,
			Category:   stream.Category,
			CategoryID: stream.CategoryID,
		}); err != nil {
			s.log.Warn("online event not recorded", "error", err)
		}
	}

	if stream.Episode == 0 {
		when := time.Time(stream.StartedAt)
		episode, err := s.m.streams.NextEpisodeNumber(ctx, s.streamer.ID, when.Year(), when.Month())
		if err != nil {
			s.log.Error("episode numbering failed", "error", err)
			s.enterCooldown()
			return
		}
		stream.Episode = episode
		if err := s.m.streams.Update(ctx, stream); err != nil {
			s.log.Error("stream update failed", "error", err)
			s.enterCooldown()
			return
		}
	}

	base, err := s.m.layout.EpisodePath(effective.FilenameTemplate, layout.Vars{
		Streamer: s.streamer.Login,
		Title:    stream.Title,
		Game:     stream.Category,
		Episode:  stream.Episode,
		When:     time.Time(stream.StartedAt),
	})
	if err != nil {
		s.log.Error("episode path rendering failed", "error", err)
		s.toast("error", fmt.Sprintf("%s: filename template invalid: %v", s.streamer.Login, err))
		s.enterCooldown()
		return
	}
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		s.log.Error("season directory creation failed", "error", err)
		s.enterCooldown()
		return
	}
	tsPath := base + ".ts"

	recording := &models.Recording{
		StreamID:  stream.ID,
		Status:    models.RecordingStatusRecording,
		StartTime: now,
		Path:      tsPath,
		UsedProxy: effective.UsesProxy(),
		Forced:    forced,
	}
	if err := s.m.recordings.Create(ctx, recording); err != nil {
		s.log.Error("recording row creation failed", "error", err)
		s.enterCooldown()
		return
	}

	opts := capture.Options{
		Quality:       effective.Quality,
		Codecs:        effective.SupportedCodecs,
		ProxyURL:      effective.ProxyURL(),
		OAuthToken:    effective.OAuthToken,
		RetryOpen:     s.m.cfg.CaptureAttempts,
		StreamTimeout: 30 * time.Second,
	}
	if forced {
		// Operator starts tolerate a channel that is not live yet.
		opts.RetryOpen = s.m.cfg.ForcedAttempts
		opts.RetryStreams = 10
		opts.StreamTimeout = 60 * time.Second
	}

	logPath := s.m.layout.StreamlinkLogPath(s.streamer.Login, time.Time(stream.StartedAt))
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		s.log.Warn("log directory creation failed", "error", err)
	}

	spec := capture.Session(s.m.tools.StreamlinkPath, s.streamer.Login, tsPath, opts).
		Spec(capture.SessionName(s.streamer.Login), logPath)

	handle, err := s.m.runner.Spawn(ctx, spec)
	if err != nil {
		s.log.Error("capture spawn failed", "error", err)
		recording.MarkFailed(now, fmt.Sprintf("spawn: %v", err))
		if uerr := s.m.recordings.Update(ctx, recording); uerr != nil {
			s.log.Error("recording update failed", "error", uerr)
		}
		s.toast("error", fmt.Sprintf("%s: streamlink could not be started: %v", s.streamer.Login, err))
		s.enterCooldown()
		return
	}

	ok = true
	s.stream = stream
	s.recording = recording
	s.handle = handle
	s.forced = forced
	s.stopRequested = false
	s.startTimedOut = false
	s.attemptStart = now
	timeout := s.m.cfg.StartTimeout
	if forced {
		timeout *= 2
	}
	s.startDeadline = now.Add(timeout)
	s.noteAttempt(recording, stream)
	s.setState(stateStarting)
	s.log.Info("capture spawned",
		"path", tsPath, "episode", stream.Episode, "forced", forced,
		"proxy", effective.UsesProxy())
}

// tick drives the time-based transitions: starting promotion and timeout,
// capture size bookkeeping, and cooldown expiry.
func (s *session) tick(ctx context.Context) {
	now := time.Now()
	switch s.currentState() {
	case stateStarting:
		size := s.captureSize()
		alive := s.handle != nil && s.handle.Running()
		switch {
		case size >= int64(s.m.cfg.StartThreshold),
			size > 0 && alive && now.Sub(s.attemptStart) >= promoteAfter:
			s.promote(ctx, size)
		case now.After(s.startDeadline) && !s.startTimedOut:
			s.startTimedOut = true
			s.log.Warn("no capture output before start timeout, terminating child")
			handleID := s.handle.ID()
			go func() {
				_, _ = s.m.runner.Terminate(context.WithoutCancel(ctx), handleID, 5*time.Second)
			}()
		}

	case stateRecording:
		if size := s.captureSize(); size > s.recording.Bytes {
			s.recording.Bytes = size
			if err := s.m.recordings.UpdateBytes(ctx, s.recording.ID, size); err != nil {
				s.log.Warn("capture size update failed", "error", err)
			}
		}

	case stateCooldown:
		if now.After(s.cooldownUntil) {
			s.setState(stateIdle)
		}
	}
}

func (s *session) captureSize() int64 {
	if s.recording == nil {
		return 0
	}
	info, err := os.Stat(s.recording.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// promote moves starting to recording once the capture demonstrably flows.
func (s *session) promote(ctx context.Context, size int64) {
	s.setState(stateRecording)
	s.recording.Bytes = size
	if err := s.m.recordings.UpdateBytes(ctx, s.recording.ID, size); err != nil {
		s.log.Warn("capture size update failed", "error", err)
	}
	s.log.Info("capture established", "bytes", size)
	s.m.notifier.Broadcast(status.TypeRecordingStarted, map[string]any{
		"streamer":     s.streamer.Login,
		"recording_id": s.recording.ID.String(),
		"stream_id":    s.stream.ID.String(),
		"path":         s.recording.Path,
	})
	s.m.activity.Record("recording started",
		"streamer", s.streamer.Login,
		"recording_id", s.recording.ID.String(),
		"path", s.recording.Path,
	)
	s.schedulePreview(ctx)
}

// schedulePreview enqueues a delayed frame grab from the live capture so the
// eventual thumbnail shows mid-stream content.
func (s *session) schedulePreview(ctx context.Context) {
	runAt := time.Now().Add(s.m.cfg.ThumbnailDelay)
	task := &models.Task{
		Kind:        models.TaskKindThumbnailPreview,
		RecordingID: s.recording.ID,
		StreamID:    s.stream.ID,
		Status:      models.TaskStatusQueued,
		Priority:    queue.PriorityHousekeeping,
		MaxAttempts: 3,
		NextRunAt:   &runAt,
	}
	if err := s.m.tasks.Create(ctx, task); err != nil {
		s.log.Warn("preview task not scheduled", "error", err)
	}
}

// applyUpdate records a mid-session title/category change as a stream event
// and refreshes the stream and streamer rows.
func (s *session) applyUpdate(ctx context.Context, ev eventsub.EventPayload) {
	if err := s.m.events.Create(ctx, &models.StreamEvent{
		StreamID:   s.stream.ID,
		Type:       models.StreamEventUpdate,
		Timestamp:  time.Now().UTC(),
		Title:      ev.Title,
		Category:   ev.CategoryName,
		CategoryID: ev.CategoryID,
	}); err != nil {
		s.log.Warn("update event not recorded", "error", err)
	}

	s.stream.Title = firstNonEmpty(ev.Title, s.stream.Title)
	s.stream.Category = firstNonEmpty(ev.CategoryName, s.stream.Category)
	s.stream.CategoryID = firstNonEmpty(ev.CategoryID, s.stream.CategoryID)
	s.stream.Language = firstNonEmpty(ev.Language, s.stream.Language)
	if err := s.m.streams.Update(ctx, s.stream); err != nil {
		s.log.Warn("stream update failed", "error", err)
	}
	s.updateChannelInfo(ctx, ev)
}

// updateChannelInfo refreshes the streamer's cached last-known metadata.
func (s *session) updateChannelInfo(ctx context.Context, ev eventsub.EventPayload) {
	if ev.Title == "" && ev.CategoryName == "" {
		return
	}
	if err := s.m.streamers.UpdateChannelInfo(ctx, s.streamer.ID,
		ev.Title, ev.CategoryName, ev.CategoryID, ev.Language); err != nil {
		s.log.Warn("channel info update failed", "error", err)
		return
	}
	s.streamer.LastTitle = firstNonEmpty(ev.Title, s.streamer.LastTitle)
	s.streamer.LastCategory = firstNonEmpty(ev.CategoryName, s.streamer.LastCategory)
	s.streamer.LastCategoryID = firstNonEmpty(ev.CategoryID, s.streamer.LastCategoryID)
	s.streamer.LastLanguage = firstNonEmpty(ev.Language, s.streamer.LastLanguage)
}

func (s *session) markLive(ctx context.Context, live bool) {
	if s.streamer.IsLive == live {
		return
	}
	if err := s.m.streamers.UpdateLiveState(ctx, s.streamer.ID, live); err != nil {
		s.log.Warn("live state update failed", "error", err)
		return
	}
	s.streamer.IsLive = live
}

// beginStop asks the capture child to wind down; finalisation happens when
// the child actually exits.
func (s *session) beginStop(ctx context.Context, reason string) {
	s.log.Info("stopping capture", "reason", reason)
	s.stopRequested = true
	s.offlineAt = time.Now().UTC()
	s.markLive(ctx, false)

	if err := s.m.events.Create(ctx, &models.StreamEvent{
		StreamID:  s.stream.ID,
		Type:      models.StreamEventOffline,
		Timestamp: s.offlineAt,
	}); err != nil {
		s.log.Warn("offline event not recorded", "error", err)
	}

	s.setState(stateStopping)
	handleID := s.handle.ID()
	grace := s.m.cfg.StopTimeout
	go func() {
		_, _ = s.m.runner.Terminate(context.WithoutCancel(ctx), handleID, grace)
	}()
}

func (s *session) onChildExit(ctx context.Context) {
	handle := s.handle
	s.handle = nil
	exitCode := handle.ExitCode()
	s.finalize(ctx, exitCode)
}

// finalize settles the capture attempt: persist the outcome, end the stream
// when the session is over, and hand a usable file to the pipeline.
func (s *session) finalize(ctx context.Context, exitCode int) {
	now := time.Now().UTC()
	s.recording.ExitCode = &exitCode

	size := s.captureSize()
	usable := size >= int64(s.m.cfg.MinCaptureSize)
	graceful := exitCode == 0 || s.stopRequested

	switch {
	case usable:
		s.recording.Bytes = size
		s.recording.MarkCompleted(now)
		if !graceful {
			s.recording.LastError = fmt.Sprintf("capture child exited with code %d", exitCode)
		}
	case s.startTimedOut:
		s.recording.MarkFailed(now, "no capture output before start timeout")
	default:
		s.recording.MarkFailed(now, fmt.Sprintf("capture too small to keep (%d bytes, exit code %d)", size, exitCode))
	}
	if err := s.m.recordings.Update(ctx, s.recording); err != nil {
		s.log.Error("recording update failed", "error", err)
	}

	// A graceful exit ends the stream even without an Offline webhook; the
	// child quitting cleanly means the broadcast is over. A crash leaves the
	// stream open so the next capture attempt rejoins it.
	if graceful {
		endedAt := s.offlineAt
		if endedAt.IsZero() {
			endedAt = now
		}
		if _, err := s.m.streams.End(ctx, s.stream.ID, endedAt); err != nil {
			s.log.Error("stream end failed", "error", err)
		}
	}

	if usable {
		if _, err := s.m.pipeline.Enqueue(ctx, s.recording.ID, s.stream.ID); err != nil {
			s.log.Error("pipeline enqueue failed", "error", err)
		} else if s.m.waker != nil {
			s.m.waker.Wake()
		}
		s.m.notifier.Broadcast(status.TypeRecordingStopped, map[string]any{
			"streamer":     s.streamer.Login,
			"recording_id": s.recording.ID.String(),
			"stream_id":    s.stream.ID.String(),
			"bytes":        size,
			"graceful":     graceful,
		})
		s.log.Info("capture finished", "bytes", size, "exit_code", exitCode, "graceful", graceful)
		s.m.activity.Record("recording finished",
			"streamer", s.streamer.Login,
			"recording_id", s.recording.ID.String(),
			"bytes", size,
			"graceful", graceful,
		)
	} else {
		s.toast("warning", fmt.Sprintf("%s: capture discarded: %s", s.streamer.Login, s.recording.LastError))
		s.log.Warn("capture discarded",
			"bytes", size, "exit_code", exitCode, "error", s.recording.LastError)
		s.m.activity.Record("recording discarded",
			"streamer", s.streamer.Login,
			"recording_id", s.recording.ID.String(),
			"bytes", size,
			"error", s.recording.LastError,
		)
	}

	s.stream = nil
	s.recording = nil
	s.forced = false
	s.stopRequested = false
	s.startTimedOut = false
	s.m.releaseSlot()
	s.enterCooldown()
}

// enterCooldown parks the session so flapping channels cannot thrash
// streamlink spawns.
func (s *session) enterCooldown() {
	s.cooldownUntil = time.Now().Add(s.m.cfg.Cooldown)
	s.setState(stateCooldown)
}

func (s *session) toast(level, message string) {
	s.m.notifier.BroadcastToast(status.Toast{Level: level, Message: message})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
