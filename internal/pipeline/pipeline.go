// Package pipeline turns a finished capture into library-ready artefacts:
// remux to MP4, validate the result, write metadata and chapter sidecars,
// produce a thumbnail, and clean up the intermediate transport stream. Each
// step is a durable queue task; the DAG between them lives in the task
// dependency edges created at enqueue time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/status"
	"github.com/jmylchreest/vodarr/internal/supervisor"
)

// Notifier receives pipeline status envelopes. Satisfied by *status.Hub.
type Notifier interface {
	Broadcast(envType string, data any)
	BroadcastProcessingDelta(recordingID string, data any)
	BroadcastToast(toast status.Toast)
}

// ProcessRunner spawns converter children and scans for writers holding
// capture files. Satisfied by *supervisor.Supervisor.
type ProcessRunner interface {
	Run(ctx context.Context, spec supervisor.Spec) (int, error)
	FindByCommandSubstring(ctx context.Context, substr string) ([]supervisor.ProcessInfo, error)
}

// PreviewFetcher downloads the platform's live preview image for a
// broadcaster. Satisfied by *artwork.Fetcher.
type PreviewFetcher interface {
	FetchPreview(ctx context.Context, twitchID, dest string) error
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Config   *config.Config
	Layout   *layout.Layout
	Procs    ProcessRunner
	Prober   *media.Prober
	Notifier Notifier
	Resolver *resolver.Resolver

	// Previews, when set, sources the live preview frame from the
	// platform CDN before falling back to capture frame extraction.
	Previews PreviewFetcher

	Recordings repository.RecordingRepository
	Streams    repository.StreamRepository
	Streamers  repository.StreamerRepository
	Events     repository.StreamEventRepository
	Processing repository.ProcessingRepository
	Metadata   repository.MetadataRepository
	Tasks      repository.TaskRepository

	// Rescan is signalled after a successful cleanup so the recovery
	// coordinator re-examines the recordings root.
	Rescan chan<- struct{}

	Log *slog.Logger
}

// Pipeline owns post-processing for finished recordings.
type Pipeline struct {
	cfg      *config.Config
	layout   *layout.Layout
	procs    ProcessRunner
	prober   *media.Prober
	notifier Notifier
	resolver *resolver.Resolver
	previews PreviewFetcher

	recordings repository.RecordingRepository
	streams    repository.StreamRepository
	streamers  repository.StreamerRepository
	events     repository.StreamEventRepository
	processing repository.ProcessingRepository
	metadata   repository.MetadataRepository
	tasks      repository.TaskRepository

	rescan chan<- struct{}
	log    *slog.Logger
}

// New creates a Pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:        deps.Config,
		layout:     deps.Layout,
		procs:      deps.Procs,
		prober:     deps.Prober,
		notifier:   deps.Notifier,
		resolver:   deps.Resolver,
		previews:   deps.Previews,
		recordings: deps.Recordings,
		streams:    deps.Streams,
		streamers:  deps.Streamers,
		events:     deps.Events,
		processing: deps.Processing,
		metadata:   deps.Metadata,
		tasks:      deps.Tasks,
		rescan:     deps.Rescan,
		log:        observability.WithComponent(log, "pipeline"),
	}
}

// Register binds every pipeline task kind to the queue executor.
func (p *Pipeline) Register(executor *queue.Executor) {
	executor.Register(models.TaskKindMp4Remux, p.step(models.StepMp4Remux, p.runRemux))
	executor.Register(models.TaskKindMp4Validation, p.step(models.StepMp4Validation, p.runValidation))
	executor.Register(models.TaskKindMetadataGen, p.step(models.StepMetadata, p.runMetadata))
	executor.Register(models.TaskKindChaptersGen, p.step(models.StepChapters, p.runChapters))
	executor.Register(models.TaskKindThumbnail, p.step(models.StepThumbnail, p.runThumbnail))
	executor.Register(models.TaskKindCleanup, p.step(models.StepCleanup, p.runCleanup))

	executor.Register(models.TaskKindThumbnailPreview, queue.HandlerFunc(p.runThumbnailPreview))
	executor.Register(models.TaskKindStreamDeletionCleanup, queue.HandlerFunc(p.runStreamDeletion))
	executor.Register(models.TaskKindLogRetention, queue.HandlerFunc(p.runLogRetention))
}

// Enqueue creates the post-processing DAG for a finished recording:
// remux → validation → {metadata, chapters} → thumbnail → cleanup.
// Tasks are created in one batch so dependency edges never dangle.
func (p *Pipeline) Enqueue(ctx context.Context, recordingID, streamID models.ULID) ([]*models.Task, error) {
	if _, err := p.processing.GetOrCreate(ctx, recordingID); err != nil {
		return nil, fmt.Errorf("creating processing state: %w", err)
	}

	newTask := func(kind models.TaskKind, priority int, deps ...models.ULID) *models.Task {
		t := &models.Task{
			Kind:        kind,
			RecordingID: recordingID,
			StreamID:    streamID,
			Status:      models.TaskStatusQueued,
			Priority:    priority,
			MaxAttempts: p.cfg.Queue.MaxAttempts,
		}
		// IDs assigned up front so dependents can reference them inside
		// the same batch.
		t.ID = models.NewULID()
		if err := t.SetDependencies(deps); err != nil {
			panic(err) // ULID slices always marshal
		}
		return t
	}

	remux := newTask(models.TaskKindMp4Remux, queue.PriorityPipeline)
	validation := newTask(models.TaskKindMp4Validation, queue.PriorityPipeline, remux.ID)
	metadata := newTask(models.TaskKindMetadataGen, queue.PriorityPipeline, validation.ID)
	chapters := newTask(models.TaskKindChaptersGen, queue.PriorityPipeline, validation.ID)
	thumbnail := newTask(models.TaskKindThumbnail, queue.PriorityPipeline, metadata.ID, chapters.ID)
	cleanup := newTask(models.TaskKindCleanup, queue.PriorityCleanup, thumbnail.ID)

	batch := []*models.Task{remux, validation, metadata, chapters, thumbnail, cleanup}
	if err := p.tasks.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("enqueueing pipeline: %w", err)
	}

	p.log.Info("pipeline enqueued",
		slog.String("recording_id", recordingID.String()),
		slog.String("stream_id", streamID.String()))
	return batch, nil
}

// job carries the entities every step operates on.
type job struct {
	task      *models.Task
	recording *models.Recording
	stream    *models.Stream
	streamer  *models.Streamer
}

// tsPath returns the capture transport stream path.
func (j *job) tsPath() string { return j.recording.Path }

// basePath returns the episode base path without extension.
func (j *job) basePath() string { return strings.TrimSuffix(j.recording.Path, ".ts") }

// mp4Path returns the final MP4 path.
func (j *job) mp4Path() string { return j.basePath() + ".mp4" }

// previewPath returns where the live preview frame is captured.
func (j *job) previewPath() string { return j.basePath() + "-preview.jpg" }

func (p *Pipeline) loadJob(ctx context.Context, task *models.Task) (*job, error) {
	recording, err := p.recordings.GetByID(ctx, task.RecordingID)
	if err != nil {
		return nil, err
	}
	if recording == nil {
		return nil, queue.Terminal(fmt.Errorf("recording %s not found", task.RecordingID))
	}
	stream, err := p.streams.GetByID(ctx, recording.StreamID)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, queue.Terminal(fmt.Errorf("stream %s not found", recording.StreamID))
	}
	streamer, err := p.streamers.GetByID(ctx, stream.StreamerID)
	if err != nil {
		return nil, err
	}
	if streamer == nil {
		return nil, queue.Terminal(fmt.Errorf("streamer %s not found", stream.StreamerID))
	}
	return &job{task: task, recording: recording, stream: stream, streamer: streamer}, nil
}

// stepFunc is the work of one pipeline step once its job is loaded.
type stepFunc func(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error)

// stepHandler adapts a stepFunc into a queue handler that keeps the
// per-recording processing state and status broadcasts in sync.
type stepHandler struct {
	p    *Pipeline
	step models.Step
	run  stepFunc
}

func (p *Pipeline) step(step models.Step, run stepFunc) *stepHandler {
	return &stepHandler{p: p, step: step, run: run}
}

// Execute implements queue.Handler.
func (h *stepHandler) Execute(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	j, err := h.p.loadJob(ctx, task)
	if err != nil {
		return "", err
	}

	h.p.setStep(ctx, task.RecordingID, h.step, models.StepRunning, "")

	result, err := h.run(ctx, j, progress)
	if err != nil {
		h.p.setStep(context.WithoutCancel(ctx), task.RecordingID, h.step, models.StepFailed, err.Error())
		if !task.CanRetry() || queue.IsTerminal(err) {
			h.p.notifier.BroadcastToast(status.Toast{
				Level:       "error",
				Message:     fmt.Sprintf("%s failed for %s: %v", h.step, j.streamer.Login, err),
				StreamerID:  j.streamer.ID.String(),
				RecordingID: j.recording.ID.String(),
			})
		}
		return "", err
	}

	h.p.setStep(ctx, task.RecordingID, h.step, models.StepCompleted, "")
	return result, nil
}

// Skipped implements queue.SkipHandler: a skipped task marks its step
// skipped so the processing state mirrors the task DAG.
func (h *stepHandler) Skipped(ctx context.Context, task *models.Task, reason string) {
	h.p.setStep(ctx, task.RecordingID, h.step, models.StepSkipped, reason)
}

// setStep persists a step transition and broadcasts the resulting state.
func (p *Pipeline) setStep(ctx context.Context, recordingID models.ULID, step models.Step, stepStatus models.StepStatus, lastError string) {
	state, err := p.processing.SetStep(ctx, recordingID, step, stepStatus, lastError)
	if err != nil {
		p.log.Error("updating processing step failed",
			slog.String("recording_id", recordingID.String()),
			slog.String("step", string(step)),
			slog.String("status", string(stepStatus)),
			slog.Any("error", err))
		return
	}
	p.notifier.BroadcastProcessingDelta(recordingID.String(), state)
}

// ffmpegPath returns the configured ffmpeg binary, defaulting to PATH lookup.
func (p *Pipeline) ffmpegPath() string {
	if p.cfg.Tools.FFmpegPath != "" {
		return p.cfg.Tools.FFmpegPath
	}
	return "ffmpeg"
}

// runTool executes a converter command under the supervisor, logging to the
// per-streamer ffmpeg log partition.
func (p *Pipeline) runTool(ctx context.Context, j *job, op string, cmd *media.Command) error {
	spec := supervisor.Spec{
		Name:    fmt.Sprintf("ffmpeg-%s-%s", op, j.streamer.Login),
		Command: cmd.Binary,
		Args:    cmd.Args,
		LogPath: p.layout.FFmpegLogPath(j.streamer.Login, op, time.Now()),
	}
	exitCode, err := p.procs.Run(ctx, spec)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%s exited with code %d (log: %s)", op, exitCode, filepath.Base(spec.LogPath))
	}
	return nil
}

// triggerRescan nudges the recovery coordinator without blocking.
func (p *Pipeline) triggerRescan() {
	if p.rescan == nil {
		return
	}
	select {
	case p.rescan <- struct{}{}:
	default:
	}
}
