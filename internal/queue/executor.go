// Package queue runs durable background tasks: a worker pool drains the
// persisted task table in priority order, honouring dependency edges,
// per-kind concurrency caps, retry backoff, and cooperative cancellation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/status"
)

// Task priorities. Pipeline work for a just-finished recording outranks
// cleanup, which outranks scheduled housekeeping.
const (
	PriorityPipeline     = 100
	PriorityCleanup      = 50
	PriorityHousekeeping = 0
)

// progressInterval throttles progress broadcasts per task. Terminal updates
// always pass.
const progressInterval = 200 * time.Millisecond

// terminalError marks a handler failure that must not be retried.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps an error so the executor fails the task immediately,
// regardless of remaining attempts. Used for deterministic failures such as
// validation threshold misses, where retrying cannot change the outcome.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err carries the no-retry marker.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// ProgressFunc reports handler completion; message is optional.
type ProgressFunc func(fraction float64, message string)

// Handler executes one task kind. Handlers must be idempotent: after a
// crash the same task may run again and must converge on the same artefacts.
type Handler interface {
	Execute(ctx context.Context, task *models.Task, progress ProgressFunc) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *models.Task, progress ProgressFunc) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *models.Task, progress ProgressFunc) (string, error) {
	return f(ctx, task, progress)
}

// SkipHandler is implemented by handlers that need to observe their task
// being skipped (e.g. to mark a pipeline step skipped).
type SkipHandler interface {
	Skipped(ctx context.Context, task *models.Task, reason string)
}

// Broadcaster receives queue status envelopes. Satisfied by *status.Hub.
type Broadcaster interface {
	Broadcast(envType string, data any)
}

// Executor maps task kinds to handlers and runs individual tasks through
// their full lifecycle: running → succeeded / retry-queued / failed.
type Executor struct {
	taskRepo    repository.TaskRepository
	log         *slog.Logger
	broadcaster Broadcaster

	mu       sync.RWMutex
	handlers map[models.TaskKind]Handler

	// slots enforces per-kind concurrency caps; kinds without an entry
	// are bounded only by the worker count.
	slots map[models.TaskKind]chan struct{}

	progressMu sync.Mutex
	lastEmit   map[models.ULID]time.Time
}

// NewExecutor creates an executor. kindLimits caps concurrent executions
// per kind, e.g. {"mp4_remux": 2}.
func NewExecutor(taskRepo repository.TaskRepository, kindLimits map[string]int, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	slots := make(map[models.TaskKind]chan struct{}, len(kindLimits))
	for kind, limit := range kindLimits {
		if limit > 0 {
			slots[models.TaskKind(kind)] = make(chan struct{}, limit)
		}
	}
	return &Executor{
		taskRepo: taskRepo,
		log:      observability.WithComponent(log, "queue"),
		handlers: make(map[models.TaskKind]Handler),
		slots:    slots,
		lastEmit: make(map[models.ULID]time.Time),
	}
}

// WithBroadcaster wires status fan-out for progress and stats updates.
func (e *Executor) WithBroadcaster(b Broadcaster) *Executor {
	e.broadcaster = b
	return e
}

// Register binds a handler to a task kind. Registering a kind twice is a
// programmer error.
func (e *Executor) Register(kind models.TaskKind, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.handlers[kind]; dup {
		panic(fmt.Sprintf("queue: handler for %q already registered", kind))
	}
	e.handlers[kind] = handler
}

// Handler returns the registered handler for a kind.
func (e *Executor) Handler(kind models.TaskKind) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[kind]
	return h, ok
}

// TryAcquireSlot claims a per-kind concurrency slot. Kinds without a cap
// always succeed.
func (e *Executor) TryAcquireSlot(kind models.TaskKind) bool {
	slot, capped := e.slots[kind]
	if !capped {
		return true
	}
	select {
	case slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReleaseSlot returns a per-kind slot claimed with TryAcquireSlot.
func (e *Executor) ReleaseSlot(kind models.TaskKind) {
	if slot, capped := e.slots[kind]; capped {
		select {
		case <-slot:
		default:
		}
	}
}

// Execute runs an already-acquired task to a terminal or requeued state.
// The caller owns per-kind slot accounting and dependency gating.
//
// userCancelled reports whether a context cancellation was an operator
// cancel (task → cancelled) rather than a shutdown (task → released).
func (e *Executor) Execute(ctx context.Context, task *models.Task, userCancelled func() bool) error {
	handler, ok := e.Handler(task.Kind)
	if !ok {
		task.MarkFailed(fmt.Errorf("no handler registered for kind %q", task.Kind))
		e.finish(ctx, task)
		return fmt.Errorf("no handler for kind %q", task.Kind)
	}

	log := e.log.With(
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.Int("attempt", task.AttemptCount))
	log.Debug("task started")

	result, err := handler.Execute(ctx, task, e.progressFunc(task))

	e.progressMu.Lock()
	delete(e.lastEmit, task.ID)
	e.progressMu.Unlock()

	switch {
	case err == nil:
		task.MarkSucceeded(result)
		log.Info("task succeeded", slog.Int64("duration_ms", durationSince(task.StartedAt)))

	case ctx.Err() != nil && userCancelled != nil && userCancelled():
		task.MarkCancelled()
		log.Info("task cancelled")

	case ctx.Err() != nil:
		// Shutdown interrupted the attempt: hand the claim back without
		// charging an attempt. Recovery requeues anything still marked
		// running after a hard crash.
		log.Info("task released on shutdown")
		return e.taskRepo.Release(context.WithoutCancel(ctx), task.ID, 0)

	case task.CanRetry() && !IsTerminal(err):
		task.ScheduleRetry(err)
		log.Warn("task attempt failed, retrying",
			slog.Any("error", err),
			slog.Time("next_run_at", *task.NextRunAt))
		if updateErr := e.taskRepo.Update(ctx, task); updateErr != nil {
			return errors.Join(err, updateErr)
		}
		e.recordHistory(ctx, task, models.TaskStatusFailed, err)
		e.emitProgress(task, task.Progress, "retry scheduled", true)
		return nil

	default:
		task.MarkFailed(err)
		log.Error("task failed terminally", slog.Any("error", err))
	}

	e.finish(ctx, task)
	return nil
}

// MarkSkipped transitions a task to skipped, notifying the handler so
// dependent state (pipeline steps) follows.
func (e *Executor) MarkSkipped(ctx context.Context, task *models.Task, reason string) error {
	task.MarkSkipped(reason)
	if err := e.taskRepo.Update(ctx, task); err != nil {
		return fmt.Errorf("marking task skipped: %w", err)
	}
	e.recordHistory(ctx, task, models.TaskStatusSkipped, errors.New(reason))

	if h, ok := e.Handler(task.Kind); ok {
		if sh, ok := h.(SkipHandler); ok {
			sh.Skipped(ctx, task, reason)
		}
	}

	e.log.Info("task skipped",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.String("reason", reason))
	e.broadcastStats(ctx)
	return nil
}

// NoteCancelled records history and stats for a task cancelled while still
// queued; running tasks go through Execute instead.
func (e *Executor) NoteCancelled(ctx context.Context, task *models.Task) {
	e.recordHistory(ctx, task, models.TaskStatusCancelled, nil)
	e.log.Info("queued task cancelled",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)))
	e.broadcastStats(ctx)
}

// finish persists a terminal task state, its history row, and the stats
// broadcast.
func (e *Executor) finish(ctx context.Context, task *models.Task) {
	// Persist with a detached context: a terminal transition must land
	// even when the triggering context is gone.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.taskRepo.Update(persistCtx, task); err != nil {
		e.log.Error("persisting task state failed",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", err))
		return
	}

	var histErr error
	if task.LastError != "" {
		histErr = errors.New(task.LastError)
	}
	e.recordHistory(persistCtx, task, task.Status, histErr)
	e.emitProgress(task, task.Progress, string(task.Status), true)
	e.broadcastStats(persistCtx)
}

func (e *Executor) recordHistory(ctx context.Context, task *models.Task, taskStatus models.TaskStatus, err error) {
	history := models.NewTaskHistory(task)
	history.Status = taskStatus
	if err != nil {
		history.Error = err.Error()
	}
	if createErr := e.taskRepo.CreateHistory(ctx, history); createErr != nil {
		e.log.Warn("recording task history failed",
			slog.String("task_id", task.ID.String()),
			slog.Any("error", createErr))
	}
}

// progressFunc builds the throttled progress callback handed to a handler.
func (e *Executor) progressFunc(task *models.Task) ProgressFunc {
	return func(fraction float64, message string) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		task.Progress = fraction
		if err := e.taskRepo.UpdateProgress(context.Background(), task.ID, fraction); err != nil {
			e.log.Debug("progress update failed", slog.Any("error", err))
		}
		e.emitProgress(task, fraction, message, fraction >= 1)
	}
}

// emitProgress broadcasts a task progress update, throttled per task.
func (e *Executor) emitProgress(task *models.Task, fraction float64, message string, force bool) {
	if e.broadcaster == nil {
		return
	}

	if !force {
		e.progressMu.Lock()
		last, ok := e.lastEmit[task.ID]
		now := time.Now()
		if ok && now.Sub(last) < progressInterval {
			e.progressMu.Unlock()
			return
		}
		e.lastEmit[task.ID] = now
		e.progressMu.Unlock()
	}

	e.broadcaster.Broadcast(status.TypeTaskProgressUpdate, map[string]any{
		"task_id":      task.ID.String(),
		"kind":         task.Kind,
		"recording_id": task.RecordingID.String(),
		"status":       task.Status,
		"progress":     fraction,
		"message":      message,
	})
}

func (e *Executor) broadcastStats(ctx context.Context) {
	if e.broadcaster == nil {
		return
	}
	counts, err := e.taskRepo.Counts(ctx)
	if err != nil {
		e.log.Debug("queue stats fetch failed", slog.Any("error", err))
		return
	}
	e.broadcaster.Broadcast(status.TypeQueueStatsUpdate, counts)
}

func durationSince(t *models.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}
