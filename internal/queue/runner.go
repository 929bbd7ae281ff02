package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// errNoTasks signals an empty poll; the worker sleeps until the next poll
// or an explicit wake.
var errNoTasks = errors.New("no runnable tasks")

// taskCancel tracks the cancel handle of one running task. user records
// whether cancellation was operator-requested, so the executor can tell a
// cancel apart from a shutdown.
type taskCancel struct {
	cancel context.CancelFunc
	user   atomic.Bool
}

// Runner owns the worker pool that drains the task table. Workers poll
// Acquire, gate on dependencies and per-kind slots, and hand runnable tasks
// to the executor.
type Runner struct {
	cfg      config.QueueConfig
	taskRepo repository.TaskRepository
	executor *Executor
	log      *slog.Logger
	workerID string

	cancelMu sync.Mutex
	running  map[models.ULID]*taskCancel

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRunner creates a runner. workerID identifies this process in task
// lock columns; per-worker suffixes are appended internally.
func NewRunner(cfg config.QueueConfig, taskRepo repository.TaskRepository, executor *Executor, workerID string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Minute
	}
	return &Runner{
		cfg:      cfg,
		taskRepo: taskRepo,
		executor: executor,
		log:      observability.WithComponent(log, "queue"),
		workerID: workerID,
		running:  make(map[models.ULID]*taskCancel),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
}

// Start launches the worker pool. Workers run until Stop is called.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.runCtx, r.runCancel = context.WithCancel(context.Background())
		for i := 0; i < r.cfg.Workers; i++ {
			workerID := fmt.Sprintf("%s-%d", r.workerID, i)
			r.wg.Add(1)
			go r.workerLoop(workerID)
		}
		r.log.Info("queue workers started",
			slog.Int("workers", r.cfg.Workers),
			slog.Duration("poll_interval", r.cfg.PollInterval))
	})
}

// Stop drains the pool: no new tasks are accepted, running tasks get the
// shutdown grace to finish, then their contexts are cancelled so the
// executor releases them back to the queue.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(r.cfg.ShutdownGrace):
			r.log.Warn("shutdown grace elapsed, interrupting running tasks",
				slog.Duration("grace", r.cfg.ShutdownGrace))
			r.runCancel()
			<-done
		}
		r.runCancel()
		r.log.Info("queue workers stopped")
	})
}

// Wake nudges an idle worker; called after an enqueue so fresh work does
// not wait out a poll interval.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Cancel cancels a task. Queued tasks flip to cancelled directly; running
// tasks have their context cancelled and transition once the handler
// returns. The bool reports whether the task was found in either state.
func (r *Runner) Cancel(ctx context.Context, id models.ULID) (bool, error) {
	task, err := r.taskRepo.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if task != nil {
		r.executor.NoteCancelled(ctx, task)
		return true, nil
	}

	r.cancelMu.Lock()
	tc, ok := r.running[id]
	r.cancelMu.Unlock()
	if !ok {
		return false, nil
	}
	tc.user.Store(true)
	tc.cancel()
	return true, nil
}

// Retry requeues a terminally failed, cancelled or skipped task with a
// fresh attempt budget.
func (r *Runner) Retry(ctx context.Context, id models.ULID) (*models.Task, error) {
	task, err := r.taskRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	switch task.Status {
	case models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusSkipped:
	default:
		return nil, fmt.Errorf("task %s is %s, only failed, cancelled or skipped tasks can be retried", id, task.Status)
	}

	task.Status = models.TaskStatusQueued
	task.AttemptCount = 0
	task.NextRunAt = nil
	task.FinishedAt = nil
	task.Progress = 0
	task.LastError = ""
	if err := r.taskRepo.Update(ctx, task); err != nil {
		return nil, err
	}
	r.Wake()
	return task, nil
}

// Stats returns queue occupancy grouped by status.
func (r *Runner) Stats(ctx context.Context) (repository.TaskCounts, error) {
	return r.taskRepo.Counts(ctx)
}

func (r *Runner) workerLoop(workerID string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.quit:
			return
		default:
		}

		err := r.runOne(workerID)
		if err == nil {
			continue
		}
		if !errors.Is(err, errNoTasks) {
			r.log.Error("worker iteration failed",
				slog.String("worker", workerID),
				slog.Any("error", err))
		}

		select {
		case <-r.quit:
			return
		case <-r.wake:
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// runOne claims and fully disposes of one task: skip, release, or execute.
func (r *Runner) runOne(workerID string) error {
	ctx := r.runCtx

	task, err := r.taskRepo.Acquire(ctx, workerID)
	if err != nil {
		return err
	}
	if task == nil {
		return errNoTasks
	}

	ready, err := r.gateDependencies(ctx, task)
	if err != nil || !ready {
		return err
	}

	if !r.executor.TryAcquireSlot(task.Kind) {
		// Kind at capacity. Returning the claim keeps the slot free for
		// other kinds instead of parking a worker.
		return r.taskRepo.Release(ctx, task.ID, r.cfg.PollInterval)
	}
	defer r.executor.ReleaseSlot(task.Kind)

	taskCtx, cancel := context.WithCancel(ctx)
	tc := &taskCancel{cancel: cancel}
	r.cancelMu.Lock()
	r.running[task.ID] = tc
	r.cancelMu.Unlock()
	defer func() {
		r.cancelMu.Lock()
		delete(r.running, task.ID)
		r.cancelMu.Unlock()
		cancel()
	}()

	if err := r.executor.Execute(taskCtx, task, tc.user.Load); err != nil {
		return err
	}
	// A finished task may have unblocked dependents.
	if task.Status == models.TaskStatusSucceeded {
		r.Wake()
	}
	return nil
}

// gateDependencies enforces dependency edges on an acquired task. A task
// whose dependencies all succeeded is ready. Any failed, cancelled or
// skipped dependency skips the task, which cascades as its own dependents
// are acquired in turn. Pending dependencies release the claim.
func (r *Runner) gateDependencies(ctx context.Context, task *models.Task) (bool, error) {
	deps, err := task.Dependencies()
	if err != nil {
		task.MarkFailed(fmt.Errorf("unparseable dependency list: %w", err))
		r.executor.finish(ctx, task)
		return false, nil
	}
	if len(deps) == 0 {
		return true, nil
	}

	depTasks, err := r.taskRepo.GetByIDs(ctx, deps)
	if err != nil {
		return false, errors.Join(err, r.taskRepo.Release(ctx, task.ID, r.cfg.PollInterval))
	}

	pending := false
	for _, depID := range deps {
		dep, found := depTasks[depID]
		if !found {
			return false, r.executor.MarkSkipped(ctx, task, "dependency failed")
		}
		switch dep.Status {
		case models.TaskStatusSucceeded:
		case models.TaskStatusFailed, models.TaskStatusCancelled, models.TaskStatusSkipped:
			return false, r.executor.MarkSkipped(ctx, task, "dependency failed")
		default:
			pending = true
		}
	}
	if pending {
		return false, r.taskRepo.Release(ctx, task.ID, r.cfg.PollInterval)
	}
	return true, nil
}
