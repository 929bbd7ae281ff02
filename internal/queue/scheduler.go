package queue

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// Housekeeping cadences.
const (
	scheduleLogRetention   = "30 3 * * *" // daily 03:30
	scheduleOrphanScan     = "0 * * * *"  // hourly
	scheduleArtworkRefresh = "0 4 * * 1"  // weekly, Monday 04:00
)

// Scheduler enqueues recurring housekeeping tasks on cron cadences and
// supports out-of-band immediate scheduling. Duplicate pending tasks of the
// same kind are never enqueued twice.
type Scheduler struct {
	taskRepo repository.TaskRepository
	runner   *Runner
	log      *slog.Logger
	cron     *cron.Cron
}

// NewScheduler creates the housekeeping scheduler.
func NewScheduler(taskRepo repository.TaskRepository, runner *Runner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		taskRepo: taskRepo,
		runner:   runner,
		log:      observability.WithComponent(log, "scheduler"),
		cron:     cron.New(),
	}
}

// Start registers the housekeeping entries and starts the cron loop.
func (s *Scheduler) Start() error {
	entries := []struct {
		spec string
		kind models.TaskKind
	}{
		{scheduleLogRetention, models.TaskKindLogRetention},
		{scheduleOrphanScan, models.TaskKindOrphanScan},
		{scheduleArtworkRefresh, models.TaskKindArtworkRefresh},
	}
	for _, entry := range entries {
		kind := entry.kind
		if _, err := s.cron.AddFunc(entry.spec, func() {
			if _, err := s.ScheduleImmediate(context.Background(), kind, nil); err != nil {
				s.log.Error("scheduling housekeeping task failed",
					slog.String("kind", string(kind)),
					slog.Any("error", err))
			}
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info("housekeeping schedules registered", slog.Int("entries", len(entries)))
	return nil
}

// Stop stops the cron loop; already-enqueued tasks keep running.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleImmediate enqueues a housekeeping task right away unless an
// identical one is already queued or running. Returns the enqueued task, or
// nil when a duplicate suppressed it.
func (s *Scheduler) ScheduleImmediate(ctx context.Context, kind models.TaskKind, payload any) (*models.Task, error) {
	existing, err := s.taskRepo.FindDuplicatePending(ctx, kind, models.ULID{})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Debug("housekeeping task already pending",
			slog.String("kind", string(kind)),
			slog.String("task_id", existing.ID.String()))
		return nil, nil
	}

	task := &models.Task{
		Kind:        kind,
		Status:      models.TaskStatusQueued,
		Priority:    PriorityHousekeeping,
		MaxAttempts: 1,
	}
	if payload != nil {
		if err := task.SetPayload(payload); err != nil {
			return nil, err
		}
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	s.log.Info("housekeeping task enqueued",
		slog.String("kind", string(kind)),
		slog.String("task_id", task.ID.String()))
	s.runner.Wake()
	return task, nil
}
