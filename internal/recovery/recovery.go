// Package recovery brings a restarted daemon back in line with reality:
// captures interrupted by the crash are salvaged or discarded, in-flight
// tasks are rehydrated, live flags are reconciled against Helix, and stray
// intermediates are swept from the recordings root.
package recovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/eventsub"
	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/supervisor"
	"github.com/jmylchreest/vodarr/internal/twitch"
)

// tempFileMaxAge is how old a remux .tmp leftover must be before the sweep
// removes it; younger files may belong to an in-flight remux.
const tempFileMaxAge = time.Hour

// intermediateMaxAge bounds how long preview/frame intermediates may outlive
// their session before the hourly scan reclaims them.
const intermediateMaxAge = 24 * time.Hour

// subscriptionWorkers bounds concurrent Helix subscription repairs.
const subscriptionWorkers = 4

// ProcessScanner checks for live writers of a capture file. Satisfied by
// *supervisor.Supervisor.
type ProcessScanner interface {
	FindByCommandSubstring(ctx context.Context, substr string) ([]supervisor.ProcessInfo, error)
}

// TwitchAPI is the slice of the Helix client recovery needs.
type TwitchAPI interface {
	GetStreams(ctx context.Context, userIDs ...string) ([]twitch.Stream, error)
	ListEventSubSubscriptions(ctx context.Context) ([]twitch.Subscription, error)
	CreateEventSubSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) (*twitch.Subscription, error)
}

// Enqueuer hands salvaged captures to the post-processing pipeline.
// Satisfied by *pipeline.Pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, recordingID, streamID models.ULID) ([]*models.Task, error)
}

// LiveHandler receives synthesized online inputs for sessions whose webhook
// was missed. Satisfied by *recorder.Manager.
type LiveHandler interface {
	Online(streamer *models.Streamer, ev eventsub.EventPayload)
}

// Scheduler creates deduplicated housekeeping tasks. Satisfied by
// *queue.Scheduler.
type Scheduler interface {
	ScheduleImmediate(ctx context.Context, kind models.TaskKind, payload any) (*models.Task, error)
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Server    config.ServerConfig
	Twitch    config.TwitchConfig
	Recording config.RecordingConfig
	Root      string

	Procs     ProcessScanner
	API       TwitchAPI
	Pipeline  Enqueuer
	Recorder  LiveHandler
	Scheduler Scheduler

	Streamers  repository.StreamerRepository
	Streams    repository.StreamRepository
	Recordings repository.RecordingRepository
	Tasks      repository.TaskRepository

	// Rescan is signalled by the pipeline after cleanups; each signal
	// schedules an orphan scan.
	Rescan <-chan struct{}

	Log *slog.Logger
}

// Coordinator owns startup recovery and the periodic orphan bookkeeping.
type Coordinator struct {
	deps Deps
	log  *slog.Logger

	minCaptureSize int64
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	minSize := int64(deps.Recording.MinCaptureSize)
	if minSize <= 0 {
		minSize = 1024 * 1024
	}
	return &Coordinator{
		deps:           deps,
		log:            observability.WithComponent(log, "recovery"),
		minCaptureSize: minSize,
	}
}

// Register binds the recurring recovery task kinds to the queue executor.
func (c *Coordinator) Register(executor *queue.Executor) {
	executor.Register(models.TaskKindOrphanScan, queue.HandlerFunc(c.runOrphanScan))
	executor.Register(models.TaskKindReconcileLive, queue.HandlerFunc(c.runReconcileLive))
}

// Recover runs the startup sequence. It must complete before EventSub
// intake starts so webhook-driven state never races the sweep.
func (c *Coordinator) Recover(ctx context.Context) error {
	salvaged, discarded, err := c.sweepOrphanedRecordings(ctx)
	if err != nil {
		return fmt.Errorf("sweeping orphaned recordings: %w", err)
	}

	requeued, err := c.deps.Tasks.RequeueRunning(ctx)
	if err != nil {
		return fmt.Errorf("rehydrating tasks: %w", err)
	}

	tmp := c.removeStaleTempFiles()

	if _, err := c.deps.Scheduler.ScheduleImmediate(ctx, models.TaskKindReconcileLive, nil); err != nil {
		c.log.Warn("live reconcile not scheduled", "error", err)
	}

	if err := c.verifySubscriptions(ctx); err != nil {
		// Helix being down must not keep the daemon from starting; the
		// weekly refresh and streamer edits retry subscription repair.
		c.log.Warn("subscription verification incomplete", "error", err)
	}

	c.log.Info("startup recovery complete",
		"salvaged", salvaged, "discarded", discarded,
		"tasks_requeued", requeued, "temp_files_removed", tmp)
	return nil
}

// Run consumes rescan signals until the context ends. Each signal schedules
// one orphan scan; the scheduler deduplicates bursts.
func (c *Coordinator) Run(ctx context.Context) {
	if c.deps.Rescan == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.deps.Rescan:
			if _, err := c.deps.Scheduler.ScheduleImmediate(ctx, models.TaskKindOrphanScan, nil); err != nil {
				c.log.Warn("orphan scan not scheduled", "error", err)
			}
		}
	}
}

// sweepOrphanedRecordings settles every recording left in the recording
// state by a crash: big enough captures with sane transport packets are
// completed and queued for processing, the rest are marked failed.
func (c *Coordinator) sweepOrphanedRecordings(ctx context.Context) (salvaged, discarded int, err error) {
	orphans, err := c.deps.Recordings.ListActive(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	for _, rec := range orphans {
		writers, err := c.deps.Procs.FindByCommandSubstring(ctx, rec.Path)
		if err == nil && len(writers) > 0 {
			// A capture child survived the restart (e.g. supervisor-only
			// crash); leave it alone rather than yanking the file away.
			c.log.Warn("capture still has a writer, skipping",
				"path", rec.Path, "pid", writers[0].PID)
			continue
		}

		if c.salvageable(ctx, rec.Path) {
			rec.MarkCompleted(now)
			if err := c.deps.Recordings.Update(ctx, rec); err != nil {
				return salvaged, discarded, err
			}
			if _, err := c.deps.Streams.End(ctx, rec.StreamID, now); err != nil {
				c.log.Warn("stream end failed", "stream_id", rec.StreamID, "error", err)
			}
			if _, err := c.deps.Pipeline.Enqueue(ctx, rec.ID, rec.StreamID); err != nil {
				c.log.Error("pipeline enqueue failed for salvaged capture",
					"recording_id", rec.ID, "error", err)
			}
			salvaged++
			c.log.Info("salvaged interrupted capture", "path", rec.Path)
		} else {
			rec.MarkFailed(now, "interrupted by restart")
			if err := c.deps.Recordings.Update(ctx, rec); err != nil {
				return salvaged, discarded, err
			}
			discarded++
			c.log.Info("discarded interrupted capture", "path", rec.Path)
		}
	}
	return salvaged, discarded, nil
}

// salvageable reports whether an interrupted capture is worth processing:
// large enough, and its transport stream actually carries timed packets.
func (c *Coordinator) salvageable(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < c.minCaptureSize {
		return false
	}
	if err := media.QuickScanTS(ctx, path); err != nil {
		c.log.Warn("capture failed transport scan", "path", path, "error", err)
		return false
	}
	return true
}

// removeStaleTempFiles deletes remux .tmp leftovers old enough that no
// in-flight remux can own them.
func (c *Coordinator) removeStaleTempFiles() int {
	return c.sweepFiles(func(path string, info fs.FileInfo) bool {
		return strings.HasSuffix(path, ".mp4.tmp") &&
			time.Since(info.ModTime()) > tempFileMaxAge
	})
}

// sweepFiles walks the recordings root removing files the predicate selects.
func (c *Coordinator) sweepFiles(remove func(path string, info fs.FileInfo) bool) int {
	removed := 0
	_ = filepath.WalkDir(c.deps.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if remove(path, info) {
			if err := os.Remove(path); err == nil {
				removed++
				c.log.Debug("removed stale file", "path", path)
			}
		}
		return nil
	})
	return removed
}

// runOrphanScan is the hourly (and post-cleanup) sweep for files no session
// owns anymore: stale remux temps and aged preview/frame intermediates.
func (c *Coordinator) runOrphanScan(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	tmp := c.removeStaleTempFiles()
	progress(0.5, "temp files swept")

	intermediates := c.sweepFiles(func(path string, info fs.FileInfo) bool {
		base := filepath.Base(path)
		if !strings.HasSuffix(base, "-preview.jpg") &&
			!strings.HasSuffix(base, "-frame.jpg") &&
			!strings.HasSuffix(base, "-frame-ok.jpg") {
			return false
		}
		return time.Since(info.ModTime()) > intermediateMaxAge
	})

	return fmt.Sprintf("removed %d temp files, %d stale intermediates", tmp, intermediates), nil
}

// runReconcileLive re-reads actual live state from Helix: stale live flags
// are cleared (and their open streams ended), and enabled streamers that are
// live without a session get a synthesized online input.
func (c *Coordinator) runReconcileLive(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	streamers, err := c.deps.Streamers.GetAll(ctx)
	if err != nil {
		return "", err
	}
	if len(streamers) == 0 {
		return "no streamers", nil
	}

	ids := make([]string, 0, len(streamers))
	for _, s := range streamers {
		ids = append(ids, s.TwitchID)
	}
	liveStreams, err := c.deps.API.GetStreams(ctx, ids...)
	if err != nil {
		return "", err
	}
	liveByID := make(map[string]*twitch.Stream, len(liveStreams))
	for i := range liveStreams {
		if liveStreams[i].IsLive() {
			liveByID[liveStreams[i].UserID] = &liveStreams[i]
		}
	}
	progress(0.3, "live state fetched")

	cleared, synthesized := 0, 0
	for _, streamer := range streamers {
		live, isLive := liveByID[streamer.TwitchID]

		if streamer.IsLive && !isLive {
			if err := c.deps.Streamers.UpdateLiveState(ctx, streamer.ID, false); err != nil {
				return "", err
			}
			c.endOpenStream(ctx, streamer.ID)
			cleared++
			continue
		}

		// Missed online webhook: the channel is live but nothing here
		// noticed. The recorder dedupes if a session is already active.
		if isLive && streamer.RecordingEnabled() && c.deps.Recorder != nil {
			c.deps.Recorder.Online(streamer, eventsub.EventPayload{
				ID:                   live.ID,
				BroadcasterUserID:    streamer.TwitchID,
				BroadcasterUserLogin: streamer.Login,
				BroadcasterUserName:  streamer.DisplayName,
				StartedAt:            live.StartedAt,
			})
			synthesized++
		}
	}

	return fmt.Sprintf("cleared %d stale live flags, synthesized %d online inputs",
		cleared, synthesized), nil
}

// endOpenStream closes the streamer's dangling live session, if any.
func (c *Coordinator) endOpenStream(ctx context.Context, streamerID models.ULID) {
	recent, err := c.deps.Streams.RecentByStreamer(ctx, streamerID, 1)
	if err != nil || len(recent) == 0 || !recent[0].IsLive() {
		return
	}
	if _, err := c.deps.Streams.End(ctx, recent[0].ID, time.Now().UTC()); err != nil {
		c.log.Warn("open stream not ended", "stream_id", recent[0].ID, "error", err)
	}
}

// verifySubscriptions makes sure every streamer still has its three enabled
// EventSub subscriptions, recreating any Helix dropped.
func (c *Coordinator) verifySubscriptions(ctx context.Context) error {
	if c.deps.API == nil {
		return nil
	}
	callback := c.deps.Server.CallbackURL()
	if callback == "" {
		c.log.Warn("no public URL configured, skipping subscription verification")
		return nil
	}

	subs, err := c.deps.API.ListEventSubSubscriptions(ctx)
	if err != nil {
		return err
	}
	enabled := make(map[string]bool, len(subs))
	for _, sub := range subs {
		enabled[sub.ID] = sub.IsEnabled()
	}

	streamers, err := c.deps.Streamers.GetAll(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(subscriptionWorkers)
	for _, streamer := range streamers {
		g.Go(func() error {
			return c.repairStreamerSubscriptions(gctx, streamer, enabled, callback)
		})
	}
	return g.Wait()
}

func (c *Coordinator) repairStreamerSubscriptions(ctx context.Context, streamer *models.Streamer, enabled map[string]bool, callback string) error {
	wanted := []struct {
		subType string
		id      *string
	}{
		{twitch.SubTypeStreamOnline, &streamer.EventSubOnlineID},
		{twitch.SubTypeStreamOffline, &streamer.EventSubOfflineID},
		{twitch.SubTypeChannelUpdate, &streamer.EventSubUpdateID},
	}

	changed := false
	for _, w := range wanted {
		if *w.id != "" && enabled[*w.id] {
			continue
		}
		sub, err := c.deps.API.CreateEventSubSubscription(ctx, w.subType,
			streamer.TwitchID, callback, c.deps.Twitch.WebhookSecret)
		if err != nil {
			return fmt.Errorf("recreating %s for %s: %w", w.subType, streamer.Login, err)
		}
		*w.id = sub.ID
		changed = true
		c.log.Info("recreated eventsub subscription",
			"streamer", streamer.Login, "type", w.subType)
	}

	if changed {
		return c.deps.Streamers.Update(ctx, streamer)
	}
	return nil
}
