package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
)

// writerPollInterval paces the wait for processes still holding the
// capture or remux output.
const writerPollInterval = 10 * time.Second

// runCleanup removes the intermediate transport stream once the MP4 is
// validated and no process still writes either file. It then applies the
// streamer's retention bound and signals an orphan rescan.
func (p *Pipeline) runCleanup(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	state, err := p.processing.GetByRecording(ctx, j.recording.ID)
	if err != nil {
		return "", err
	}
	if state == nil || state.Mp4Validation != models.StepCompleted {
		return "", queue.Terminal(recerr.New(recerr.KindCleanup, "pipeline.cleanup",
			"refusing to delete capture: validation did not complete"))
	}

	if err := p.waitForWriters(ctx, j.tsPath(), j.mp4Path()); err != nil {
		return "", recerr.Wrap(recerr.KindCleanup, "pipeline.cleanup", err)
	}
	progress(0.5, "no writers")

	if err := os.Remove(j.tsPath()); err != nil && !os.IsNotExist(err) {
		return "", recerr.Wrap(recerr.KindCleanup, "pipeline.cleanup", err)
	}
	// Preview and extraction intermediates go with the TS.
	_ = os.Remove(j.previewPath())
	_ = os.Remove(j.basePath() + "-frame-ok.jpg")

	pruned, err := p.applyRetention(ctx, j)
	if err != nil {
		p.log.Warn("retention pruning failed",
			"streamer", j.streamer.Login, "error", err)
	}

	p.triggerRescan()
	if pruned > 0 {
		return fmt.Sprintf("capture removed, %d old streams queued for deletion", pruned), nil
	}
	return "capture removed", nil
}

// waitForWriters blocks until no process references either path, polling up
// to the configured writer wait budget.
func (p *Pipeline) waitForWriters(ctx context.Context, paths ...string) error {
	poll := writerPollInterval
	if p.cfg.Cleanup.WriterWait < poll {
		poll = p.cfg.Cleanup.WriterWait
	}
	deadline := time.Now().Add(p.cfg.Cleanup.WriterWait)
	for {
		writers, err := p.findWriters(ctx, paths)
		if err != nil {
			return err
		}
		if len(writers) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gave up waiting for writers after %s: %s",
				p.cfg.Cleanup.WriterWait, strings.Join(writers, ", "))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (p *Pipeline) findWriters(ctx context.Context, paths []string) ([]string, error) {
	var writers []string
	for _, path := range paths {
		procs, err := p.procs.FindByCommandSubstring(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, proc := range procs {
			writers = append(writers, fmt.Sprintf("%s (pid %d)", proc.Cmdline, proc.PID))
		}
	}
	return writers, nil
}

// applyRetention enqueues deletion cleanups for the oldest streams beyond
// the streamer's retention bound. Returns how many streams were queued.
func (p *Pipeline) applyRetention(ctx context.Context, j *job) (int, error) {
	effective, err := p.resolver.Resolve(ctx, j.streamer.ID)
	if err != nil {
		return 0, err
	}
	if effective.MaxStreams <= 0 {
		return 0, nil
	}

	count, err := p.streams.CountByStreamer(ctx, j.streamer.ID)
	if err != nil {
		return 0, err
	}
	excess := int(count) - effective.MaxStreams
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := p.streams.OldestByStreamer(ctx, j.streamer.ID, excess)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, old := range oldest {
		if old.ID == j.stream.ID || old.IsLive() {
			continue
		}
		task := &models.Task{
			Kind:        models.TaskKindStreamDeletionCleanup,
			StreamID:    old.ID,
			Status:      models.TaskStatusQueued,
			Priority:    queue.PriorityCleanup,
			MaxAttempts: 1,
		}
		if err := p.tasks.Create(ctx, task); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// runStreamDeletion removes every artefact of a stream, then the stream row
// itself. Unlike post-processing cleanup this is unconditional; it backs
// both operator deletes and retention pruning.
func (p *Pipeline) runStreamDeletion(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	stream, err := p.streams.GetByID(ctx, task.StreamID)
	if err != nil {
		return "", err
	}
	if stream == nil {
		return "stream already gone", nil
	}

	recordings, err := p.recordings.ListByStream(ctx, stream.ID)
	if err != nil {
		return "", err
	}

	var targets []string
	if stream.RecordingPath != "" {
		base := strings.TrimSuffix(stream.RecordingPath, ".mp4")
		targets = append(targets, stream.RecordingPath,
			base+".info.json", base+".nfo", base+".jpg", base+"-thumb.jpg",
			base+".chapters.vtt", base+".chapters.srt", base+".ffmetadata",
			base+"-chapters.xml")
	}
	for _, recording := range recordings {
		targets = append(targets, recording.Path,
			strings.TrimSuffix(recording.Path, ".ts")+"-preview.jpg")
		if row, err := p.metadata.GetByRecording(ctx, recording.ID); err == nil && row != nil {
			targets = append(targets,
				row.JSONPath, row.NFOPath, row.ThumbnailPath,
				row.ChaptersVTTPath, row.ChaptersSRTPath, row.ChaptersFFPath, row.ChaptersXMLPath)
		}
	}

	removed := 0
	for i, target := range targets {
		if target == "" {
			continue
		}
		if err := p.layout.EnsureWithin(target); err != nil {
			p.log.Warn("refusing to delete path outside recordings root", "path", target)
			continue
		}
		if err := os.Remove(target); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			return "", recerr.Wrap(recerr.KindCleanup, "pipeline.stream_deletion", err)
		}
		progress(float64(i+1)/float64(len(targets)+1), "removing files")
	}

	// Drop the season directory if this was its last episode.
	if stream.RecordingPath != "" {
		pruneEmptyDir(filepath.Dir(stream.RecordingPath))
	}

	if err := p.streams.Delete(ctx, stream.ID); err != nil {
		return "", err
	}
	p.triggerRescan()
	return fmt.Sprintf("removed %d files", removed), nil
}

// pruneEmptyDir removes a directory if it contains nothing.
func pruneEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
