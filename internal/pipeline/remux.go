package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/status"
)

// runRemux stream-copies the captured TS into an MP4 container. The remux
// writes to <mp4>.tmp and renames into place, so a crash mid-remux leaves
// the final path absent and the step safe to re-run.
func (p *Pipeline) runRemux(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	mp4 := j.mp4Path()
	tmp := mp4 + ".tmp"

	if _, err := os.Stat(mp4); err == nil && j.stream.RecordingPath == mp4 {
		// A previous attempt finished the rename; nothing to redo.
		return mp4, nil
	}

	if _, err := os.Stat(j.tsPath()); err != nil {
		return "", queue.Terminal(recerr.Wrap(recerr.KindRemuxFailed, "pipeline.remux",
			fmt.Errorf("capture file missing: %w", err)))
	}

	tags := media.Tags{
		Title:  j.stream.Title,
		Artist: j.streamer.DisplayName,
		Date:   j.stream.StartedAt.UTC().Format("2006-01-02"),
		Genre:  j.stream.Category,
	}
	if tags.Title == "" {
		tags.Title = j.streamer.DisplayName + " " + j.stream.StartedAt.UTC().Format("2006-01-02")
	}

	progress(0.05, "remuxing")
	cmd := media.BuildRemux(p.ffmpegPath(), j.tsPath(), tmp, tags)
	if err := p.runTool(ctx, j, "remux", cmd); err != nil {
		_ = os.Remove(tmp)
		return "", recerr.Wrap(recerr.KindRemuxFailed, "pipeline.remux", err)
	}

	if err := os.Rename(tmp, mp4); err != nil {
		return "", recerr.Wrap(recerr.KindRemuxFailed, "pipeline.remux", err)
	}
	progress(0.95, "finalising")

	j.stream.RecordingPath = mp4
	if err := p.streams.Update(ctx, j.stream); err != nil {
		return "", err
	}

	p.notifier.Broadcast(status.TypeRecordingAvailable, map[string]any{
		"recording_id": j.recording.ID.String(),
		"stream_id":    j.stream.ID.String(),
		"streamer":     j.streamer.Login,
		"path":         mp4,
	})
	return mp4, nil
}
