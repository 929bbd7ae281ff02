package pipeline

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
)

// Frame acceptance bounds. Frames below minFrameBytes or with most pixels
// in one narrow luma band are offline slates or black lead-in, not content.
const (
	minFrameBytes  = 1024
	greyBandRadius = 8
	greyFraction   = 0.70
)

// fallbackOffsets are tried in order when no live preview frame exists.
var fallbackOffsets = []time.Duration{10 * time.Second, 30 * time.Second, 120 * time.Second}

// runThumbnail produces the episode thumbnail. A preview frame captured
// during the live session is preferred; otherwise frames are extracted from
// the MP4 at increasing offsets until one looks like content.
func (p *Pipeline) runThumbnail(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	thumbPath := j.basePath() + "-thumb.jpg"

	source := ""
	extracted := false
	if frameUsable(j.previewPath()) {
		source = j.previewPath()
	} else {
		progress(0.2, "extracting frames")
		frame, err := p.extractFrame(ctx, j)
		if err != nil {
			return "", err
		}
		source = frame
		extracted = true
	}

	if err := copyFile(source, thumbPath); err != nil {
		return "", recerr.Wrap(recerr.KindThumbnail, "pipeline.thumbnail", err)
	}
	if extracted {
		os.Remove(source)
	}
	// <base>.jpg duplicates the thumb for scanners that expect the episode
	// image named exactly after the video file; poster.jpg sits beside the
	// MP4 for scanners that look for a fixed poster name.
	if err := copyFile(thumbPath, j.basePath()+".jpg"); err != nil {
		return "", recerr.Wrap(recerr.KindThumbnail, "pipeline.thumbnail", err)
	}
	if err := copyFile(thumbPath, filepath.Join(filepath.Dir(j.mp4Path()), "poster.jpg")); err != nil {
		return "", recerr.Wrap(recerr.KindThumbnail, "pipeline.thumbnail", err)
	}

	row, err := p.metadata.GetByRecording(ctx, j.recording.ID)
	if err != nil {
		return "", err
	}
	if row == nil {
		row = &models.StreamMetadata{RecordingID: j.recording.ID}
	}
	row.ThumbnailPath = thumbPath
	if err := p.metadata.Upsert(ctx, row); err != nil {
		return "", err
	}
	return thumbPath, nil
}

// extractFrame grabs candidate frames from the MP4 until one passes the
// content checks. All offsets exhausted is terminal; a short capture cannot
// grow more frames.
func (p *Pipeline) extractFrame(ctx context.Context, j *job) (string, error) {
	candidate := j.basePath() + "-frame.jpg"
	defer os.Remove(candidate)

	for _, offset := range fallbackOffsets {
		cmd := media.BuildFrameExtract(p.ffmpegPath(), j.mp4Path(), candidate, offset)
		if err := p.runTool(ctx, j, "thumbnail", cmd); err != nil {
			continue
		}
		if frameUsable(candidate) {
			stable := j.basePath() + "-frame-ok.jpg"
			if err := os.Rename(candidate, stable); err != nil {
				return "", err
			}
			return stable, nil
		}
	}
	return "", queue.Terminal(recerr.New(recerr.KindThumbnail, "pipeline.thumbnail",
		"no usable frame at any offset"))
}

// frameUsable reports whether a frame file exists, has plausible size, and
// is not a near-uniform grey slate.
func frameUsable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < minFrameBytes {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return false
	}
	return !nearUniformGrey(img)
}

// nearUniformGrey samples the image's luma histogram and reports whether
// most pixels sit inside one narrow band around the modal value.
func nearUniformGrey(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	// Sample on a grid; full decode resolution is unnecessary for a
	// uniformity check.
	stepX := max(1, bounds.Dx()/64)
	stepY := max(1, bounds.Dy()/64)

	var histogram [256]int
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			// BT.601 luma from 16-bit channels.
			luma := (299*int(r>>8) + 587*int(g>>8) + 114*int(b>>8)) / 1000
			histogram[luma]++
			total++
		}
	}
	if total == 0 {
		return true
	}

	modal := 0
	for v := range histogram {
		if histogram[v] > histogram[modal] {
			modal = v
		}
	}
	inBand := 0
	for v := max(0, modal-greyBandRadius); v <= min(255, modal+greyBandRadius); v++ {
		inBand += histogram[v]
	}
	return float64(inBand)/float64(total) >= greyFraction
}

// runThumbnailPreview grabs a mid-stream frame while the capture is still
// live so the final thumbnail can show content instead of the lead-in. The
// platform's own preview image is preferred; frame extraction from the
// growing capture is the fallback. A grey or missing frame is retried on the
// task's backoff schedule.
func (p *Pipeline) runThumbnailPreview(ctx context.Context, task *models.Task, progress queue.ProgressFunc) (string, error) {
	j, err := p.loadJob(ctx, task)
	if err != nil {
		return "", err
	}
	if !j.recording.IsActive() {
		// Session already over; the pipeline thumbnail step extracts from
		// the MP4 instead.
		return "capture no longer active", nil
	}

	if p.previews != nil {
		if err := p.previews.FetchPreview(ctx, j.streamer.TwitchID, j.previewPath()); err != nil {
			p.log.Debug("platform preview unavailable, extracting from capture",
				"streamer", j.streamer.Login, "error", err)
		} else if frameUsable(j.previewPath()) {
			return j.previewPath(), nil
		}
	}
	progress(0.3, "extracting frame from capture")

	elapsed := time.Since(j.recording.StartTime)
	offset := elapsed - 30*time.Second
	if offset < 10*time.Second {
		offset = 10 * time.Second
	}

	cmd := media.BuildFrameExtract(p.ffmpegPath(), j.tsPath(), j.previewPath(), offset)
	if err := p.runTool(ctx, j, "preview", cmd); err != nil {
		return "", recerr.Wrap(recerr.KindThumbnail, "pipeline.preview", err)
	}
	if !frameUsable(j.previewPath()) {
		return "", recerr.New(recerr.KindThumbnail, "pipeline.preview",
			"preview frame unusable at offset %s", offset)
	}
	return j.previewPath(), nil
}
