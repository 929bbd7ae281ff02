package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
)

// runValidation checks the remuxed MP4 against the source TS. Threshold
// misses are deterministic, so they fail the task terminally and mark the
// recording failed; only probe invocation errors are retried.
//
// The proxy/no-proxy threshold split exists because ad-break
// discontinuities inflate the TS relative to the remuxed MP4 when no
// ad-free proxy carried the capture.
func (p *Pipeline) runValidation(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	v := p.cfg.Validation

	mp4Info, err := os.Stat(j.mp4Path())
	if err != nil {
		return "", queue.Terminal(recerr.Wrap(recerr.KindValidationFailed, "pipeline.validate",
			fmt.Errorf("remux output missing: %w", err)))
	}
	tsInfo, err := os.Stat(j.tsPath())
	if err != nil {
		return "", queue.Terminal(recerr.Wrap(recerr.KindValidationFailed, "pipeline.validate",
			fmt.Errorf("capture file missing: %w", err)))
	}

	if mp4Info.Size() < int64(v.MinSize) {
		return "", p.failValidation(ctx, j, fmt.Sprintf(
			"mp4 too small: %d bytes < %d", mp4Info.Size(), int64(v.MinSize)))
	}

	sizeRatio := float64(mp4Info.Size()) / float64(tsInfo.Size())
	sizeMin := v.SizeRatioMin
	if j.recording.UsedProxy {
		sizeMin = v.SizeRatioMinProxy
	}
	if sizeRatio < sizeMin || sizeRatio > v.SizeRatioMax {
		return "", p.failValidation(ctx, j, fmt.Sprintf(
			"mp4/ts size ratio %.3f outside [%.2f, %.2f]", sizeRatio, sizeMin, v.SizeRatioMax))
	}
	progress(0.3, "size checks passed")

	probe, err := p.prober.Probe(ctx, j.mp4Path())
	if err != nil {
		return "", recerr.Wrap(recerr.KindValidationFailed, "pipeline.validate", err)
	}
	if !probe.HasVideo() {
		return "", p.failValidation(ctx, j, "mp4 carries no video stream")
	}
	mp4Duration := probe.Duration()
	if mp4Duration < v.MinDuration {
		return "", p.failValidation(ctx, j, fmt.Sprintf(
			"mp4 duration %s below minimum %s", mp4Duration, v.MinDuration))
	}
	progress(0.6, "container checks passed")

	tsDuration, err := p.tsDuration(ctx, j.tsPath())
	if err != nil {
		p.log.Warn("ts duration unavailable, skipping duration ratio check",
			"recording_id", j.recording.ID.String(), "error", err)
	} else if tsDuration > 0 {
		durationRatio := mp4Duration.Seconds() / tsDuration.Seconds()
		if durationRatio < v.DurationRatioHardFail {
			return "", p.failValidation(ctx, j, fmt.Sprintf(
				"mp4 covers only %.0f%% of capture timeline", durationRatio*100))
		}
		required := v.DurationRatio
		if j.recording.UsedProxy {
			required = v.DurationRatioProxy
		}
		if durationRatio < required {
			return "", p.failValidation(ctx, j, fmt.Sprintf(
				"mp4/ts duration ratio %.3f below %.2f", durationRatio, required))
		}
	}

	j.recording.DurationMs = mp4Duration.Milliseconds()
	if err := p.recordings.Update(ctx, j.recording); err != nil {
		return "", err
	}
	return fmt.Sprintf("validated %d bytes, %s", mp4Info.Size(), mp4Duration.Round(time.Second)), nil
}

// tsDuration probes the capture duration, falling back to the byte-level
// PCR scan for transport streams ffprobe refuses to read.
func (p *Pipeline) tsDuration(ctx context.Context, path string) (time.Duration, error) {
	if probe, err := p.prober.Probe(ctx, path); err == nil {
		if d := probe.Duration(); d > 0 {
			return d, nil
		}
	}
	info, err := media.ProbeTS(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// failValidation marks the recording failed and returns the terminal error
// that fails the validation task. Downstream steps skip via the task DAG.
func (p *Pipeline) failValidation(ctx context.Context, j *job, reason string) error {
	j.recording.MarkFailed(models.Now(), reason)
	if err := p.recordings.Update(context.WithoutCancel(ctx), j.recording); err != nil {
		return err
	}
	return queue.Terminal(recerr.New(recerr.KindValidationFailed, "pipeline.validate", "%s", reason))
}
