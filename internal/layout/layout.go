// Package layout owns the on-disk shape of the media library: filename
// template rendering, path sanitisation, and the builders for every
// directory the service writes to. Anything that produces a path under the
// recordings or logs roots goes through this package so the layout stays
// consistent with what media servers expect.
package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Path guard errors.
var (
	// ErrPathOutsideRoot is returned when a path resolves outside the
	// recordings root.
	ErrPathOutsideRoot = errors.New("path escapes recordings root")
	// ErrCrossStreamerPath is returned when an output path points into a
	// different streamer's directory. The literal is persisted in step
	// errors, so keep it stable.
	ErrCrossStreamerPath = errors.New("CrossStreamerPath")
)

// mediaDir is the hidden directory for artwork and other non-episode
// assets; the leading dot keeps media scanners from indexing it as a show.
const mediaDir = ".media"

// Layout builds paths under the recordings and logs roots.
type Layout struct {
	recordingsRoot string
	logsRoot       string
}

// New creates a Layout rooted at the given directories.
func New(recordingsRoot, logsRoot string) *Layout {
	return &Layout{
		recordingsRoot: filepath.Clean(recordingsRoot),
		logsRoot:       filepath.Clean(logsRoot),
	}
}

// RecordingsRoot returns the recordings root directory.
func (l *Layout) RecordingsRoot() string {
	return l.recordingsRoot
}

// SeasonName returns the season folder name for a session start time,
// e.g. "Season 2025-01".
func SeasonName(when time.Time) string {
	return fmt.Sprintf("Season %04d-%02d", when.Year(), int(when.Month()))
}

// StreamerDir returns the show root for a streamer.
func (l *Layout) StreamerDir(streamer string) string {
	return filepath.Join(l.recordingsRoot, SafeName(streamer))
}

// SeasonDir returns the season folder for a streamer and session start.
func (l *Layout) SeasonDir(streamer string, when time.Time) string {
	return filepath.Join(l.StreamerDir(streamer), SeasonName(when))
}

// EpisodePath renders the template and returns the absolute episode base
// path (no extension). A template without "/" places the episode in the
// standard <streamer>/Season YYYY-MM/ folder; a template with "/" chooses
// its own tree under the recordings root.
func (l *Layout) EpisodePath(tmpl string, v Vars) (string, error) {
	rendered, err := Render(tmpl, v)
	if err != nil {
		return "", err
	}
	var p string
	if strings.Contains(tmpl, "/") {
		p = filepath.Join(l.recordingsRoot, rendered)
	} else {
		p = filepath.Join(l.SeasonDir(v.Streamer, v.When), rendered)
	}
	if err := l.EnsureWithin(p); err != nil {
		return "", err
	}
	return p, nil
}

// ArtworkDir returns the hidden artwork folder for a streamer.
func (l *Layout) ArtworkDir(streamer string) string {
	return filepath.Join(l.recordingsRoot, mediaDir, "artwork", SafeName(streamer))
}

// PosterPath returns the streamer poster image path.
func (l *Layout) PosterPath(streamer string) string {
	return filepath.Join(l.ArtworkDir(streamer), "poster.jpg")
}

// BannerPath returns the streamer banner image path.
func (l *Layout) BannerPath(streamer string) string {
	return filepath.Join(l.ArtworkDir(streamer), "banner.jpg")
}

// FanartPath returns the streamer fanart image path.
func (l *Layout) FanartPath(streamer string) string {
	return filepath.Join(l.ArtworkDir(streamer), "fanart.jpg")
}

// CategoryArtPath returns the artwork path for a category/game name.
func (l *Layout) CategoryArtPath(category string) string {
	return filepath.Join(l.recordingsRoot, mediaDir, "categories", SafeName(category)+".jpg")
}

// TVShowNFOPath returns the per-streamer tvshow.nfo path.
func (l *Layout) TVShowNFOPath(streamer string) string {
	return filepath.Join(l.StreamerDir(streamer), "tvshow.nfo")
}

// logTimestamp formats capture timestamps embedded in log file names.
const logTimestamp = "20060102-150405"

// StreamlinkLogPath returns the capture log file for one session attempt.
func (l *Layout) StreamlinkLogPath(streamer string, startedAt time.Time) string {
	name := fmt.Sprintf("%s_%s.log", SafeName(streamer), startedAt.UTC().Format(logTimestamp))
	return filepath.Join(l.logsRoot, "streamlink", name)
}

// FFmpegLogPath returns the converter log file for one operation, e.g.
// op "remux" or "thumbnail".
func (l *Layout) FFmpegLogPath(streamer, op string, at time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.log", SafeName(streamer), op, at.UTC().Format(logTimestamp))
	return filepath.Join(l.logsRoot, "ffmpeg", name)
}

// AppLogPath returns the recording activity log file.
func (l *Layout) AppLogPath() string {
	return filepath.Join(l.logsRoot, "app", "recording_activity.log")
}

// LogDirs returns the log partitions in a stable order, for retention
// sweeps and startup directory creation.
func (l *Layout) LogDirs() []string {
	return []string{
		filepath.Join(l.logsRoot, "streamlink"),
		filepath.Join(l.logsRoot, "ffmpeg"),
		filepath.Join(l.logsRoot, "app"),
	}
}

// EnsureWithin verifies that path stays under the recordings root once
// cleaned. It guards against traversal from substituted values.
func (l *Layout) EnsureWithin(path string) error {
	rel, err := filepath.Rel(l.recordingsRoot, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return nil
}

// VerifyStreamerPath verifies that a path under the recordings root belongs
// to the given streamer: its first component must be the streamer's
// sanitised directory. Pipeline steps call this before writing sidecars so
// a stale or corrupted output directory can never leak one streamer's
// files into another's show.
func (l *Layout) VerifyStreamerPath(path, streamer string) error {
	if err := l.EnsureWithin(path); err != nil {
		return err
	}
	rel, err := filepath.Rel(l.recordingsRoot, filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	first := rel
	if i := strings.IndexByte(first, filepath.Separator); i >= 0 {
		first = first[:i]
	}
	if first != SafeName(streamer) {
		return fmt.Errorf("%w: %s is not under %s", ErrCrossStreamerPath, path, SafeName(streamer))
	}
	return nil
}
