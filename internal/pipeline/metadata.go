package pipeline

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
)

// streamInfo is the machine-readable sidecar written beside the episode.
type streamInfo struct {
	Streamer       string          `json:"streamer"`
	DisplayName    string          `json:"display_name"`
	TwitchID       string          `json:"twitch_id"`
	TwitchStreamID string          `json:"twitch_stream_id,omitempty"`
	Title          string          `json:"title"`
	Category       string          `json:"category,omitempty"`
	CategoryID     string          `json:"category_id,omitempty"`
	Language       string          `json:"language,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	Season         int             `json:"season"`
	Episode        int             `json:"episode"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
	Forced         bool            `json:"forced,omitempty"`
	Events         []infoEvent     `json:"events,omitempty"`
}

type infoEvent struct {
	Type      models.StreamEventType `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Title     string                 `json:"title,omitempty"`
	Category  string                 `json:"category,omitempty"`
}

// episodeNFO is the Kodi/Jellyfin per-episode sidecar.
type episodeNFO struct {
	XMLName   xml.Name `xml:"episodedetails"`
	Title     string   `xml:"title"`
	ShowTitle string   `xml:"showtitle"`
	Season    int      `xml:"season"`
	Episode   int      `xml:"episode"`
	Plot      string   `xml:"plot,omitempty"`
	Genre     string   `xml:"genre,omitempty"`
	Aired     string   `xml:"aired"`
	Premiered string   `xml:"premiered"`
	Runtime   int      `xml:"runtime,omitempty"`
	Studio    string   `xml:"studio"`
	Thumb     string   `xml:"thumb,omitempty"`
}

// tvshowNFO is the per-streamer show sidecar at the show root.
type tvshowNFO struct {
	XMLName   xml.Name `xml:"tvshow"`
	Title     string   `xml:"title"`
	Plot      string   `xml:"plot,omitempty"`
	Studio    string   `xml:"studio"`
	Premiered string   `xml:"premiered,omitempty"`
	Thumb     string   `xml:"thumb,omitempty"`
	Fanart    string   `xml:"fanart,omitempty"`
}

// runMetadata writes the JSON descriptor, the episode NFO, and (once per
// streamer) the tvshow NFO. Before any write, the output directory must
// belong to the recording's streamer; a mismatch is terminal and leaves the
// filesystem untouched.
func (p *Pipeline) runMetadata(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	if err := p.layout.VerifyStreamerPath(j.mp4Path(), j.streamer.Login); err != nil {
		kind := recerr.KindMetadata
		if errors.Is(err, layout.ErrCrossStreamerPath) {
			kind = recerr.KindCrossStreamerPath
		}
		return "", queue.Terminal(recerr.Wrap(kind, "pipeline.metadata", err))
	}

	events, err := p.events.ListByStream(ctx, j.stream.ID)
	if err != nil {
		return "", err
	}

	info := streamInfo{
		Streamer:       j.streamer.Login,
		DisplayName:    j.streamer.DisplayName,
		TwitchID:       j.streamer.TwitchID,
		TwitchStreamID: j.stream.TwitchStreamID,
		Title:          j.stream.Title,
		Category:       j.stream.Category,
		CategoryID:     j.stream.CategoryID,
		Language:       j.stream.Language,
		StartedAt:      j.stream.StartedAt.UTC(),
		Season:         j.stream.SeasonNumber(),
		Episode:        j.stream.Episode,
		DurationMs:     j.recording.DurationMs,
		Forced:         j.recording.Forced,
	}
	if j.stream.EndedAt != nil {
		ended := j.stream.EndedAt.UTC()
		info.EndedAt = &ended
	}
	for _, ev := range events {
		info.Events = append(info.Events, infoEvent{
			Type:      ev.Type,
			Timestamp: ev.Timestamp.UTC(),
			Title:     ev.Title,
			Category:  ev.Category,
		})
	}

	jsonPath := j.basePath() + ".info.json"
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	if err := renameio.WriteFile(jsonPath, append(raw, '\n'), 0o644); err != nil {
		return "", recerr.Wrap(recerr.KindMetadata, "pipeline.metadata", err)
	}
	progress(0.4, "descriptor written")

	nfoPath := j.basePath() + ".nfo"
	if err := p.writeEpisodeNFO(nfoPath, j); err != nil {
		return "", recerr.Wrap(recerr.KindMetadata, "pipeline.metadata", err)
	}
	progress(0.7, "episode nfo written")

	tvshowPath := p.layout.TVShowNFOPath(j.streamer.Login)
	if _, err := os.Stat(tvshowPath); os.IsNotExist(err) {
		if err := p.writeTVShowNFO(tvshowPath, j); err != nil {
			return "", recerr.Wrap(recerr.KindMetadata, "pipeline.metadata", err)
		}
	}
	p.copyArtworkFallbacks(j)

	row, err := p.metadata.GetByRecording(ctx, j.recording.ID)
	if err != nil {
		return "", err
	}
	if row == nil {
		row = &models.StreamMetadata{RecordingID: j.recording.ID}
	}
	row.JSONPath = jsonPath
	row.NFOPath = nfoPath
	row.TVShowNFOPath = tvshowPath
	if err := p.metadata.Upsert(ctx, row); err != nil {
		return "", err
	}

	return nfoPath, nil
}

func (p *Pipeline) writeEpisodeNFO(path string, j *job) error {
	nfo := episodeNFO{
		Title:     j.stream.Title,
		ShowTitle: j.streamer.DisplayName,
		Season:    j.stream.SeasonNumber(),
		Episode:   j.stream.Episode,
		Plot:      episodePlot(j),
		Genre:     j.stream.Category,
		Aired:     j.stream.StartedAt.UTC().Format("2006-01-02"),
		Premiered: j.stream.StartedAt.UTC().Format("2006-01-02"),
		Runtime:   int(time.Duration(j.recording.DurationMs) * time.Millisecond / time.Minute),
		Studio:    "Twitch",
		Thumb:     filepath.Base(j.basePath()) + "-thumb.jpg",
	}
	if nfo.Title == "" {
		nfo.Title = j.streamer.DisplayName + " " + nfo.Aired
	}
	return writeXML(path, nfo)
}

func (p *Pipeline) writeTVShowNFO(path string, j *job) error {
	nfo := tvshowNFO{
		Title:  j.streamer.DisplayName,
		Plot:   fmt.Sprintf("Live broadcasts by %s on Twitch.", j.streamer.DisplayName),
		Studio: "Twitch",
	}
	// Artwork references stay relative within the recordings root so the
	// library survives being mounted at a different path.
	if rel, err := filepath.Rel(filepath.Dir(path), p.layout.PosterPath(j.streamer.Login)); err == nil {
		if _, statErr := os.Stat(p.layout.PosterPath(j.streamer.Login)); statErr == nil {
			nfo.Thumb = rel
		}
	}
	if rel, err := filepath.Rel(filepath.Dir(path), p.layout.FanartPath(j.streamer.Login)); err == nil {
		if _, statErr := os.Stat(p.layout.FanartPath(j.streamer.Login)); statErr == nil {
			nfo.Fanart = rel
		}
	}
	return writeXML(path, nfo)
}

// copyArtworkFallbacks places poster/fanart copies beside the show for
// scanners that ignore NFO artwork references. Best effort.
func (p *Pipeline) copyArtworkFallbacks(j *job) {
	showDir := p.layout.StreamerDir(j.streamer.Login)
	pairs := [][2]string{
		{p.layout.PosterPath(j.streamer.Login), filepath.Join(showDir, "poster.jpg")},
		{p.layout.FanartPath(j.streamer.Login), filepath.Join(showDir, "fanart.jpg")},
		{p.layout.BannerPath(j.streamer.Login), filepath.Join(showDir, "banner.jpg")},
	}
	for _, pair := range pairs {
		src, dst := pair[0], pair[1]
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(src, dst); err != nil && !os.IsNotExist(err) {
			p.log.Debug("artwork fallback copy failed", "src", src, "error", err)
		}
	}
}

func episodePlot(j *job) string {
	plot := j.stream.Title
	if j.stream.Category != "" {
		plot = fmt.Sprintf("%s\n\nCategory: %s", plot, j.stream.Category)
	}
	return plot
}

func writeXML(path string, v any) error {
	raw, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data := append([]byte(xml.Header), raw...)
	data = append(data, '\n')
	return renameio.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	t, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
