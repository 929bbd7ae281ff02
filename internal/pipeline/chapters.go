package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/pkg/timeutil"
)

// minChapterLength drops boundary flaps shorter than a second.
const minChapterLength = time.Second

// chapter is one rendered chapter: offsets are relative to stream start.
type chapter struct {
	Title string
	Start time.Duration
	End   time.Duration
}

// runChapters renders the stream's event timeline into chapter sidecars in
// four formats: WebVTT, SRT, FFmpeg metadata and Emby XML. The chapter set
// is identical across formats and deterministic, so re-runs are
// byte-identical.
func (p *Pipeline) runChapters(ctx context.Context, j *job, progress queue.ProgressFunc) (string, error) {
	events, err := p.events.ListByStream(ctx, j.stream.ID)
	if err != nil {
		return "", err
	}

	total := p.streamLength(ctx, j)
	if total <= 0 {
		return "", queue.Terminal(recerr.New(recerr.KindChapters, "pipeline.chapters",
			"stream length unknown, cannot render chapters"))
	}

	chapters := buildChapters(j.stream, events, total)
	progress(0.3, fmt.Sprintf("%d chapters", len(chapters)))

	base := j.basePath()
	vttPath := base + ".chapters.vtt"
	srtPath := base + ".chapters.srt"
	ffPath := base + ".ffmetadata"
	xmlPath := base + "-chapters.xml"

	writes := []struct {
		path   string
		render func([]chapter) []byte
	}{
		{vttPath, renderVTT},
		{srtPath, renderSRT},
		{ffPath, renderFFMetadata},
		{xmlPath, renderEmbyXML},
	}
	for _, w := range writes {
		if err := renameio.WriteFile(w.path, w.render(chapters), 0o644); err != nil {
			return "", recerr.Wrap(recerr.KindChapters, "pipeline.chapters", err)
		}
	}

	row, err := p.metadata.GetByRecording(ctx, j.recording.ID)
	if err != nil {
		return "", err
	}
	if row == nil {
		row = &models.StreamMetadata{RecordingID: j.recording.ID}
	}
	row.ChaptersVTTPath = vttPath
	row.ChaptersSRTPath = srtPath
	row.ChaptersFFPath = ffPath
	row.ChaptersXMLPath = xmlPath
	if err := p.metadata.Upsert(ctx, row); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d chapters", len(chapters)), nil
}

// streamLength derives the chapter timeline length: session end minus start
// when the session closed normally, otherwise the validated MP4 duration.
func (p *Pipeline) streamLength(ctx context.Context, j *job) time.Duration {
	if j.stream.EndedAt != nil {
		return j.stream.EndedAt.Sub(j.stream.StartedAt)
	}
	if j.recording.DurationMs > 0 {
		return time.Duration(j.recording.DurationMs) * time.Millisecond
	}
	if probe, err := p.prober.Probe(ctx, j.mp4Path()); err == nil {
		return probe.Duration()
	}
	return 0
}

// buildChapters converts the ordered event timeline into chapters. Events
// observed before the session start clamp to zero, so early channel.update
// notifications fold into the opening chapter. Adjacent chapters with the
// same category merge, and chapters shorter than a second are absorbed into
// their predecessor.
func buildChapters(stream *models.Stream, events []*models.StreamEvent, total time.Duration) []chapter {
	type boundary struct {
		at       time.Duration
		title    string
		category string
	}

	boundaries := []boundary{{at: 0, title: stream.Title, category: stream.Category}}
	for _, ev := range events {
		if ev.Type == models.StreamEventOffline {
			continue
		}
		offset := ev.Timestamp.Sub(stream.StartedAt)
		if offset < 0 {
			offset = 0
		}
		if offset >= total {
			continue
		}
		title := ev.Title
		if title == "" {
			title = stream.Title
		}
		if offset == 0 {
			// Pre-start and at-start events replace the opening chapter.
			boundaries[0] = boundary{at: 0, title: title, category: ev.Category}
			continue
		}
		boundaries = append(boundaries, boundary{at: offset, title: title, category: ev.Category})
	}

	var chapters []chapter
	for i, b := range boundaries {
		end := total
		if i+1 < len(boundaries) {
			end = boundaries[i+1].at
		}
		title := b.category
		if title == "" {
			title = b.title
		}
		if title == "" {
			title = "Full Stream"
		}

		// Category-as-title policy: adjacent chapters with the same
		// category describe one continuous segment.
		if len(chapters) > 0 && b.category != "" && chapters[len(chapters)-1].Title == title {
			chapters[len(chapters)-1].End = end
			continue
		}
		if end-b.at < minChapterLength && len(chapters) > 0 {
			chapters[len(chapters)-1].End = end
			continue
		}
		chapters = append(chapters, chapter{Title: title, Start: b.at, End: end})
	}
	if len(chapters) == 0 {
		chapters = []chapter{{Title: "Full Stream", Start: 0, End: total}}
	}
	return chapters
}

func renderVTT(chapters []chapter) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i, c := range chapters {
		fmt.Fprintf(&b, "\n%d\n%s --> %s\n%s\n",
			i+1, timeutil.VTTTimestamp(c.Start), timeutil.VTTTimestamp(c.End), c.Title)
	}
	return []byte(b.String())
}

func renderSRT(chapters []chapter) []byte {
	var b strings.Builder
	for i, c := range chapters {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			i+1, timeutil.SRTTimestamp(c.Start), timeutil.SRTTimestamp(c.End), c.Title)
	}
	return []byte(b.String())
}

// renderFFMetadata emits the ;FFMETADATA1 chapter list ffmpeg consumes when
// embedding markers into the MP4.
func renderFFMetadata(chapters []chapter) []byte {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	for _, c := range chapters {
		fmt.Fprintf(&b, "\n[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=%s\n",
			c.Start.Milliseconds(), c.End.Milliseconds(), escapeFFMetadata(c.Title))
	}
	return []byte(b.String())
}

// escapeFFMetadata escapes the characters the ffmetadata format reserves.
func escapeFFMetadata(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "=", "\\=", ";", "\\;", "#", "\\#", "\n", "\\\n")
	return r.Replace(s)
}

type embyChapter struct {
	Name          string `xml:"Name"`
	StartPosition int64  `xml:"StartPositionTicks"`
}

type embyChapterList struct {
	XMLName  xml.Name      `xml:"Chapters"`
	Chapters []embyChapter `xml:"Chapter"`
}

// renderEmbyXML emits chapter markers with 100 ns tick offsets.
func renderEmbyXML(chapters []chapter) []byte {
	list := embyChapterList{}
	for _, c := range chapters {
		list.Chapters = append(list.Chapters, embyChapter{
			Name:          c.Title,
			StartPosition: timeutil.Ticks(c.Start),
		})
	}
	raw, err := xml.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil
	}
	out := append([]byte(xml.Header), raw...)
	return append(out, '\n')
}
