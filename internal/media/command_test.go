package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildRemux(t *testing.T) {
	cmd := BuildRemux("/usr/bin/ffmpeg", "/rec/in.ts", "/rec/out.mp4.tmp", Tags{
		Title:  "Morning grind",
		Artist: "xqc",
		Date:   "2025-01-15",
		Genre:  "Just Chatting",
	})

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-fflags", "+discardcorrupt+genpts",
		"-i", "/rec/in.ts",
		"-map", "0",
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		"-metadata", "title=Morning grind",
		"-metadata", "artist=xqc",
		"-metadata", "date=2025-01-15",
		"-metadata", "genre=Just Chatting",
		"/rec/out.mp4.tmp",
	}, cmd.Args)
}

func TestBuildRemux_SkipsEmptyTags(t *testing.T) {
	cmd := BuildRemux("ffmpeg", "in.ts", "out.mp4", Tags{Title: "only title"})

	assert.Contains(t, cmd.Args, "title=only title")
	for _, a := range cmd.Args {
		assert.NotContains(t, a, "artist=")
		assert.NotContains(t, a, "genre=")
	}
}

func TestBuildFrameExtract(t *testing.T) {
	cmd := BuildFrameExtract("ffmpeg", "/rec/vod.mp4", "/rec/thumb.jpg", 30*time.Second)

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-ss", "30",
		"-i", "/rec/vod.mp4",
		"-frames:v", "1",
		"-q:v", "2",
		"-an",
		"/rec/thumb.jpg",
	}, cmd.Args)
}

func TestCommandBuilder_ArgumentOrder(t *testing.T) {
	// Input-side flags must come before -i, output-side after.
	cmd := NewCommandBuilder("ffmpeg").
		LogLevel("warning").
		DiscardCorrupt().
		Input("in.ts").
		StreamCopy().
		Output("out.mp4").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "warning",
		"-fflags", "+discardcorrupt+genpts",
		"-i", "in.ts",
		"-map", "0",
		"-c", "copy",
		"out.mp4",
	}, cmd.Args)
}

func TestCommand_String(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("a").Output("b").Build()
	assert.Equal(t, "ffmpeg -loglevel error -i a b", cmd.String())
}
