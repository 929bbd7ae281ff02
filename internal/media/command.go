// Package media builds and inspects the ffmpeg/ffprobe invocations used by
// the post-processing pipeline, plus a raw MPEG-TS prober for capture files
// too damaged for ffprobe.
package media

import (
	"strconv"
	"strings"
	"time"
)

// Command is a fully assembled ffmpeg invocation. The supervisor runs it;
// this package only decides what the argv looks like.
type Command struct {
	Binary string
	Args   []string
}

// String renders the command for logs.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	overwrite  bool
}

// NewCommandBuilder creates a builder for the given ffmpeg binary.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// DiscardCorrupt tolerates broken capture input: corrupt packets are dropped
// and missing timestamps regenerated instead of aborting the run.
func (b *CommandBuilder) DiscardCorrupt() *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-fflags", "+discardcorrupt+genpts")
	return b
}

// SeekTo seeks the input before decoding. Input-side -ss so only one frame
// group is actually read, which matters when grabbing a still from a long VOD.
func (b *CommandBuilder) SeekTo(offset time.Duration) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-ss", strconv.Itoa(int(offset.Seconds())))
	return b
}

// Input sets the input path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// StreamCopy maps every input stream and copies it without re-encoding.
func (b *CommandBuilder) StreamCopy() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", "0", "-c", "copy")
	return b
}

// AudioBitstreamFilter applies an audio bitstream filter, e.g. conversion of
// ADTS AAC to the MP4 sample format.
func (b *CommandBuilder) AudioBitstreamFilter(filter string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-bsf:a", filter)
	return b
}

// Faststart relocates the moov atom to the file head so media servers can
// stream the MP4 without reading its tail first.
func (b *CommandBuilder) Faststart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// Metadata stamps a container metadata tag. Empty values are skipped.
func (b *CommandBuilder) Metadata(key, value string) *CommandBuilder {
	if value == "" {
		return b
	}
	b.outputArgs = append(b.outputArgs, "-metadata", key+"="+value)
	return b
}

// VideoFrames limits the number of video frames written.
func (b *CommandBuilder) VideoFrames(n int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-frames:v", strconv.Itoa(n))
	return b
}

// FrameQuality sets the JPEG quantiser for still extraction (2 ≈ highest).
func (b *CommandBuilder) FrameQuality(q int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-q:v", strconv.Itoa(q))
	return b
}

// NoAudio drops all audio streams from the output.
func (b *CommandBuilder) NoAudio() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-an")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output path.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final command. Argument order follows ffmpeg's
// position-sensitive grammar: global flags, input flags, -i, output flags,
// output path.
func (b *CommandBuilder) Build() *Command {
	args := []string{}
	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return &Command{Binary: b.binary, Args: args}
}
