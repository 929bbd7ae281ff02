package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult contains the ffprobe output for a media file.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container-level information.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream contains per-stream information.
type ProbeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"` // video, audio, subtitle, data
	Profile      string            `json:"profile"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	PixFmt       string            `json:"pix_fmt,omitempty"`
	SampleRate   string            `json:"sample_rate,omitempty"`
	Channels     int               `json:"channels,omitempty"`
	RFrameRate   string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate string            `json:"avg_frame_rate,omitempty"`
	Duration     string            `json:"duration,omitempty"`
	BitRate      string            `json:"bit_rate,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober for the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe inspects the file at path and returns format and stream details.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput(output)
}

// parseProbeOutput decodes raw ffprobe JSON.
func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Duration returns the container duration, zero when ffprobe reported none.
func (r *ProbeResult) Duration() time.Duration {
	if r.Format.Duration == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// SizeBytes returns the container size as reported by ffprobe.
func (r *ProbeResult) SizeBytes() int64 {
	if r.Format.Size == "" {
		return 0
	}
	n, err := strconv.ParseInt(r.Format.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// VideoStreams returns all video streams.
func (r *ProbeResult) VideoStreams() []ProbeStream {
	var out []ProbeStream
	for _, s := range r.Streams {
		if s.CodecType == "video" {
			out = append(out, s)
		}
	}
	return out
}

// HasVideo reports whether at least one video stream is present.
func (r *ProbeResult) HasVideo() bool {
	return len(r.VideoStreams()) > 0
}

// FirstVideoStream returns the first video stream, or nil.
func (r *ProbeResult) FirstVideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// FirstAudioStream returns the first audio stream, or nil.
func (r *ProbeResult) FirstAudioStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Framerate returns the stream framerate in frames per second.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		if fr := parseFramerate(s.AvgFrameRate); fr > 0 {
			return fr
		}
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
