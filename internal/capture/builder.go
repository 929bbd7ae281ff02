// Package capture assembles streamlink invocations for recording sessions.
// It owns the argv shape only; the supervisor runs the result.
package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/vodarr/internal/supervisor"
)

// Options are the per-session capture parameters produced by the config
// resolver. Zero values leave the corresponding flag unset.
type Options struct {
	// Quality is the stream quality selector, e.g. "best" or "1080p60".
	Quality string
	// Codecs restricts playback to the given codec list, in preference order.
	Codecs []string
	// ProxyURL routes the HLS pull through an HTTP proxy.
	ProxyURL string
	// OAuthToken authenticates the session for subscriber/turbo quality tiers.
	OAuthToken string
	// RetryOpen is how often to retry opening the stream before giving up.
	RetryOpen int
	// RetryStreams is the wait in seconds between stream re-checks; 0 disables
	// re-checking entirely.
	RetryStreams int
	// StreamTimeout aborts the session when no data arrives for this long.
	StreamTimeout time.Duration
	// ExtraArgs are appended verbatim after all built flags.
	ExtraArgs []string
}

// Builder assembles a streamlink command line with a fluent API.
//
// Every valued option is rendered as a single --name=value token: streamlink
// re-parses its argv, and values carrying '=' or spaces (proxy credentials,
// the Authorization header) would otherwise be split apart.
type Builder struct {
	binary  string
	args    []string
	url     string
	quality string
	output  string
}

// New creates a builder for the given streamlink binary.
func New(binary string) *Builder {
	return &Builder{binary: binary}
}

// LogLevel sets streamlink's log level.
func (b *Builder) LogLevel(level string) *Builder {
	return b.flag("--loglevel", level)
}

// DisableAds skips embedded ad segments instead of recording them.
func (b *Builder) DisableAds() *Builder {
	b.args = append(b.args, "--twitch-disable-ads")
	return b
}

// LiveRestart starts the capture from the earliest point of the HLS window
// rather than the live edge, recovering the seconds before the spawn.
func (b *Builder) LiveRestart() *Builder {
	b.args = append(b.args, "--hls-live-restart")
	return b
}

// RetryOpen retries opening the stream up to n times.
func (b *Builder) RetryOpen(n int) *Builder {
	if n > 0 {
		b.flag("--retry-open", strconv.Itoa(n))
	}
	return b
}

// RetryStreams re-checks an unavailable stream every n seconds.
func (b *Builder) RetryStreams(n int) *Builder {
	if n > 0 {
		b.flag("--retry-streams", strconv.Itoa(n))
	}
	return b
}

// StreamTimeout aborts when no stream data arrives within d.
func (b *Builder) StreamTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.flag("--stream-timeout", strconv.Itoa(int(d.Seconds())))
	}
	return b
}

// SupportedCodecs restricts Twitch playback to the given codecs.
func (b *Builder) SupportedCodecs(codecs []string) *Builder {
	if len(codecs) > 0 {
		b.flag("--twitch-supported-codecs", strings.Join(codecs, ","))
	}
	return b
}

// HTTPProxy routes all HTTP(S) traffic through the given proxy.
func (b *Builder) HTTPProxy(url string) *Builder {
	if url != "" {
		b.flag("--http-proxy", url)
	}
	return b
}

// OAuthToken attaches the user's OAuth token to Twitch API requests,
// unlocking subscriber-only and turbo quality tiers.
func (b *Builder) OAuthToken(token string) *Builder {
	if token != "" {
		b.flag("--twitch-api-header", "Authorization=OAuth "+token)
	}
	return b
}

// ExtraArgs appends operator-supplied arguments verbatim.
func (b *Builder) ExtraArgs(args ...string) *Builder {
	b.args = append(b.args, args...)
	return b
}

// Output sets the capture destination file.
func (b *Builder) Output(path string) *Builder {
	b.output = path
	return b
}

// Target sets the channel URL and quality selector.
func (b *Builder) Target(login, quality string) *Builder {
	b.url = "https://www.twitch.tv/" + login
	b.quality = quality
	if b.quality == "" {
		b.quality = "best"
	}
	return b
}

// flag appends a valued option as one --name=value token.
func (b *Builder) flag(name, value string) *Builder {
	b.args = append(b.args, name+"="+value)
	return b
}

// Args returns the assembled argv: flags first, then output, then the
// positional URL and quality.
func (b *Builder) Args() []string {
	args := make([]string, 0, len(b.args)+3)
	args = append(args, b.args...)
	if b.output != "" {
		args = append(args, "--output="+b.output)
	}
	if b.url != "" {
		args = append(args, b.url, b.quality)
	}
	return args
}

// String renders the full command for logs.
func (b *Builder) String() string {
	return b.binary + " " + strings.Join(b.Args(), " ")
}

// Spec wraps the invocation for the supervisor.
func (b *Builder) Spec(name, logPath string) supervisor.Spec {
	return supervisor.Spec{
		Name:    name,
		Command: b.binary,
		Args:    b.Args(),
		LogPath: logPath,
	}
}

// Session assembles the standard argv for one recording session: ad
// skipping, live-restart, the resolved quality/codec/proxy/auth options,
// and the .ts output path.
func Session(binary, login, outputPath string, opts Options) *Builder {
	return New(binary).
		LogLevel("info").
		DisableAds().
		LiveRestart().
		RetryOpen(opts.RetryOpen).
		RetryStreams(opts.RetryStreams).
		StreamTimeout(opts.StreamTimeout).
		SupportedCodecs(opts.Codecs).
		HTTPProxy(opts.ProxyURL).
		OAuthToken(opts.OAuthToken).
		ExtraArgs(opts.ExtraArgs...).
		Target(login, opts.Quality).
		Output(outputPath)
}

// SessionName builds the supervisor label for a capture, e.g.
// "streamlink-xqc".
func SessionName(login string) string {
	return fmt.Sprintf("streamlink-%s", login)
}
