// Package resolver computes the effective recording configuration for a
// streamer by layering streamer overrides over the database-backed global
// settings over compiled defaults.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// EffectiveConfig is the resolved per-streamer recording configuration.
type EffectiveConfig struct {
	// Enabled reports whether online events start recordings for the
	// streamer. Force starts bypass it.
	Enabled bool
	// Quality is the streamlink quality selector.
	Quality string
	// SupportedCodecs restricts playback codecs, in preference order.
	SupportedCodecs []string
	// FilenameTemplate renders the episode filename (layout package grammar).
	FilenameTemplate string
	// ProxyHTTP and ProxyHTTPS route the capture pull through a proxy.
	ProxyHTTP  string
	ProxyHTTPS string
	// MaxStreams bounds retained streams per streamer; 0 = unbounded.
	MaxStreams int
	// OAuthToken unlocks authenticated quality/codec tiers when set.
	OAuthToken string
}

// ProxyURL returns the proxy used for HLS pulls: HTTPS when set, else HTTP.
func (c *EffectiveConfig) ProxyURL() string {
	if c.ProxyHTTPS != "" {
		return c.ProxyHTTPS
	}
	return c.ProxyHTTP
}

// UsesProxy reports whether any proxy is configured.
func (c *EffectiveConfig) UsesProxy() bool {
	return c.ProxyURL() != ""
}

type cacheEntry struct {
	cfg     *EffectiveConfig
	expires time.Time
}

// Resolver resolves and caches per-streamer effective configuration.
type Resolver struct {
	defaults     config.RecordingConfig
	streamerRepo repository.StreamerRepository
	settingsRepo repository.SettingsRepository
	log          *slog.Logger

	ttl          time.Duration
	probeTimeout time.Duration

	mu    sync.RWMutex
	cache map[models.ULID]cacheEntry

	group singleflight.Group

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Resolver over the given repositories. The compiled defaults
// come from the file config; the database settings row layers on top at
// resolve time.
func New(defaults config.RecordingConfig, streamerRepo repository.StreamerRepository, settingsRepo repository.SettingsRepository, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	ttl := defaults.ConfigCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	probeTimeout := defaults.ProxyProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Resolver{
		defaults:     defaults,
		streamerRepo: streamerRepo,
		settingsRepo: settingsRepo,
		log:          observability.WithComponent(log, "resolver"),
		ttl:          ttl,
		probeTimeout: probeTimeout,
		cache:        make(map[models.ULID]cacheEntry),
		now:          time.Now,
	}
}

// Resolve returns the effective configuration for the streamer, serving a
// cached copy when fresh. Concurrent misses for the same streamer collapse
// into one database read.
func (r *Resolver) Resolve(ctx context.Context, streamerID models.ULID) (*EffectiveConfig, error) {
	r.mu.RLock()
	entry, ok := r.cache[streamerID]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.cfg, nil
	}

	v, err, _ := r.group.Do(streamerID.String(), func() (any, error) {
		cfg, err := r.resolve(ctx, streamerID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[streamerID] = cacheEntry{cfg: cfg, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EffectiveConfig), nil
}

// Invalidate drops every cached entry. Called whenever settings or streamer
// overrides are written.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[models.ULID]cacheEntry)
	r.mu.Unlock()
	r.log.Debug("config cache invalidated")
}

func (r *Resolver) resolve(ctx context.Context, streamerID models.ULID) (*EffectiveConfig, error) {
	streamer, err := r.streamerRepo.GetByID(ctx, streamerID)
	if err != nil {
		return nil, fmt.Errorf("loading streamer: %w", err)
	}
	if streamer == nil {
		return nil, recerr.New(recerr.KindStreamerNotFound, "resolver.resolve", "streamer %s not found", streamerID)
	}

	settings, err := r.settingsRepo.GetGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading global settings: %w", err)
	}

	cfg := r.compiled()
	r.layerSettings(cfg, settings)
	r.layerStreamer(cfg, streamer)

	if err := validateProxies(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// compiled returns the compiled-default layer.
func (r *Resolver) compiled() *EffectiveConfig {
	codecs := make([]string, len(r.defaults.SupportedCodecs))
	copy(codecs, r.defaults.SupportedCodecs)
	return &EffectiveConfig{
		Enabled:          true,
		Quality:          r.defaults.Quality,
		SupportedCodecs:  codecs,
		FilenameTemplate: r.defaults.FilenameTemplate,
		ProxyHTTP:        r.defaults.ProxyHTTP,
		ProxyHTTPS:       r.defaults.ProxyHTTPS,
		MaxStreams:       r.defaults.MaxStreams,
	}
}

func (r *Resolver) layerSettings(cfg *EffectiveConfig, s *models.Settings) {
	if s == nil {
		return
	}
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.Quality != "" {
		cfg.Quality = s.Quality
	}
	if codecs, err := s.Codecs(); err == nil && len(codecs) > 0 {
		cfg.SupportedCodecs = codecs
	}
	if s.FilenameTemplate != "" {
		cfg.FilenameTemplate = s.FilenameTemplate
	}
	if s.ProxyHTTP != "" {
		cfg.ProxyHTTP = s.ProxyHTTP
	}
	if s.ProxyHTTPS != "" {
		cfg.ProxyHTTPS = s.ProxyHTTPS
	}
	if s.MaxStreams != nil {
		cfg.MaxStreams = *s.MaxStreams
	}
}

func (r *Resolver) layerStreamer(cfg *EffectiveConfig, s *models.Streamer) {
	// Enabled composes: a globally disabled recorder stays disabled even
	// for enabled streamers, and vice versa.
	cfg.Enabled = cfg.Enabled && s.RecordingEnabled()
	if s.Quality != "" {
		cfg.Quality = s.Quality
	}
	if s.FilenameTemplate != "" {
		cfg.FilenameTemplate = s.FilenameTemplate
	}
	if s.ProxyHTTP != "" {
		cfg.ProxyHTTP = s.ProxyHTTP
	}
	if s.ProxyHTTPS != "" {
		cfg.ProxyHTTPS = s.ProxyHTTPS
	}
	if s.MaxStreams != nil {
		cfg.MaxStreams = *s.MaxStreams
	}
	if s.OAuthToken != "" {
		cfg.OAuthToken = s.OAuthToken
	}
}

func validateProxies(cfg *EffectiveConfig) error {
	for _, raw := range []string{cfg.ProxyHTTP, cfg.ProxyHTTPS} {
		if raw == "" {
			continue
		}
		if err := config.ValidateProxyURL(raw); err != nil {
			return recerr.Wrap(recerr.KindConfig, "resolver.resolve", err)
		}
	}
	return nil
}

// ProbeProxy checks that the configured proxy accepts TCP connections before
// a capture start commits to it. A refused or timed-out dial aborts the start
// early with ProxyUnreachable instead of burning streamlink retries.
func (r *Resolver) ProbeProxy(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return recerr.Wrap(recerr.KindConfig, "resolver.probe", err)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	d := net.Dialer{Timeout: r.probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return recerr.Wrap(recerr.KindProxyUnreachable, "resolver.probe",
			fmt.Errorf("proxy %s unreachable: %w", u.Redacted(), err))
	}
	_ = conn.Close()
	return nil
}
