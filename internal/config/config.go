// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8472
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultQuality            = "best"
	defaultFilenameTemplate   = "{streamer} - S{year}{month}E{episode:02d} - {title}"
	defaultMaxConcurrent      = 8
	defaultStartTimeout       = 30 * time.Second
	defaultStopTimeout        = 30 * time.Second
	defaultCooldown           = 30 * time.Second
	defaultStartThreshold     = 64 * 1024
	defaultMinCaptureSize     = 1024 * 1024
	defaultThumbnailDelay     = 5 * time.Minute
	defaultConfigCacheTTL     = 5 * time.Minute
	defaultCaptureAttempts    = 3
	defaultForcedAttempts     = 5
	defaultProxyProbeTimeout  = 5 * time.Second
	defaultMaxStreamsRetained = 0 // unbounded

	defaultQueueWorkers      = 4
	defaultQueuePollInterval = 2 * time.Second
	defaultMaxAttempts       = 3
	defaultBackoffBase       = 30 * time.Second
	defaultBackoffCap        = 10 * time.Minute
	defaultShutdownGrace     = 2 * time.Minute
	defaultRemuxConcurrency  = 2

	defaultTwitchRPS         = 12
	defaultTwitchTimeout     = 15 * time.Second
	defaultTwitchRetries     = 3
	defaultSnapshotInterval  = 10 * time.Second
	defaultBroadcastDebounce = 150 * time.Millisecond
	defaultWSWriteTimeout    = 5 * time.Second

	defaultWriterWait     = 30 * time.Minute
	defaultTempMaxAge     = 1 * time.Hour
	defaultStreamerLogAge = 14 * 24 * time.Hour
	defaultAppLogAge      = 30 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Twitch     TwitchConfig     `mapstructure:"twitch"`
	Recording  RecordingConfig  `mapstructure:"recording"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Validation ValidationConfig `mapstructure:"validation"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Status     StatusConfig     `mapstructure:"status"`
	Tools      ToolsConfig      `mapstructure:"tools"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// PublicURL is the externally reachable base URL used as the EventSub
	// webhook transport callback (e.g. "https://vodarr.example.com").
	PublicURL string `mapstructure:"public_url"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// RecordingsDir is the root under which the per-streamer media layout lives.
	RecordingsDir string `mapstructure:"recordings_dir"`
	// LogsDir holds capture/converter/app logs, partitioned by tool, outside
	// the recordings root so media scanners never index them.
	LogsDir string `mapstructure:"logs_dir"`
	// TempDir is used for remux intermediates before atomic rename.
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// TwitchConfig holds Twitch API and EventSub configuration.
type TwitchConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret" masq:"secret"`
	// WebhookSecret signs EventSub messages (HMAC-SHA256).
	WebhookSecret string `mapstructure:"webhook_secret" masq:"secret"`
	// APIURL and AuthURL exist so tests can point the client at a fake server.
	APIURL         string        `mapstructure:"api_url"`
	AuthURL        string        `mapstructure:"auth_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	// RateLimit is the request budget per second against Helix.
	RateLimit int `mapstructure:"rate_limit"`
}

// RecordingConfig holds the compiled-default recording behaviour. The
// database-backed global settings row and per-streamer overrides layer on
// top of these values (see the resolver package).
type RecordingConfig struct {
	Quality          string   `mapstructure:"quality"`
	SupportedCodecs  []string `mapstructure:"supported_codecs"`
	FilenameTemplate string   `mapstructure:"filename_template"`
	// FilenamePreset selects a known-safe template by name; an explicit
	// FilenameTemplate wins when both are set.
	FilenamePreset string `mapstructure:"filename_preset"`
	ProxyHTTP      string `mapstructure:"proxy_http"`
	ProxyHTTPS     string `mapstructure:"proxy_https"`
	// MaxStreams bounds retained streams per streamer (0 = unbounded).
	MaxStreams int `mapstructure:"max_streams"`
	// MaxConcurrent bounds simultaneously active recordings system-wide.
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	StartTimeout   time.Duration `mapstructure:"start_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	StartThreshold ByteSize      `mapstructure:"start_threshold"`
	MinCaptureSize ByteSize      `mapstructure:"min_capture_size"`
	ThumbnailDelay time.Duration `mapstructure:"thumbnail_delay"`
	// ConfigCacheTTL bounds how long resolved per-streamer settings are
	// served from cache before re-reading the database.
	ConfigCacheTTL    time.Duration `mapstructure:"config_cache_ttl"`
	CaptureAttempts   int           `mapstructure:"capture_attempts"`
	ForcedAttempts    int           `mapstructure:"forced_attempts"`
	ProxyProbeTimeout time.Duration `mapstructure:"proxy_probe_timeout"`
}

// QueueConfig holds background task queue configuration.
type QueueConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	// KindLimits caps concurrent executions per task kind, e.g.
	// {"mp4_remux": 2}. Kinds absent from the map are bounded only by Workers.
	KindLimits    map[string]int `mapstructure:"kind_limits"`
	ShutdownGrace time.Duration  `mapstructure:"shutdown_grace"`
	// HistoryRetention bounds how long finished task history rows are kept.
	HistoryRetention Duration `mapstructure:"history_retention"`
}

// ValidationConfig holds the remux output acceptance thresholds.
// The proxy/no-proxy split exists because ad-break discontinuities inflate
// the TS relative to the remuxed MP4 when no ad-free proxy is in use.
type ValidationConfig struct {
	MinSize               ByteSize      `mapstructure:"min_size"`
	SizeRatioMinProxy     float64       `mapstructure:"size_ratio_min_proxy"`
	SizeRatioMin          float64       `mapstructure:"size_ratio_min"`
	SizeRatioMax          float64       `mapstructure:"size_ratio_max"`
	MinDuration           time.Duration `mapstructure:"min_duration"`
	DurationRatioProxy    float64       `mapstructure:"duration_ratio_proxy"`
	DurationRatio         float64       `mapstructure:"duration_ratio"`
	DurationRatioHardFail float64       `mapstructure:"duration_ratio_hard_fail"`
}

// CleanupConfig holds intermediate-file cleanup and log retention settings.
type CleanupConfig struct {
	// WriterWait bounds how long cleanup waits for processes still writing
	// the TS/MP4 pair before giving up.
	WriterWait time.Duration `mapstructure:"writer_wait"`
	TempMaxAge time.Duration `mapstructure:"temp_max_age"`
	// StreamerLogRetention applies to streamlink/ and ffmpeg/ partitions.
	StreamerLogRetention Duration `mapstructure:"streamer_log_retention"`
	// AppLogRetention applies to the app/ partition.
	AppLogRetention Duration `mapstructure:"app_log_retention"`
}

// StatusConfig holds WebSocket status broadcasting configuration.
type StatusConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	Debounce         time.Duration `mapstructure:"debounce"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// ToolsConfig holds external tool paths (empty = resolve from PATH).
type ToolsConfig struct {
	StreamlinkPath string `mapstructure:"streamlink_path"`
	FFmpegPath     string `mapstructure:"ffmpeg_path"`
	FFprobePath    string `mapstructure:"ffprobe_path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VODARR_ and use underscores for nesting.
// Example: VODARR_SERVER_PORT=8472.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// TextUnmarshallerHookFunc handles Duration ("7d") and ByteSize ("64KiB")
	// values supplied as strings in files, env vars, and defaults.
	var cfg Config
	decodeHooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHooks); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.public_url", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vodarr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.recordings_dir", "./recordings")
	v.SetDefault("storage.logs_dir", "./logs")
	v.SetDefault("storage.temp_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Twitch defaults
	v.SetDefault("twitch.client_id", "")
	v.SetDefault("twitch.client_secret", "")
	v.SetDefault("twitch.webhook_secret", "")
	v.SetDefault("twitch.api_url", "https://api.twitch.tv/helix")
	v.SetDefault("twitch.auth_url", "https://id.twitch.tv/oauth2/token")
	v.SetDefault("twitch.request_timeout", defaultTwitchTimeout)
	v.SetDefault("twitch.retry_attempts", defaultTwitchRetries)
	v.SetDefault("twitch.rate_limit", defaultTwitchRPS)

	// Recording defaults
	v.SetDefault("recording.quality", defaultQuality)
	v.SetDefault("recording.supported_codecs", []string{"h264", "h265"})
	v.SetDefault("recording.filename_template", defaultFilenameTemplate)
	v.SetDefault("recording.filename_preset", "")
	v.SetDefault("recording.proxy_http", "")
	v.SetDefault("recording.proxy_https", "")
	v.SetDefault("recording.max_streams", defaultMaxStreamsRetained)
	v.SetDefault("recording.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("recording.start_timeout", defaultStartTimeout)
	v.SetDefault("recording.stop_timeout", defaultStopTimeout)
	v.SetDefault("recording.cooldown", defaultCooldown)
	v.SetDefault("recording.start_threshold", defaultStartThreshold)
	v.SetDefault("recording.min_capture_size", defaultMinCaptureSize)
	v.SetDefault("recording.thumbnail_delay", defaultThumbnailDelay)
	v.SetDefault("recording.config_cache_ttl", defaultConfigCacheTTL)
	v.SetDefault("recording.capture_attempts", defaultCaptureAttempts)
	v.SetDefault("recording.forced_attempts", defaultForcedAttempts)
	v.SetDefault("recording.proxy_probe_timeout", defaultProxyProbeTimeout)

	// Queue defaults
	v.SetDefault("queue.workers", defaultQueueWorkers)
	v.SetDefault("queue.poll_interval", defaultQueuePollInterval)
	v.SetDefault("queue.max_attempts", defaultMaxAttempts)
	v.SetDefault("queue.backoff_base", defaultBackoffBase)
	v.SetDefault("queue.backoff_cap", defaultBackoffCap)
	v.SetDefault("queue.kind_limits", map[string]int{"mp4_remux": defaultRemuxConcurrency})
	v.SetDefault("queue.shutdown_grace", defaultShutdownGrace)
	v.SetDefault("queue.history_retention", "7d")

	// Validation defaults
	v.SetDefault("validation.min_size", defaultMinCaptureSize)
	v.SetDefault("validation.size_ratio_min_proxy", 0.70)
	v.SetDefault("validation.size_ratio_min", 0.50)
	v.SetDefault("validation.size_ratio_max", 1.10)
	v.SetDefault("validation.min_duration", 10*time.Second)
	v.SetDefault("validation.duration_ratio_proxy", 0.90)
	v.SetDefault("validation.duration_ratio", 0.60)
	v.SetDefault("validation.duration_ratio_hard_fail", 0.30)

	// Cleanup defaults
	v.SetDefault("cleanup.writer_wait", defaultWriterWait)
	v.SetDefault("cleanup.temp_max_age", defaultTempMaxAge)
	v.SetDefault("cleanup.streamer_log_retention", "14d")
	v.SetDefault("cleanup.app_log_retention", "30d")

	// Status defaults
	v.SetDefault("status.snapshot_interval", defaultSnapshotInterval)
	v.SetDefault("status.debounce", defaultBroadcastDebounce)
	v.SetDefault("status.write_timeout", defaultWSWriteTimeout)

	// Tools defaults
	v.SetDefault("tools.streamlink_path", "")
	v.SetDefault("tools.ffmpeg_path", "")
	v.SetDefault("tools.ffprobe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.RecordingsDir == "" {
		return fmt.Errorf("storage.recordings_dir is required")
	}
	if c.Storage.LogsDir == "" {
		return fmt.Errorf("storage.logs_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Recording validation
	if c.Recording.MaxConcurrent < 1 {
		return fmt.Errorf("recording.max_concurrent must be at least 1")
	}
	if err := ValidateProxyURL(c.Recording.ProxyHTTP); err != nil {
		return fmt.Errorf("recording.proxy_http: %w", err)
	}
	if err := ValidateProxyURL(c.Recording.ProxyHTTPS); err != nil {
		return fmt.Errorf("recording.proxy_https: %w", err)
	}

	// Queue validation
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	for kind, limit := range c.Queue.KindLimits {
		if limit < 1 {
			return fmt.Errorf("queue.kind_limits[%s] must be at least 1", kind)
		}
	}

	// Validation thresholds
	if c.Validation.SizeRatioMax <= 0 {
		return fmt.Errorf("validation.size_ratio_max must be positive")
	}
	if c.Validation.SizeRatioMin > c.Validation.SizeRatioMax ||
		c.Validation.SizeRatioMinProxy > c.Validation.SizeRatioMax {
		return fmt.Errorf("validation size ratio minimums must not exceed size_ratio_max")
	}

	return nil
}

// ValidateProxyURL checks that a proxy URL is either empty or a parseable
// http:// or https:// URL. Anything else is a configuration error.
func ValidateProxyURL(raw string) error {
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("proxy URL must start with http:// or https://")
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CallbackURL returns the EventSub callback URL derived from PublicURL,
// or empty when no public URL is configured.
func (c *ServerConfig) CallbackURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicURL, "/") + "/api/v1/eventsub/callback"
}

// StreamlinkLogDir returns the streamlink log partition.
func (c *StorageConfig) StreamlinkLogDir() string {
	return filepath.Join(c.LogsDir, "streamlink")
}

// FFmpegLogDir returns the ffmpeg log partition.
func (c *StorageConfig) FFmpegLogDir() string {
	return filepath.Join(c.LogsDir, "ffmpeg")
}

// AppLogDir returns the application log partition.
func (c *StorageConfig) AppLogDir() string {
	return filepath.Join(c.LogsDir, "app")
}

// TempPath returns the temp directory, defaulting beneath the recordings root
// so renames onto final media paths stay on one filesystem.
func (c *StorageConfig) TempPath() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(c.RecordingsDir, ".tmp")
}
