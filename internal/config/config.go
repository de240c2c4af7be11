package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ernie/teamwatch/internal/domain"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Orphans     OrphanConfig      `yaml:"orphans"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Feed        FeedConfig        `yaml:"feed"`
	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AuthConfig holds tenant PIN and token settings
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenDuration   time.Duration `yaml:"token_duration"`
	MinSecretLength int           `yaml:"min_secret_length"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	StaticDir  string `yaml:"static_dir"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TrackingConfig controls the per-tenant tick loop and restart repair
type TrackingConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	DiscoverInterval time.Duration `yaml:"discover_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ReconnectGrace   time.Duration `yaml:"reconnect_grace"`
	MergeGap         time.Duration `yaml:"merge_gap"`
	MergeLookback    time.Duration `yaml:"merge_lookback"`
	ResumeMaxAge     time.Duration `yaml:"resume_max_age"`
}

// OrphanConfig controls the periodic orphan session sweep
type OrphanConfig struct {
	Interval time.Duration `yaml:"interval"`
	MinAge   time.Duration `yaml:"min_age"`
	Workers  int           `yaml:"workers"`
}

// MaintenanceConfig controls retention runs
type MaintenanceConfig struct {
	Interval            time.Duration `yaml:"interval"`
	MaxSessionAge       time.Duration `yaml:"max_session_age"`
	ConnectionRetention time.Duration `yaml:"connection_retention"`
	MaxPositions        int64         `yaml:"max_positions"`
	MaxChat             int64         `yaml:"max_chat"`
	MaxCommands         int64         `yaml:"max_commands"`
	MaxConnections      int64         `yaml:"max_connections"`
	DeleteBatch         int           `yaml:"delete_batch"`
}

// FeedConfig holds NATS settings for the live snapshot feed
type FeedConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	EmbeddedHost  string `yaml:"embedded_host"`
	EmbeddedPort  int    `yaml:"embedded_port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CacheConfig holds the optional Redis cache settings. An empty address
// disables the cache.
type CacheConfig struct {
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	ColorTTL    time.Duration `yaml:"color_ttl"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	Color *bool  `yaml:"color"`
}

// MetricsConfig controls OTLP metric export. When disabled, counters are
// still collected in process but never exported.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ServiceName    string        `yaml:"service_name"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// Colored reports whether console output should be colorized
func (l LogConfig) Colored() bool {
	return l.Color == nil || *l.Color
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

func (cfg *Config) setDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/teamwatch/teamwatch.db"
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	// Auth defaults
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Auth.MinSecretLength == 0 {
		cfg.Auth.MinSecretLength = 4
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}

	// Tracking defaults
	if cfg.Tracking.TickInterval == 0 {
		cfg.Tracking.TickInterval = 30 * time.Second
	}
	if cfg.Tracking.DiscoverInterval == 0 {
		cfg.Tracking.DiscoverInterval = 5 * time.Second
	}
	if cfg.Tracking.StaleAfter == 0 {
		cfg.Tracking.StaleAfter = 2 * time.Minute
	}
	if cfg.Tracking.ReconnectGrace == 0 {
		cfg.Tracking.ReconnectGrace = time.Hour
	}
	if cfg.Tracking.MergeGap == 0 {
		cfg.Tracking.MergeGap = 2 * time.Minute
	}
	if cfg.Tracking.MergeLookback == 0 {
		cfg.Tracking.MergeLookback = 48 * time.Hour
	}
	if cfg.Tracking.ResumeMaxAge == 0 {
		cfg.Tracking.ResumeMaxAge = time.Hour
	}

	// Orphan sweep defaults
	if cfg.Orphans.Interval == 0 {
		cfg.Orphans.Interval = 2 * time.Minute
	}
	if cfg.Orphans.MinAge == 0 {
		cfg.Orphans.MinAge = 5 * time.Minute
	}
	if cfg.Orphans.Workers == 0 {
		cfg.Orphans.Workers = 4
	}

	// Retention defaults
	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = time.Hour
	}
	if cfg.Maintenance.MaxSessionAge == 0 {
		cfg.Maintenance.MaxSessionAge = 24 * time.Hour
	}
	if cfg.Maintenance.ConnectionRetention == 0 {
		cfg.Maintenance.ConnectionRetention = 30 * 24 * time.Hour
	}
	if cfg.Maintenance.MaxPositions == 0 {
		cfg.Maintenance.MaxPositions = 5_000_000
	}
	if cfg.Maintenance.MaxChat == 0 {
		cfg.Maintenance.MaxChat = 500_000
	}
	if cfg.Maintenance.MaxCommands == 0 {
		cfg.Maintenance.MaxCommands = 100_000
	}
	if cfg.Maintenance.MaxConnections == 0 {
		cfg.Maintenance.MaxConnections = 200_000
	}
	if cfg.Maintenance.DeleteBatch == 0 {
		cfg.Maintenance.DeleteBatch = 5000
	}

	// Feed defaults
	if cfg.Feed.SubjectPrefix == "" {
		cfg.Feed.SubjectPrefix = "teamwatch"
	}
	if cfg.Feed.EmbeddedHost == "" {
		cfg.Feed.EmbeddedHost = "127.0.0.1"
	}

	// Cache defaults
	if cfg.Cache.RedisPrefix == "" {
		cfg.Cache.RedisPrefix = "teamwatch:"
	}
	if cfg.Cache.ColorTTL == 0 {
		cfg.Cache.ColorTTL = 24 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Metrics defaults
	if cfg.Metrics.Endpoint == "" {
		cfg.Metrics.Endpoint = "localhost:4317"
	}
	if cfg.Metrics.ServiceName == "" {
		cfg.Metrics.ServiceName = "teamwatch"
	}
	if cfg.Metrics.ExportInterval == 0 {
		cfg.Metrics.ExportInterval = 30 * time.Second
	}
}

// Validate checks value ranges. Every error wraps domain.ErrInvalidConfig.
func (cfg *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...))
		}
	}

	check(cfg.Server.HTTPPort > 0 && cfg.Server.HTTPPort < 65536, "server.http_port %d out of range", cfg.Server.HTTPPort)
	check(cfg.Tracking.TickInterval > 0, "tracking.tick_interval must be positive")
	check(cfg.Tracking.DiscoverInterval > 0, "tracking.discover_interval must be positive")
	check(cfg.Tracking.ReconnectGrace > 0, "tracking.reconnect_grace must be positive")
	check(cfg.Tracking.MergeGap >= 0, "tracking.merge_gap must not be negative")
	check(cfg.Tracking.MergeGap < cfg.Tracking.ReconnectGrace, "tracking.merge_gap must be smaller than tracking.reconnect_grace")
	check(cfg.Tracking.MergeLookback > 0, "tracking.merge_lookback must be positive")
	check(cfg.Orphans.Interval > 0, "orphans.interval must be positive")
	check(cfg.Orphans.MinAge >= 0, "orphans.min_age must not be negative")
	check(cfg.Orphans.Workers > 0, "orphans.workers must be positive")
	check(cfg.Maintenance.Interval > 0, "maintenance.interval must be positive")
	check(cfg.Maintenance.MaxPositions > 0, "maintenance.max_positions must be positive")
	check(cfg.Maintenance.MaxChat > 0, "maintenance.max_chat must be positive")
	check(cfg.Maintenance.MaxCommands > 0, "maintenance.max_commands must be positive")
	check(cfg.Maintenance.MaxConnections > 0, "maintenance.max_connections must be positive")
	check(cfg.Maintenance.DeleteBatch > 0, "maintenance.delete_batch must be positive")
	check(cfg.Auth.MinSecretLength > 0, "auth.min_secret_length must be positive")
	check(cfg.Auth.MinSecretLength <= 72, "auth.min_secret_length must not exceed 72")
	check(cfg.Auth.BcryptCost >= 4 && cfg.Auth.BcryptCost <= 31, "auth.bcrypt_cost %d out of range", cfg.Auth.BcryptCost)
	check(cfg.Metrics.ExportInterval > 0, "metrics.export_interval must be positive")
	check(cfg.Feed.EmbeddedPort >= 0 && cfg.Feed.EmbeddedPort < 65536, "feed.embedded_port %d out of range", cfg.Feed.EmbeddedPort)

	return errors.Join(errs...)
}
