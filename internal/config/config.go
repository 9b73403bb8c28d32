// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/extract"
)

// Session store and blob store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendNone   = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Session  SessionConfig  `mapstructure:"session"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes the marketplace search pages.
type SourceConfig struct {
	BaseURL       string            `mapstructure:"base_url"`
	SPM           string            `mapstructure:"spm"`
	LinkTemplate  string            `mapstructure:"link_template"`
	ScriptMarker  string            `mapstructure:"script_marker"`
	JSONOpener    string            `mapstructure:"json_opener"`
	DataVariable  string            `mapstructure:"data_variable"`
	ScriptTimeout time.Duration     `mapstructure:"script_timeout"`
	Headers       map[string]string `mapstructure:"headers"`
	Cookies       map[string]string `mapstructure:"cookies"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// CrawlerConfig bounds individual crawls and the worker pool.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	MaxActivePerOwner int           `mapstructure:"max_active_per_owner"`
	MaxPages          int           `mapstructure:"max_pages"`
	MaxZeroPages      int           `mapstructure:"max_zero_pages"`
	RetryBudget       int           `mapstructure:"retry_budget"`
	MaxPause          time.Duration `mapstructure:"max_pause"`
	FilterResults     bool          `mapstructure:"filter_results"`
}

// SessionConfig selects the session store and its lifetimes.
type SessionConfig struct {
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	DrainGrace   time.Duration `mapstructure:"drain_grace"`
	StoppedGrace time.Duration `mapstructure:"stopped_grace"`
	FinishedTTL  time.Duration `mapstructure:"finished_ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects where search reports are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres run ledger.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ReaperConfig schedules the sweep of finished sessions.
type ReaperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// ProgressConfig tunes the telemetry hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from defaults, an optional file and STOREFINDER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOREFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("source.base_url", "https://www.aliexpress.com/w/wholesale")
	v.SetDefault("source.spm", "a2g0o.home.search.0")
	v.SetDefault("source.link_template", extract.DefaultLinkTemplate)
	v.SetDefault("source.script_marker", extract.DefaultScriptMarker)
	v.SetDefault("source.json_opener", extract.DefaultJSONOpener)
	v.SetDefault("source.data_variable", extract.DefaultDataVariable)
	v.SetDefault("source.script_timeout", extract.DefaultScriptTimeout)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("http.connect_timeout", 10*time.Second)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.rate_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.cooldown", 30*time.Second)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_active_per_owner", 2)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.max_zero_pages", crawler.DefaultMaxZeroPages)
	v.SetDefault("crawler.retry_budget", crawler.DefaultRetryBudget)
	v.SetDefault("crawler.max_pause", crawler.DefaultMaxPause)
	v.SetDefault("crawler.filter_results", true)
	v.SetDefault("session.backend", BackendMemory)
	v.SetDefault("session.ttl", 48*time.Hour)
	v.SetDefault("session.drain_grace", 30*time.Second)
	v.SetDefault("session.stopped_grace", time.Hour)
	v.SetDefault("session.finished_ttl", 24*time.Hour)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local_dir", "reports")
	v.SetDefault("storage.prefix", "searches")
	v.SetDefault("db.table", "search_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.schedule", "@every 24h")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", time.Second)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http.connect_timeout and http.read_timeout must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth < 0 {
		return fmt.Errorf("crawler.queue_depth must be >= 0")
	}
	if err := c.CrawlConfig().Validate(); err != nil {
		return err
	}
	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis session backend")
		}
	default:
		return fmt.Errorf("session.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// CrawlConfig converts the crawler section into crawler.Config.
func (c Config) CrawlConfig() crawler.Config {
	return crawler.Config{
		MaxPages:      c.Crawler.MaxPages,
		MaxZeroPages:  c.Crawler.MaxZeroPages,
		RetryBudget:   c.Crawler.RetryBudget,
		MaxPause:      c.Crawler.MaxPause,
		FilterResults: c.Crawler.FilterResults,
	}
}
