// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// CrawlerConfig governs the crawl engine.
type CrawlerConfig struct {
	Parallelism           int    `mapstructure:"parallelism"`
	UserAgent             string `mapstructure:"user_agent"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	RunTimeoutSeconds     int    `mapstructure:"run_timeout_seconds"`
	MaxAttempts           int    `mapstructure:"max_attempts"`
	BackoffInitialMs      int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int    `mapstructure:"backoff_max_ms"`
	QueueSize             int    `mapstructure:"queue_size"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
	// RateLimitRPS caps requests per second per host. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ProxyConfig names the environment variable holding the proxy URL.
type ProxyConfig struct {
	EnvVar string `mapstructure:"env_var"`
}

// HeadlessConfig configures the headless rendering subsystem. PromotionThresh
// is the body size in bytes under which script-heavy pages get rendered.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where exported files are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls access to the run metadata database. An empty DSN
// disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls trace sampling.
type TelemetryConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SitemapConfig points the sitemap handlers at their index.
type SitemapConfig struct {
	IndexURL     string `mapstructure:"index_url"`
	Marker       string `mapstructure:"marker"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.request_timeout_seconds", 900)
	v.SetDefault("crawler.parallelism", 4)
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("crawler.run_timeout_seconds", 600)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.queue_size", 100000)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("proxy.env_var", "APIFY_PROXY")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("sitemap.index_url", "https://www.rumah123.com/sitemap-v3/sitemap-ldp-jual.xml")
	v.SetDefault("sitemap.marker", "/sitemap-ldp-jual-")
	v.SetDefault("sitemap.lookback_days", 7)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.Parallelism <= 0 {
		return errors.New("crawler.parallelism must be > 0")
	}
	if c.Crawler.RequestTimeoutSeconds <= 0 {
		return errors.New("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return errors.New("crawler.max_attempts must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return errors.New("crawler.rate_limit_rps must be >= 0")
	}
	if c.Proxy.EnvVar == "" {
		return errors.New("proxy.env_var must be set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Sitemap.LookbackDays < 0 {
		return errors.New("sitemap.lookback_days must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RequestTimeout is the per-request engine timeout.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RunTimeout bounds a whole engine run. Zero means unbounded.
func (c CrawlerConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// Backoff returns the initial and maximum retry delays.
func (c CrawlerConfig) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.BackoffMaxMs) * time.Millisecond
}
