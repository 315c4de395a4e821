// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Render  RenderConfig  `mapstructure:"render"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs job lifecycle behavior.
type JobsConfig struct {
	Workers          int  `mapstructure:"workers"`
	RetentionMinutes int  `mapstructure:"retention_minutes"`
	SweepSeconds     int  `mapstructure:"sweep_seconds"`
	DeleteOnFetch    bool `mapstructure:"delete_on_fetch"`
}

// CrawlConfig sets crawl defaults; hard ceilings live in the crawl package.
type CrawlConfig struct {
	MaxPagesDefault int `mapstructure:"max_pages_default"`
	MaxDepthDefault int `mapstructure:"max_depth_default"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	UserAgent            string  `mapstructure:"user_agent"`
	NavTimeoutSeconds    int     `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSeconds   int     `mapstructure:"idle_timeout_seconds"`
	ChallengeWaitSeconds int     `mapstructure:"challenge_wait_seconds"`
	MaxParallel          int     `mapstructure:"max_parallel"`
	DomainQPS            float64 `mapstructure:"domain_qps"`
}

// FetchConfig configures the lightweight HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the artifact blob store backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // local, memory, gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	WorkDir   string `mapstructure:"work_dir"`
}

// DBConfig enables the optional pgx-backed job history store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig enables the optional terminal-event publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEGRAB")
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
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.retention_minutes", 30)
	v.SetDefault("jobs.sweep_seconds", 60)
	v.SetDefault("jobs.delete_on_fetch", false)
	v.SetDefault("crawl.max_pages_default", 20)
	v.SetDefault("crawl.max_depth_default", 2)
	v.SetDefault("render.user_agent", "sitegrab/0.1")
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("render.idle_timeout_seconds", 10)
	v.SetDefault("render.challenge_wait_seconds", 20)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.domain_qps", 2.0)
	v.SetDefault("fetch.user_agent", "sitegrab/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "./artifacts")
	v.SetDefault("storage.work_dir", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.RetentionMinutes <= 0 {
		return fmt.Errorf("jobs.retention_minutes must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0")
	}
	return nil
}

// Retention converts the retention window into a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionMinutes) * time.Minute
}

// SweepInterval converts the sweep cadence into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepSeconds) * time.Second
}
