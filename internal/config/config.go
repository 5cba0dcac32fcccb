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
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	Herald  HeraldConfig  `mapstructure:"herald"`
	Curator CuratorConfig `mapstructure:"curator"`
	Reaper  ReaperConfig  `mapstructure:"reaper"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Sage    SageConfig    `mapstructure:"sage"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
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

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_minutes"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// HeraldConfig holds the hand-off topic for finished stories.
type HeraldConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// CuratorConfig governs candidate-URL discovery.
type CuratorConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	TopStoriesURL  string `mapstructure:"top_stories_url"`
	SearchURL      string `mapstructure:"search_url"`
	DoHURL         string `mapstructure:"doh_url"`
	LaunchesURL    string `mapstructure:"launches_url"`
}

// ReaperConfig governs the content extraction pool and fetcher.
type ReaperConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ScrapeConfig configures the fallback scraping provider.
type ScrapeConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Concurrency     int    `mapstructure:"concurrency"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// SageConfig governs the summarization pool.
type SageConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	MaxContentChars int `mapstructure:"max_content_chars"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Concurrency     int    `mapstructure:"concurrency"`
	MaxRetries      int    `mapstructure:"max_retries"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// SweepConfig controls the scheduler loop.
type SweepConfig struct {
	CronSpec         string `mapstructure:"cron_spec"`
	CountPollMinutes int    `mapstructure:"count_poll_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STORYPIPE")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_life_minutes", 30)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./blobs")
	v.SetDefault("storage.prefix", "content")
	v.SetDefault("curator.concurrency", 16)
	v.SetDefault("curator.timeout_seconds", 20)
	v.SetDefault("curator.top_stories_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("curator.search_url", "https://hn.algolia.com/api/v1/search")
	v.SetDefault("curator.doh_url", "https://dns.google/resolve")
	v.SetDefault("curator.launches_url", "https://api.launchboard.dev/v1/launches")
	v.SetDefault("reaper.concurrency", 16)
	v.SetDefault("reaper.timeout_seconds", 20)
	v.SetDefault("reaper.user_agent", "storypipe-bot/0.1")
	v.SetDefault("scrape.interval_seconds", 10)
	v.SetDefault("scrape.concurrency", 2)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("sage.concurrency", 16)
	v.SetDefault("sage.max_content_chars", 100_000)
	v.SetDefault("llm.interval_seconds", 1)
	v.SetDefault("llm.concurrency", 4)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.timeout_seconds", 90)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("sweep.cron_spec", "@every 1m")
	v.SetDefault("sweep.count_poll_minutes", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Curator.Concurrency <= 0 {
		return fmt.Errorf("curator.concurrency must be > 0")
	}
	if c.Reaper.Concurrency <= 0 {
		return fmt.Errorf("reaper.concurrency must be > 0")
	}
	if c.Sage.Concurrency <= 0 {
		return fmt.Errorf("sage.concurrency must be > 0")
	}
	if c.Sage.MaxContentChars <= 0 {
		return fmt.Errorf("sage.max_content_chars must be > 0")
	}
	if c.Scrape.IntervalSeconds <= 0 {
		return fmt.Errorf("scrape.interval_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or gcs")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Sweep.CountPollMinutes <= 0 {
		return fmt.Errorf("sweep.count_poll_minutes must be > 0")
	}
	return nil
}

// ScrapeInterval converts the configured floor into a duration.
func (c Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Scrape.IntervalSeconds) * time.Second
}

// LLMInterval converts the configured floor into a duration.
func (c Config) LLMInterval() time.Duration {
	return time.Duration(c.LLM.IntervalSeconds) * time.Second
}

// CountPollInterval is the fixed reschedule delay for count policies.
func (c Config) CountPollInterval() time.Duration {
	return time.Duration(c.Sweep.CountPollMinutes) * time.Minute
}
