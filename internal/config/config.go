// Package config loads and validates crawler configuration via Viper.
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
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs session limits and crawl pipeline behavior.
type CrawlerConfig struct {
	UserAgent          string   `mapstructure:"user_agent"`
	DelayMs            int      `mapstructure:"delay_ms"`
	MaxPagesAbsolute   int      `mapstructure:"max_pages_absolute"`
	MaxMinutesAbsolute int      `mapstructure:"max_minutes_absolute"`
	MaxConcurrent      int      `mapstructure:"max_concurrent"`
	TrackingParams     []string `mapstructure:"tracking_params"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
}

// StorageConfig sets the local root and per-file limits for PDF persistence.
type StorageConfig struct {
	Dir                string `mapstructure:"dir"`
	MaxFileMB          int64  `mapstructure:"max_file_mb"`
	MaxDownloadSeconds int    `mapstructure:"max_download_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for session lifecycle notifications. An empty
// topic name disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
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
	v.SetDefault("crawler.user_agent", "PolicyCheckBot/6.0 (+https://policycheck.io/bot)")
	v.SetDefault("crawler.delay_ms", 500)
	v.SetDefault("crawler.max_pages_absolute", 10000)
	v.SetDefault("crawler.max_minutes_absolute", 180)
	v.SetDefault("crawler.max_concurrent", 3)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("storage.dir", "./storage/documents")
	v.SetDefault("storage.max_file_mb", 50)
	v.SetDefault("storage.max_download_seconds", 300)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxPagesAbsolute <= 0 {
		return fmt.Errorf("crawler.max_pages_absolute must be > 0")
	}
	if c.Crawler.MaxMinutesAbsolute <= 0 {
		return fmt.Errorf("crawler.max_minutes_absolute must be > 0")
	}
	if c.Crawler.MaxConcurrent <= 0 {
		return fmt.Errorf("crawler.max_concurrent must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Storage.MaxFileMB <= 0 {
		return fmt.Errorf("storage.max_file_mb must be > 0")
	}
	return nil
}

// RequestDelay converts the configured per-page delay into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// RequestTimeout converts the HTTP timeout config into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxFileBytes returns the per-file download size cap in bytes.
func (c Config) MaxFileBytes() int64 {
	return c.Storage.MaxFileMB * 1024 * 1024
}

// MaxDownloadTime returns the wall-clock cap for one PDF download.
func (c Config) MaxDownloadTime() time.Duration {
	return time.Duration(c.Storage.MaxDownloadSeconds) * time.Second
}
