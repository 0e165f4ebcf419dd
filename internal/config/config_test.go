package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.UserAgent != "PolicyCheckBot/6.0 (+https://policycheck.io/bot)" {
		t.Fatalf("unexpected default user agent %q", cfg.Crawler.UserAgent)
	}
	if cfg.Crawler.MaxPagesAbsolute != 10000 || cfg.Crawler.MaxMinutesAbsolute != 180 {
		t.Fatalf("unexpected absolute limits: %+v", cfg.Crawler)
	}
	if cfg.Crawler.MaxConcurrent != 3 {
		t.Fatalf("expected max_concurrent 3, got %d", cfg.Crawler.MaxConcurrent)
	}
	if got := cfg.RequestDelay(); got != 500*time.Millisecond {
		t.Fatalf("expected request delay 500ms, got %v", got)
	}
	if got := cfg.RequestTimeout(); got != 10*time.Second {
		t.Fatalf("expected request timeout 10s, got %v", got)
	}
	if got := cfg.MaxFileBytes(); got != 50*1024*1024 {
		t.Fatalf("expected 50MB file cap, got %d", got)
	}
	if got := cfg.MaxDownloadTime(); got != 300*time.Second {
		t.Fatalf("expected 300s download cap, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  user_agent: test-agent
  delay_ms: 100
  max_pages_absolute: 500
  max_minutes_absolute: 30
  max_concurrent: 2
  tracking_params: ["utm_source", "ref"]
http:
  timeout_seconds: 45
  max_retries: 4
storage:
  dir: /tmp/docs
  max_file_mb: 10
  max_download_seconds: 60
db:
  dsn: postgres://localhost/crawler
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.UserAgent != "test-agent" || cfg.Crawler.MaxConcurrent != 2 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.TrackingParams) != 2 || cfg.Crawler.TrackingParams[1] != "ref" {
		t.Fatalf("expected tracking params to load: %+v", cfg.Crawler.TrackingParams)
	}
	if cfg.DB.DSN != "postgres://localhost/crawler" {
		t.Fatalf("expected db dsn to apply, got %q", cfg.DB.DSN)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development override to false")
	}
	if got := cfg.MaxFileBytes(); got != 10*1024*1024 {
		t.Fatalf("expected 10MB file cap, got %d", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{
			MaxPagesAbsolute:   10000,
			MaxMinutesAbsolute: 180,
			MaxConcurrent:      3,
		},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Storage: StorageConfig{MaxFileMB: 50},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid max pages",
			cfg: func() Config {
				c := base
				c.Crawler.MaxPagesAbsolute = 0
				return c
			}(),
			want: "crawler.max_pages_absolute",
		},
		{
			name: "invalid max minutes",
			cfg: func() Config {
				c := base
				c.Crawler.MaxMinutesAbsolute = -1
				return c
			}(),
			want: "crawler.max_minutes_absolute",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Crawler.MaxConcurrent = 0
				return c
			}(),
			want: "crawler.max_concurrent",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "invalid file cap",
			cfg: func() Config {
				c := base
				c.Storage.MaxFileMB = 0
				return c
			}(),
			want: "storage.max_file_mb",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
