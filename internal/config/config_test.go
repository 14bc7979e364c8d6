package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.CrawlRateLimit != 30 {
		t.Fatalf("expected crawl_rate_limit 30, got %d", cfg.Crawler.CrawlRateLimit)
	}
	if cfg.Sync.MaxProductsPerSync != 100 || cfg.Crawler.MaxCrawlPages != 20 {
		t.Fatalf("unexpected sync defaults: %+v %+v", cfg.Sync, cfg.Crawler)
	}
	if cfg.Sync.SourceTag != "SITEMAP_CRAWL" || cfg.Cache.FetchTTLHours != 168 {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Sync, cfg.Cache)
	}
	if got := cfg.RobotsTimeout(); got != 10*time.Second {
		t.Fatalf("expected robots timeout 10s, got %v", got)
	}
	if cfg.Progress.Enabled || cfg.Progress.BufferSize != 1024 || cfg.Progress.MaxBatchWaitMs != 500 {
		t.Fatalf("unexpected progress defaults: %+v", cfg.Progress)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: true
  level: debug
sync:
  sitemap_url: https://shop.test/sitemap.xml
  menu_base_url: https://shop.test/menu
  max_products_per_sync: 25
  frequency: twicedaily
  product_delay_ms: 100
crawler:
  user_agent: test-agent
  crawl_rate_limit: 12
  max_crawl_pages: 5
http:
  timeout_seconds: 45
cache:
  backend: redis
  redis_addr: localhost:6379
storage:
  backend: postgres
  blob_backend: local
  local_dir: /tmp/images
db:
  dsn: postgres://localhost/catalog
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server/auth overrides, got %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Sync.SitemapURL != "https://shop.test/sitemap.xml" || cfg.Sync.MaxProductsPerSync != 25 {
		t.Fatalf("expected sync overrides, got %+v", cfg.Sync)
	}
	if cfg.Crawler.CrawlRateLimit != 12 || cfg.Crawler.MaxCrawlPages != 5 || cfg.Crawler.UserAgent != "test-agent" {
		t.Fatalf("expected crawler overrides, got %+v", cfg.Crawler)
	}
	if cfg.Cache.Backend != "redis" || cfg.Storage.Backend != "postgres" {
		t.Fatalf("expected backend overrides, got %+v %+v", cfg.Cache, cfg.Storage)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("crawler:\n  crawl_rate_limit: 0\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	_, err := Load(path)
	if !errors.Is(err, catalog.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Sync:    SyncConfig{MaxProductsPerSync: 100, StaleAfterDays: 30, LockTTLMinutes: 60, Frequency: "daily"},
		Crawler: CrawlerConfig{CrawlRateLimit: 30, MaxCrawlPages: 20},
		HTTP:    HTTPConfig{TimeoutSeconds: 30, ProbeTimeoutSeconds: 5, RobotsTimeoutSeconds: 10},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid rate", func(c *Config) { c.Crawler.CrawlRateLimit = 0 }, "crawler.crawl_rate_limit"},
		{"invalid max products", func(c *Config) { c.Sync.MaxProductsPerSync = -1 }, "sync.max_products_per_sync"},
		{"invalid crawl pages", func(c *Config) { c.Crawler.MaxCrawlPages = 0 }, "crawler.max_crawl_pages"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"unknown frequency", func(c *Config) { c.Sync.Frequency = "weekly" }, "sync.frequency"},
		{"relative sitemap", func(c *Config) { c.Sync.SitemapURL = "/sitemap.xml" }, "sync.sitemap_url"},
		{"ftp menu base", func(c *Config) { c.Sync.MenuBaseURL = "ftp://shop.test/menu" }, "sync.menu_base_url"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }, "cache.redis_addr"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "file" }, "cache.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "db.dsn"},
		{"gcs without bucket", func(c *Config) { c.Storage.BlobBackend = "gcs" }, "storage.gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if !errors.Is(err, catalog.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"hourly":     time.Hour,
		"TwiceDaily": 12 * time.Hour,
		"daily":      24 * time.Hour,
	}
	for name, want := range cases {
		got, err := ParseFrequency(name)
		if err != nil || got != want {
			t.Fatalf("ParseFrequency(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseFrequency("monthly"); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
