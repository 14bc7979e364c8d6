// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SyncConfig governs what a sync run targets and how it paces itself.
type SyncConfig struct {
	SitemapURL         string `mapstructure:"sitemap_url"`
	MenuBaseURL        string `mapstructure:"menu_base_url"`
	MaxProductsPerSync int    `mapstructure:"max_products_per_sync"`
	Frequency          string `mapstructure:"frequency"`
	ScheduleEnabled    bool   `mapstructure:"schedule_enabled"`
	ProductDelayMs     int    `mapstructure:"product_delay_ms"`
	FreshnessMinutes   int    `mapstructure:"freshness_minutes"`
	StaleAfterDays     int    `mapstructure:"stale_after_days"`
	LockTTLMinutes     int    `mapstructure:"lock_ttl_minutes"`
	MirrorImages       bool   `mapstructure:"mirror_images"`
	RenderSPA          bool   `mapstructure:"render_spa"`
	SourceTag          string `mapstructure:"source_tag"`
}

// CrawlerConfig governs request identity, rate limits and the crawl budget.
type CrawlerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	CrawlRateLimit int    `mapstructure:"crawl_rate_limit"`
	MaxCrawlPages  int    `mapstructure:"max_crawl_pages"`
	PageDelayMs    int    `mapstructure:"page_delay_ms"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HTTPConfig configures request timeouts.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	ProbeTimeoutSeconds  int `mapstructure:"probe_timeout_seconds"`
	RobotsTimeoutSeconds int `mapstructure:"robots_timeout_seconds"`
}

// CacheConfig selects the cache backend and TTLs.
type CacheConfig struct {
	Backend           string `mapstructure:"backend"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
	FetchTTLHours     int    `mapstructure:"fetch_ttl_hours"`
	RobotsTTLHours    int    `mapstructure:"robots_ttl_hours"`
	SitemapTTLMinutes int    `mapstructure:"sitemap_ttl_minutes"`
	CrawlTTLMinutes   int    `mapstructure:"crawl_ttl_minutes"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	NavTimeoutSec   int `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int `mapstructure:"promotion_threshold"`
}

// StorageConfig selects the catalog and blob backends.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BlobBackend string `mapstructure:"blob_backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	ImagePrefix string `mapstructure:"image_prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for catalog change notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig toggles the per-product progress event log.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
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
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("sync.sitemap_url", "")
	v.SetDefault("sync.menu_base_url", "")
	v.SetDefault("sync.max_products_per_sync", 100)
	v.SetDefault("sync.frequency", "daily")
	v.SetDefault("sync.schedule_enabled", false)
	v.SetDefault("sync.product_delay_ms", 2000)
	v.SetDefault("sync.freshness_minutes", 60)
	v.SetDefault("sync.stale_after_days", 30)
	v.SetDefault("sync.lock_ttl_minutes", 60)
	v.SetDefault("sync.mirror_images", false)
	v.SetDefault("sync.render_spa", false)
	v.SetDefault("sync.source_tag", "SITEMAP_CRAWL")
	v.SetDefault("crawler.user_agent", "menu-catalog-sync/1.0")
	v.SetDefault("crawler.crawl_rate_limit", 30)
	v.SetDefault("crawler.max_crawl_pages", 20)
	v.SetDefault("crawler.page_delay_ms", 500)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.probe_timeout_seconds", 5)
	v.SetDefault("http.robots_timeout_seconds", 10)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.fetch_ttl_hours", 168)
	v.SetDefault("cache.robots_ttl_hours", 24)
	v.SetDefault("cache.sitemap_ttl_minutes", 60)
	v.SetDefault("cache.crawl_ttl_minutes", 120)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.blob_backend", "memory")
	v.SetDefault("storage.image_prefix", "images")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("progress.enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
}

// Validate enforces required values and reasonable limits. Every error wraps
// catalog.ErrInvalidConfiguration.
func (c Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Server.Port <= 0, "server.port must be > 0"},
		{c.Sync.MaxProductsPerSync <= 0, "sync.max_products_per_sync must be > 0"},
		{c.Sync.ProductDelayMs < 0, "sync.product_delay_ms must be >= 0"},
		{c.Sync.FreshnessMinutes < 0, "sync.freshness_minutes must be >= 0"},
		{c.Sync.StaleAfterDays <= 0, "sync.stale_after_days must be > 0"},
		{c.Sync.LockTTLMinutes <= 0, "sync.lock_ttl_minutes must be > 0"},
		{c.Crawler.CrawlRateLimit <= 0, "crawler.crawl_rate_limit must be > 0"},
		{c.Crawler.MaxCrawlPages <= 0, "crawler.max_crawl_pages must be > 0"},
		{c.Crawler.PageDelayMs < 0, "crawler.page_delay_ms must be >= 0"},
		{c.HTTP.TimeoutSeconds <= 0, "http.timeout_seconds must be > 0"},
		{c.HTTP.ProbeTimeoutSeconds <= 0, "http.probe_timeout_seconds must be > 0"},
		{c.HTTP.RobotsTimeoutSeconds <= 0, "http.robots_timeout_seconds must be > 0"},
		{c.Auth.Enabled && c.Auth.APIKey == "", "auth.api_key must be set when auth is enabled"},
	}
	for _, check := range checks {
		if check.bad {
			return invalid(check.msg)
		}
	}
	if _, err := ParseFrequency(c.Sync.Frequency); err != nil {
		return invalid(err.Error())
	}
	if err := validateOptionalURL("sync.sitemap_url", c.Sync.SitemapURL); err != nil {
		return err
	}
	if err := validateOptionalURL("sync.menu_base_url", c.Sync.MenuBaseURL); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return invalid("cache.redis_addr must be set when cache.backend is redis")
		}
	default:
		return invalid(fmt.Sprintf("cache.backend %q is not supported", c.Cache.Backend))
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return invalid("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return invalid(fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}
	switch c.Storage.BlobBackend {
	case "", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return invalid("storage.local_dir must be set when storage.blob_backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return invalid("storage.gcs_bucket must be set when storage.blob_backend is gcs")
		}
	default:
		return invalid(fmt.Sprintf("storage.blob_backend %q is not supported", c.Storage.BlobBackend))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return invalid("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

func validateOptionalURL(key, raw string) error {
	if raw == "" {
		return nil
	}
	if err := CheckBaseURL(raw); err != nil {
		return invalid(fmt.Sprintf("%s: %v", key, err))
	}
	return nil
}

// CheckBaseURL reports whether raw is an absolute http(s) URL with a host.
func CheckBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, catalog.ErrInvalidConfiguration)
}

// ParseFrequency maps a schedule name to its interval.
func ParseFrequency(name string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hourly":
		return time.Hour, nil
	case "twicedaily":
		return 12 * time.Hour, nil
	case "daily", "":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("sync.frequency %q must be hourly, twicedaily or daily", name)
	}
}

// RequestTimeout is the page and sitemap fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ProbeTimeout bounds sitemap HEAD probes.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HTTP.ProbeTimeoutSeconds) * time.Second
}

// RobotsTimeout bounds robots.txt fetches.
func (c Config) RobotsTimeout() time.Duration {
	return time.Duration(c.HTTP.RobotsTimeoutSeconds) * time.Second
}
