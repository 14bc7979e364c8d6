package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 1},
		Logging: config.LoggingConfig{Level: "error"},
		Sync: config.SyncConfig{
			MaxProductsPerSync: 10,
			Frequency:          "daily",
			FreshnessMinutes:   60,
			StaleAfterDays:     30,
			LockTTLMinutes:     5,
			SourceTag:          "SITEMAP_CRAWL",
		},
		Crawler: config.CrawlerConfig{
			UserAgent:      "catalog-test/1.0",
			CrawlRateLimit: 6000,
			MaxCrawlPages:  3,
			RespectRobots:  true,
		},
		HTTP: config.HTTPConfig{TimeoutSeconds: 5, ProbeTimeoutSeconds: 1, RobotsTimeoutSeconds: 1},
		Cache: config.CacheConfig{
			Backend:           "memory",
			FetchTTLHours:     1,
			RobotsTTLHours:    1,
			SitemapTTLMinutes: 1,
			CrawlTTLMinutes:   1,
		},
		Headless: config.HeadlessConfig{NavTimeoutSec: 5, PromotionThresh: 2048},
		Storage:  config.StorageConfig{Backend: "memory", BlobBackend: "memory", ImagePrefix: "images"},
	}
}

func newMenuSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>` + base + `/product/blue-dream</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/product/blue-dream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><script type="application/ld+json">
{"@type":"Product","name":"Blue Dream","brand":"Acme","offers":{"price":"35"}}
</script></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	base = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.Port = 0
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, catalog.ErrInvalidConfiguration)
}

func TestBuildReportsUnreachableRedis(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis init failed")
}

func TestSyncAgainstLiveSite(t *testing.T) {
	t.Parallel()

	site := newMenuSite(t)
	cfg := testConfig()
	cfg.Sync.SitemapURL = site.URL + "/sitemap.xml"
	cfg.Sync.MirrorImages = true
	cfg.Storage.BlobBackend = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Progress.Enabled = true

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	result := app.Sync(context.Background(), 0)
	require.Equal(t, catalog.RunStatusSuccess, result.Status, result.Errors)
	require.Equal(t, 1, result.Synced)
	require.Equal(t, catalog.DiscoverySitemap, result.Source)

	rec := httptest.NewRecorder()
	app.Handler().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/last", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), result.RunID)

	rec = httptest.NewRecorder()
	app.Handler().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDiagnoseWithoutTargets(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	report := app.Diagnose(context.Background(), "")
	require.False(t, report.Success)
	require.NotEmpty(t, report.Error)

	result := app.Sync(context.Background(), 0)
	require.Equal(t, catalog.RunStatusError, result.Status)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.Port = freePort(t)
	app, err := BuildWithLogger(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Serve(ctx))
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	srv.Close()
	return port
}
