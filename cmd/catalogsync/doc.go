// Package main hosts the catalog sync service entrypoint.
//
// Architecture overview:
//   - Discovery: each run resolves a sitemap (configured, or probed at /sitemap.xml and friends), walks sitemap
//     indexes, and falls back to a bounded crawl of the menu site when the sitemap yields no product URLs.
//     Results are cached so back-to-back runs do not re-walk the site.
//   - Fetch pipeline: every outbound request goes through one paced fetcher (per-minute ceiling plus a minimum
//     spacing, robots.txt Disallow and Crawl-Delay honored) with ETag/Last-Modified revalidation. A chromedp
//     render is used only when sync.render_spa is set and the static page looks like a client-rendered shell.
//   - Extraction & persistence: JSON-LD, Open Graph, embedded state blobs and page heuristics are merged into a
//     product record that is upserted by source URL. Category, brand and effects land in tag taxonomies, and images
//     are optionally mirrored to memory/local/GCS storage. Products absent from discovery and unseen for
//     sync.stale_after_days are marked out of stock.
//   - Reporting: every run returns a structured result that is stored in the run log (memory or Postgres),
//     announced on Pub/Sub when enabled, and exported as Prometheus metrics.
//
// Commands:
//   - serve: HTTP API (/healthz, /readyz, /metrics, /v1/sync, /v1/sync/last, /v1/diagnose) plus the optional
//     scheduler (sync.schedule_enabled, sync.frequency hourly|twicedaily|daily). SIGINT/SIGTERM drain and exit.
//   - sync: one run, JSON result on stdout, exit status 1 when the run status is error.
//   - diagnose: read-only report of configuration, one page fetch, extraction and a small crawl sample.
//
// Quick checklist:
//   - Configure env vars: CATALOG_SYNC_SITEMAP_URL and/or CATALOG_SYNC_MENU_BASE_URL, CATALOG_CRAWLER_CRAWL_RATE_LIMIT,
//     CATALOG_CACHE_BACKEND=redis with CATALOG_CACHE_REDIS_ADDR for shared caches and locks, and
//     CATALOG_STORAGE_BACKEND=postgres with CATALOG_DB_DSN for a durable catalog.
//   - Run locally: go run ./cmd/catalogsync serve --config config.yaml (or rely solely on env overrides).
package main
