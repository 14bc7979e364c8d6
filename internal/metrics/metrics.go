// Package metrics exposes Prometheus collectors for the catalog sync service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_requests_total",
			Help: "Outbound fetches, labeled by site, method and status code (\"error\" for transport failures).",
		},
		[]string{"site", "method", "code"},
	)
	fetchBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_bytes_total",
			Help: "Response bytes received, labeled by site.",
		},
		[]string{"site"},
	)
	fetchRevalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_revalidations_total",
			Help: "Conditional fetch outcomes: not_modified, modified, cache_miss_body.",
		},
		[]string{"result"},
	)
	pacingWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_pacing_wait_seconds",
			Help:    "Time spent waiting before a request, labeled by reason.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"reason"},
	)
	discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_discovery_total",
			Help: "Discovery runs, labeled by source and whether served from cache.",
		},
		[]string{"source", "cached"},
	)
	discoveredURLs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_discovered_urls",
			Help: "Product URLs found by the most recent discovery.",
		},
	)
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "Completed sync runs, labeled by status.",
		},
		[]string{"status"},
	)
	syncProductsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_products_total",
			Help: "Per-product sync outcomes: synced, skipped, error, retired.",
		},
		[]string{"outcome"},
	)
	syncDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_sync_duration_seconds",
			Help:    "Wall time of sync runs.",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
		},
	)
	syncInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_sync_in_progress",
			Help: "1 while a sync run is active.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			fetchRequestsTotal,
			fetchBytesTotal,
			fetchRevalidationsTotal,
			pacingWaitSeconds,
			discoveryTotal,
			discoveredURLs,
			syncRunsTotal,
			syncProductsTotal,
			syncDurationSeconds,
			syncInProgress,
			httpRequestsTotal,
			httpRequestDurationSeconds,
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound request. code 0 means a transport failure.
func ObserveFetch(site, method string, code int, bytesFetched int) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	sanitized := SanitizeSite(site)
	fetchRequestsTotal.WithLabelValues(sanitized, method, label).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRevalidation records the outcome of a conditional fetch.
func ObserveRevalidation(result string) {
	fetchRevalidationsTotal.WithLabelValues(result).Inc()
}

// ObservePacingWait records time spent waiting for the limiter, window or crawl delay.
func ObservePacingWait(reason string, d time.Duration) {
	if d <= 0 {
		return
	}
	pacingWaitSeconds.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveDiscovery records which discovery strategy produced URLs.
func ObserveDiscovery(source string, cached bool, count int) {
	discoveryTotal.WithLabelValues(source, strconv.FormatBool(cached)).Inc()
	discoveredURLs.Set(float64(count))
}

// ObserveSyncRun records a finished run.
func ObserveSyncRun(status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(status).Inc()
	syncDurationSeconds.Observe(duration.Seconds())
}

// ObserveProduct increments the per-product outcome counter.
func ObserveProduct(outcome string) {
	syncProductsTotal.WithLabelValues(outcome).Inc()
}

// SetSyncInProgress flips the in-progress gauge.
func SetSyncInProgress(active bool) {
	if active {
		syncInProgress.Set(1)
		return
	}
	syncInProgress.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
