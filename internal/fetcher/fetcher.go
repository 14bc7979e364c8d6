package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/cache"
	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/hash/sha256"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
)

// Default request headers sent with every fetch.
const (
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.5"
)

// Config controls pacing, identity and caching.
type Config struct {
	UserAgent     string
	RatePerMinute int
	Window        time.Duration
	Timeout       time.Duration
	RobotsTimeout time.Duration
	RobotsTTL     time.Duration
	FetchTTL      time.Duration
	RespectRobots bool
	Transport     http.RoundTripper
	MaxBodyBytes  int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "menu-catalog-sync/1.0"
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RobotsTimeout <= 0 {
		c.RobotsTimeout = 10 * time.Second
	}
	if c.RobotsTTL <= 0 {
		c.RobotsTTL = 24 * time.Hour
	}
	if c.FetchTTL <= 0 {
		c.FetchTTL = 7 * 24 * time.Hour
	}
	if c.Transport == nil {
		c.Transport = newHTTPTransport()
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 * 1024 * 1024
	}
	return c
}

// Fetcher implements catalog.Fetcher on a Colly collector.
type Fetcher struct {
	cfg           Config
	cache         catalog.Cache
	clock         catalog.Clock
	pacer         *Pacer
	robots        *robotsPolicy
	renderer      catalog.Renderer
	baseCollector *colly.Collector
	logger        *zap.Logger

	// mu serializes requests so pacing arithmetic stays exact.
	mu sync.Mutex
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. renderer may be nil.
func New(
	cfg Config,
	store catalog.Cache,
	clock catalog.Clock,
	renderer catalog.Renderer,
	logger *zap.Logger,
) (*Fetcher, error) {
	if store == nil {
		return nil, fmt.Errorf("fetcher cache is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("fetcher clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	pacer, err := NewPacer(cfg.RatePerMinute, cfg.Window, clock)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(cfg.Transport)
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes

	named := logger.Named("fetcher")
	paceRobots := func(ctx context.Context) error {
		_, err := pacer.Wait(ctx)
		return err
	}
	return &Fetcher{
		cfg:           cfg,
		cache:         store,
		clock:         clock,
		pacer:         pacer,
		robots:        newRobotsPolicy(cfg.Transport, cfg.RobotsTimeout, cfg.RobotsTTL, cfg.UserAgent, store, clock, paceRobots, named),
		renderer:      renderer,
		baseCollector: c,
		logger:        named,
	}, nil
}

// UserAgent returns the identity sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// Fetch issues one paced request. With Conditional set, validators from the
// last 200 response are sent and a 304 is answered from the cached body.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := parseTarget(request.URL)
	if err != nil {
		return catalog.FetchResponse{}, newError(request.URL, err)
	}
	if err := f.admit(ctx, target); err != nil {
		return catalog.FetchResponse{}, newError(request.URL, err)
	}

	conditional := request.Conditional && method == http.MethodGet
	cacheKey := sha256.Key("fetch", request.URL)
	var entry *catalog.FetchCacheEntry
	if conditional {
		entry = f.loadEntry(ctx, cacheKey)
	}

	resp, err := f.do(ctx, method, request, entry)
	if err != nil {
		return catalog.FetchResponse{}, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		if len(entry.Body) > 0 {
			metrics.ObserveRevalidation("not_modified")
			resp.StatusCode = http.StatusOK
			resp.Body = append([]byte(nil), entry.Body...)
			resp.Revalidated = true
			return resp, nil
		}
		// A 304 with nothing cached to serve is a miss; refetch without validators.
		metrics.ObserveRevalidation("cache_miss_body")
		if derr := f.cache.Delete(ctx, cacheKey); derr != nil {
			f.logger.Debug("fetch cache delete failed", zap.String("url", request.URL), zap.Error(derr))
		}
		entry = nil
		resp, err = f.do(ctx, method, request, nil)
		if err != nil {
			return catalog.FetchResponse{}, err
		}
	}

	if conditional && resp.StatusCode == http.StatusOK {
		if entry != nil {
			metrics.ObserveRevalidation("modified")
		}
		f.storeEntry(ctx, cacheKey, resp)
	}
	return resp, nil
}

// Render loads rawURL through the headless renderer under the same pacing and robots rules.
func (f *Fetcher) Render(ctx context.Context, rawURL string) (catalog.FetchResponse, error) {
	if f.renderer == nil {
		return catalog.FetchResponse{}, newError(rawURL, ErrRenderUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target, err := parseTarget(rawURL)
	if err != nil {
		return catalog.FetchResponse{}, newError(rawURL, err)
	}
	if err := f.admit(ctx, target); err != nil {
		return catalog.FetchResponse{}, newError(rawURL, err)
	}
	if _, err := f.pacer.Wait(ctx); err != nil {
		return catalog.FetchResponse{}, newError(rawURL, err)
	}
	resp, err := f.renderer.Render(ctx, rawURL, f.cfg.UserAgent)
	if err != nil {
		metrics.ObserveFetch(rawURL, "RENDER", 0, 0)
		return catalog.FetchResponse{}, newError(rawURL, err)
	}
	metrics.ObserveFetch(rawURL, "RENDER", resp.StatusCode, len(resp.Body))
	resp.Rendered = true
	return resp, nil
}

// admit applies robots rules and the host's Crawl-Delay.
func (f *Fetcher) admit(ctx context.Context, target *url.URL) error {
	if target.Path == "/robots.txt" {
		return nil
	}
	group, err := f.robots.lookup(ctx, target)
	if err != nil {
		return err
	}
	if f.cfg.RespectRobots && group != nil && !group.Test(robotsPath(target)) {
		return ErrDisallowed
	}
	if delay := crawlDelay(group); delay > 0 {
		if err := f.clock.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("crawl delay: %w", err)
		}
		metrics.ObservePacingWait("crawl_delay", delay)
	}
	return nil
}

func (f *Fetcher) do(
	ctx context.Context,
	method string,
	request catalog.FetchRequest,
	entry *catalog.FetchCacheEntry,
) (catalog.FetchResponse, error) {
	if _, err := f.pacer.Wait(ctx); err != nil {
		return catalog.FetchResponse{}, newError(request.URL, err)
	}

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(timeout)

	var (
		result   catalog.FetchResponse
		fetchErr error
	)
	start := f.clock.Now()
	configureHooks(collector, start, f.clock, &result, &fetchErr)

	headers := f.requestHeaders(request.Headers, entry)
	if err := runCollector(ctx, collector, method, request.URL, headers, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, method, 0, 0)
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.String("method", method), zap.Error(err))
		return catalog.FetchResponse{}, newError(request.URL, err)
	}
	metrics.ObserveFetch(request.URL, method, result.StatusCode, len(result.Body))
	f.logger.Debug("fetched",
		zap.String("url", request.URL),
		zap.String("method", method),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
	)
	return result, nil
}

func configureHooks(
	hooks collectorHooks,
	start time.Time,
	clock catalog.Clock,
	result *catalog.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   clock.Now().Sub(start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, rawURL string,
	headers http.Header,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, rawURL, nil, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) requestHeaders(extra http.Header, entry *catalog.FetchCacheEntry) http.Header {
	headers := http.Header{}
	headers.Set("User-Agent", f.cfg.UserAgent)
	headers.Set("Accept", defaultAccept)
	headers.Set("Accept-Language", defaultAcceptLanguage)
	for key, values := range extra {
		headers.Del(key)
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	if entry != nil {
		if entry.ETag != "" {
			headers.Set("If-None-Match", entry.ETag)
		}
		if entry.LastModified != "" {
			headers.Set("If-Modified-Since", entry.LastModified)
		}
	}
	return headers
}

func (f *Fetcher) loadEntry(ctx context.Context, key string) *catalog.FetchCacheEntry {
	var entry catalog.FetchCacheEntry
	if err := cache.GetJSON(ctx, f.cache, key, &entry); err != nil {
		if !errors.Is(err, catalog.ErrCacheMiss) {
			f.logger.Debug("fetch cache read failed", zap.Error(err))
		}
		return nil
	}
	if entry.ETag == "" && entry.LastModified == "" {
		return nil
	}
	return &entry
}

func (f *Fetcher) storeEntry(ctx context.Context, key string, resp catalog.FetchResponse) {
	entry := catalog.FetchCacheEntry{
		ETag:         resp.Headers.Get("ETag"),
		LastModified: resp.Headers.Get("Last-Modified"),
		Body:         resp.Body,
		StoredAt:     f.clock.Now(),
	}
	if entry.ETag == "" && entry.LastModified == "" {
		return
	}
	if err := cache.SetJSON(ctx, f.cache, key, entry, f.cfg.FetchTTL); err != nil {
		f.logger.Debug("fetch cache write failed", zap.String("url", resp.URL), zap.Error(err))
	}
}

func parseTarget(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("url %q is not an absolute http(s) URL", rawURL)
	}
	return target, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
