package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/cache"
	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/hash/sha256"
)

// maxCrawlDelay caps a Crawl-Delay directive so one host cannot stall a run.
const maxCrawlDelay = 60 * time.Second

// robotsRecord is the cached form of a robots.txt response.
type robotsRecord struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type robotsMemo struct {
	group     *robotstxt.Group
	expiresAt time.Time
}

// robotsPolicy loads and caches robots.txt per host.
type robotsPolicy struct {
	client    *http.Client
	cache     catalog.Cache
	clock     catalog.Clock
	ttl       time.Duration
	userAgent string
	logger    *zap.Logger
	// wait runs before every network load of robots.txt.
	wait func(context.Context) error

	mu   sync.Mutex
	memo map[string]robotsMemo
}

func newRobotsPolicy(
	transport http.RoundTripper,
	timeout time.Duration,
	ttl time.Duration,
	userAgent string,
	store catalog.Cache,
	clock catalog.Clock,
	wait func(context.Context) error,
	logger *zap.Logger,
) *robotsPolicy {
	return &robotsPolicy{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		cache:     store,
		clock:     clock,
		ttl:       ttl,
		userAgent: userAgent,
		logger:    logger,
		wait:      wait,
		memo:      make(map[string]robotsMemo),
	}
}

// lookup returns the group of rules applying to our user agent on the URL's host.
// Only a failed pacing wait is returned as an error; fetch failures allow access.
func (p *robotsPolicy) lookup(ctx context.Context, target *url.URL) (*robotstxt.Group, error) {
	hostKey := strings.ToLower(target.Scheme + "://" + target.Host)
	now := p.clock.Now()

	p.mu.Lock()
	if m, ok := p.memo[hostKey]; ok && now.Before(m.expiresAt) {
		p.mu.Unlock()
		return m.group, nil
	}
	p.mu.Unlock()

	data, err := p.load(ctx, hostKey)
	if err != nil {
		return nil, err
	}
	group := data.FindGroup(p.userAgent)

	p.mu.Lock()
	p.memo[hostKey] = robotsMemo{group: group, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()
	return group, nil
}

func (p *robotsPolicy) load(ctx context.Context, hostKey string) (*robotstxt.RobotsData, error) {
	key := sha256.Key("robots", hostKey)
	var rec robotsRecord
	if err := cache.GetJSON(ctx, p.cache, key, &rec); err == nil {
		if data, perr := robotstxt.FromStatusAndBytes(rec.Status, rec.Body); perr == nil {
			return data, nil
		}
	}

	if p.wait != nil {
		if err := p.wait(ctx); err != nil {
			return nil, fmt.Errorf("robots pacing: %w", err)
		}
	}
	rec, err := p.fetch(ctx, hostKey+"/robots.txt")
	if err != nil {
		p.logger.Warn("robots fetch failed; allowing access", zap.String("host", hostKey), zap.Error(err))
		return allowAll(), nil
	}
	data, err := robotstxt.FromStatusAndBytes(rec.Status, rec.Body)
	if err != nil {
		p.logger.Warn("robots parse failed; allowing access", zap.String("host", hostKey), zap.Error(err))
		return allowAll(), nil
	}
	if err := cache.SetJSON(ctx, p.cache, key, rec, p.ttl); err != nil {
		p.logger.Debug("robots cache write failed", zap.String("host", hostKey), zap.Error(err))
	}
	return data, nil
}

func (p *robotsPolicy) fetch(ctx context.Context, robotsURL string) (robotsRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return robotsRecord{}, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return robotsRecord{}, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return robotsRecord{}, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return robotsRecord{}, fmt.Errorf("read robots body: %w", err)
	}
	return robotsRecord{Status: resp.StatusCode, Body: body}, nil
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}

func crawlDelay(group *robotstxt.Group) time.Duration {
	if group == nil || group.CrawlDelay <= 0 {
		return 0
	}
	if group.CrawlDelay > maxCrawlDelay {
		return maxCrawlDelay
	}
	return group.CrawlDelay
}

func robotsPath(target *url.URL) string {
	p := target.EscapedPath()
	if p == "" {
		p = "/"
	}
	if target.RawQuery != "" {
		p += "?" + target.RawQuery
	}
	return p
}
