package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/cache"
	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/hash/sha256"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
)

// Config tunes discovery.
type Config struct {
	MaxPages   int
	PageDelay  time.Duration
	Timeout    time.Duration
	SitemapTTL time.Duration
	CrawlTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 20
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.SitemapTTL <= 0 {
		c.SitemapTTL = time.Hour
	}
	if c.CrawlTTL <= 0 {
		c.CrawlTTL = 2 * time.Hour
	}
	return c
}

// Discoverer implements catalog.Discoverer.
type Discoverer struct {
	cfg     Config
	fetcher catalog.Fetcher
	cache   catalog.Cache
	clock   catalog.Clock
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, fetcher catalog.Fetcher, store catalog.Cache, clock catalog.Clock, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		cache:   store,
		clock:   clock,
		logger:  logger.Named("discovery"),
	}
}

// Discover returns product URLs from the sitemap when it yields any, otherwise
// from a crawl of the menu site. Non-empty results are cached per source.
func (d *Discoverer) Discover(ctx context.Context, sitemapURL, menuBaseURL string) (catalog.DiscoveryResult, error) {
	var causes []error

	if sitemapURL != "" {
		result, err := d.cached(ctx, sitemapKey(sitemapURL), catalog.DiscoverySitemap, func() ([]string, error) {
			return d.FromSitemap(ctx, sitemapURL, menuBaseURL)
		}, d.cfg.SitemapTTL)
		if err == nil && len(result.URLs) > 0 {
			return result, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return catalog.DiscoveryResult{}, fmt.Errorf("%w: %w", catalog.ErrDiscoveryFailed, ctx.Err())
			}
			d.logger.Warn("sitemap discovery failed; falling back to crawl", zap.String("sitemap", sitemapURL), zap.Error(err))
			causes = append(causes, err)
		} else {
			d.logger.Info("sitemap listed no product urls", zap.String("sitemap", sitemapURL))
		}
	}

	if menuBaseURL != "" {
		result, err := d.cached(ctx, crawlKey(menuBaseURL), catalog.DiscoveryCrawl, func() ([]string, error) {
			return d.Crawl(ctx, menuBaseURL, d.cfg.MaxPages)
		}, d.cfg.CrawlTTL)
		if err == nil && len(result.URLs) > 0 {
			return result, nil
		}
		if err != nil {
			causes = append(causes, err)
		}
	}

	if len(causes) > 0 {
		return catalog.DiscoveryResult{}, fmt.Errorf("%w: no product urls found: %w", catalog.ErrDiscoveryFailed, errors.Join(causes...))
	}
	return catalog.DiscoveryResult{}, fmt.Errorf("%w: no product urls found from sitemap or crawl", catalog.ErrDiscoveryFailed)
}

func (d *Discoverer) cached(
	ctx context.Context,
	key string,
	source catalog.DiscoverySource,
	load func() ([]string, error),
	ttl time.Duration,
) (catalog.DiscoveryResult, error) {
	var urls []string
	if err := cache.GetJSON(ctx, d.cache, key, &urls); err == nil && len(urls) > 0 {
		metrics.ObserveDiscovery(string(source), true, len(urls))
		return catalog.DiscoveryResult{URLs: urls, Source: source, FromCache: true}, nil
	}

	urls, err := load()
	if err != nil {
		return catalog.DiscoveryResult{}, err
	}
	metrics.ObserveDiscovery(string(source), false, len(urls))
	if len(urls) > 0 {
		if err := cache.SetJSON(ctx, d.cache, key, urls, ttl); err != nil {
			d.logger.Debug("discovery cache write failed", zap.String("source", string(source)), zap.Error(err))
		}
	}
	return catalog.DiscoveryResult{URLs: urls, Source: source}, nil
}

func sitemapKey(sitemapURL string) string { return sha256.Key("sitemap", sitemapURL) }

func crawlKey(menuBaseURL string) string { return sha256.Key("crawl", menuBaseURL) }
