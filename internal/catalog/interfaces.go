package catalog

import (
	"context"
	"io"
	"time"
)

// Clock returns the current time and sleeps; injectable for tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces record and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Cache is an expiring key/value store. Get returns ErrCacheMiss for absent or expired keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Fetcher performs paced, robots-aware HTTP requests.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
	// Render loads the URL in a JavaScript-capable browser.
	Render(ctx context.Context, url string) (FetchResponse, error)
}

// Renderer executes a page in a headless browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string, userAgent string) (FetchResponse, error)
}

// Discoverer enumerates candidate product URLs.
type Discoverer interface {
	Discover(ctx context.Context, sitemapURL, menuBaseURL string) (DiscoveryResult, error)
	Crawl(ctx context.Context, menuBaseURL string, maxPages int) ([]string, error)
}

// Extractor turns a product page into a (possibly partial) ProductRecord.
type Extractor interface {
	Extract(body []byte, sourceURL string) ProductRecord
}

// Store is the catalog persistence contract. Records are keyed by SourceURL.
type Store interface {
	// FindByURL returns ErrNotFound when no record has the URL.
	FindByURL(ctx context.Context, sourceURL string) (ProductRecord, error)
	// Upsert creates or updates the record with the same SourceURL and returns its ID.
	Upsert(ctx context.Context, record ProductRecord) (string, error)
	SetTags(ctx context.Context, id string, taxonomy Taxonomy, terms []string) error
	// SetImage sets the featured image only if none is set and reports whether it wrote.
	SetImage(ctx context.Context, id string, imageRef string) (bool, error)
	// ListStale returns in-stock records last seen before olderThan whose URL is not in exclude.
	ListStale(ctx context.Context, olderThan time.Time, exclude []string) ([]ProductRecord, error)
	MarkOutOfStock(ctx context.Context, id string) error
}

// RunLog persists run summaries.
type RunLog interface {
	RecordRun(ctx context.Context, result SyncRunResult) error
	// LastRun returns ErrNotFound before the first run.
	LastRun(ctx context.Context) (SyncRunResult, error)
}

// RunLock is a single-flight guard with a TTL. TryLock returns ErrRunInProgress when held.
type RunLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes catalog events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
