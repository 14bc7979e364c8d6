package catalog

import (
	"net/http"
	"time"
)

// RunStatus is the outcome of one sync run.
type RunStatus string

// Run status values reported in SyncRunResult.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusError   RunStatus = "error"
)

// DiscoverySource names the strategy that produced a set of product URLs.
type DiscoverySource string

// Discovery sources.
const (
	DiscoverySitemap DiscoverySource = "sitemap"
	DiscoveryCrawl   DiscoverySource = "crawl"
)

// Taxonomy groups the tag terms attached to a product.
type Taxonomy string

// Taxonomies written by the reconciler.
const (
	TaxonomyCategory Taxonomy = "category"
	TaxonomyBrand    Taxonomy = "brand"
	TaxonomyEffects  Taxonomy = "effects"
)

// ProductRecord is one mirrored catalog entry, keyed by its canonical SourceURL.
type ProductRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         string    `json:"price,omitempty"`
	Category      string    `json:"category,omitempty"`
	Brand         string    `json:"brand,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	THC           string    `json:"thc,omitempty"`
	CBD           string    `json:"cbd,omitempty"`
	Effects       []string  `json:"effects,omitempty"`
	Flavors       []string  `json:"flavors,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	InStock       bool      `json:"in_stock"`
	SourceURL     string    `json:"source_url"`
	RemoteID      string    `json:"remote_id,omitempty"`
	Source        string    `json:"source,omitempty"`
	FeaturedImage string    `json:"featured_image,omitempty"`
	LastSynced    time.Time `json:"last_synced"`
	LastSeen      time.Time `json:"last_seen"`
}

// Clone returns a deep copy of the record.
func (r ProductRecord) Clone() ProductRecord {
	cp := r
	cp.Effects = cloneStrings(r.Effects)
	cp.Flavors = cloneStrings(r.Flavors)
	cp.Tags = cloneStrings(r.Tags)
	return cp
}

// SyncRunResult summarizes one reconciler run. It is always returned, never raised.
type SyncRunResult struct {
	RunID      string          `json:"run_id"`
	Status     RunStatus       `json:"status"`
	Success    bool            `json:"success"`
	Synced     int             `json:"synced"`
	Skipped    int             `json:"skipped"`
	Retired    int             `json:"retired"`
	Discovered int             `json:"discovered"`
	Source     DiscoverySource `json:"source,omitempty"`
	Errors     []string        `json:"errors"`
	Busy       bool            `json:"busy,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// DiscoveryResult is the ordered, deduplicated set of product URLs for a run.
type DiscoveryResult struct {
	URLs      []string        `json:"urls"`
	Source    DiscoverySource `json:"source"`
	FromCache bool            `json:"from_cache"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Method      string
	Timeout     time.Duration
	Conditional bool
	Headers     http.Header
}

// FetchResponse is the outcome of a fetch. Non-2xx responses are returned
// with their status code rather than as errors.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	Revalidated bool
	Rendered    bool
}

// OK reports whether the response carries a 2xx status.
func (r FetchResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FetchCacheEntry holds the validators and body of the last 200 response for a URL.
type FetchCacheEntry struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Body         []byte    `json:"body,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
