package reconcile

import (
	"context"
	"net/http"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// diagnosePages bounds the sample crawl run by Diagnose.
const (
	diagnosePages   = 3
	diagnoseSamples = 5
)

// Explainer reports which extraction strategy filled each field.
type Explainer interface {
	Explain(body []byte, sourceURL string) (catalog.ProductRecord, map[string]string)
}

// Diagnosis is a dry run of the pipeline against one URL. Nothing is written.
type Diagnosis struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Config    ConfigSummary     `json:"configuration"`
	Fetch     *FetchSummary     `json:"fetch_page,omitempty"`
	Extract   *ExtractSummary   `json:"parse_product,omitempty"`
	Discovery *DiscoverySummary `json:"discover_urls,omitempty"`
}

// ConfigSummary echoes the sync targets.
type ConfigSummary struct {
	SitemapURL   string `json:"sitemap_url"`
	MenuBaseURL  string `json:"menu_base_url"`
	MaxProducts  int    `json:"max_products_per_sync"`
	RenderSPA    bool   `json:"render_spa"`
	MirrorImages bool   `json:"mirror_images"`
}

// FetchSummary describes the test fetch.
type FetchSummary struct {
	URL         string `json:"url"`
	Status      string `json:"status"`
	StatusCode  int    `json:"status_code,omitempty"`
	BodyLength  int    `json:"body_length"`
	HasETag     bool   `json:"has_etag"`
	Revalidated bool   `json:"revalidated"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// ExtractSummary describes what the extractor recovered.
type ExtractSummary struct {
	Valid   bool                  `json:"valid"`
	Record  catalog.ProductRecord `json:"data"`
	Sources map[string]string     `json:"sources,omitempty"`
}

// DiscoverySummary reports a bounded crawl of the menu base.
type DiscoverySummary struct {
	MenuBaseURL string   `json:"menu_base"`
	Status      string   `json:"status"`
	URLsFound   int      `json:"urls_found"`
	SampleURLs  []string `json:"sample_urls,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Diagnose fetches and extracts testURL (or the menu base when empty) and
// samples a short crawl of the menu base.
func (r *Reconciler) Diagnose(ctx context.Context, testURL string) Diagnosis {
	d := Diagnosis{Config: ConfigSummary{
		SitemapURL:   r.cfg.SitemapURL,
		MenuBaseURL:  r.cfg.MenuBaseURL,
		MaxProducts:  r.cfg.MaxProducts,
		RenderSPA:    r.cfg.RenderSPA,
		MirrorImages: r.cfg.MirrorImages,
	}}
	if testURL == "" {
		testURL = r.cfg.MenuBaseURL
	}
	if testURL == "" {
		d.Error = "no URL provided: pass ?url= or configure sync.menu_base_url"
		return d
	}

	fetch := &FetchSummary{URL: testURL}
	d.Fetch = fetch
	resp, err := r.deps.Fetcher.Fetch(ctx, catalog.FetchRequest{
		URL:         testURL,
		Method:      http.MethodGet,
		Timeout:     r.cfg.RequestTimeout,
		Conditional: true,
	})
	if err != nil {
		fetch.Status = "error"
		fetch.Error = err.Error()
		return d
	}
	fetch.Status = "success"
	fetch.StatusCode = resp.StatusCode
	fetch.BodyLength = len(resp.Body)
	fetch.HasETag = resp.Headers.Get("ETag") != ""
	fetch.Revalidated = resp.Revalidated
	fetch.DurationMs = resp.Duration.Milliseconds()

	summary := &ExtractSummary{}
	if explainer, ok := r.deps.Extractor.(Explainer); ok {
		summary.Record, summary.Sources = explainer.Explain(resp.Body, testURL)
	} else {
		summary.Record = r.deps.Extractor.Extract(resp.Body, testURL)
	}
	summary.Valid = summary.Record.Name != ""
	d.Extract = summary

	if r.cfg.MenuBaseURL != "" {
		disc := &DiscoverySummary{MenuBaseURL: r.cfg.MenuBaseURL}
		urls, err := r.deps.Discoverer.Crawl(ctx, r.cfg.MenuBaseURL, diagnosePages)
		if err != nil {
			disc.Status = "error"
			disc.Error = err.Error()
		} else {
			disc.Status = "success"
			disc.URLsFound = len(urls)
			disc.SampleURLs = urls[:min(len(urls), diagnoseSamples)]
		}
		d.Discovery = disc
	}

	d.Success = true
	return d
}
