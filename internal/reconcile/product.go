package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

type outcome string

const (
	outcomeSynced  outcome = "synced"
	outcomeSkipped outcome = "invalid"
	outcomeFailed  outcome = "error"
)

// syncProduct fetches, extracts and upserts one product URL.
func (r *Reconciler) syncProduct(
	ctx context.Context,
	productURL string,
	existing catalog.ProductRecord,
	found bool,
) (outcome, error) {
	resp, err := r.fetchPage(ctx, productURL)
	if err != nil {
		return outcomeFailed, err
	}

	record := r.deps.Extractor.Extract(resp.Body, productURL)
	if record.Name == "" {
		r.log.Debug("no product name extracted", zap.String("url", productURL))
		return outcomeSkipped, nil
	}
	if record.SourceURL == "" {
		record.SourceURL = productURL
	}
	now := r.deps.Clock.Now()
	record.Source = r.cfg.SourceTag
	record.LastSeen = now
	record.LastSynced = now

	id, err := r.deps.Store.Upsert(ctx, record)
	if err != nil {
		return outcomeFailed, fmt.Errorf("save %s: %w", productURL, err)
	}

	var errs []string
	for _, tax := range []struct {
		taxonomy catalog.Taxonomy
		terms    []string
	}{
		{catalog.TaxonomyCategory, splitTerms(record.Category)},
		{catalog.TaxonomyBrand, splitTerms(record.Brand)},
		{catalog.TaxonomyEffects, record.Effects},
	} {
		if len(tax.terms) == 0 {
			continue
		}
		if err := r.deps.Store.SetTags(ctx, id, tax.taxonomy, tax.terms); err != nil {
			errs = append(errs, fmt.Sprintf("tag %s %s: %v", productURL, tax.taxonomy, err))
		}
	}

	if record.ImageURL != "" && (!found || existing.FeaturedImage == "") {
		if err := r.attachImage(ctx, id, record.ImageURL); err != nil {
			errs = append(errs, fmt.Sprintf("image %s: %v", productURL, err))
		}
	}

	if len(errs) > 0 {
		return outcomeSynced, errors.New(strings.Join(errs, "; "))
	}
	return outcomeSynced, nil
}

// fetchPage GETs the page conditionally and, when enabled, re-renders pages
// that look like unrendered SPA shells.
func (r *Reconciler) fetchPage(ctx context.Context, productURL string) (catalog.FetchResponse, error) {
	resp, err := r.deps.Fetcher.Fetch(ctx, catalog.FetchRequest{
		URL:         productURL,
		Method:      http.MethodGet,
		Timeout:     r.cfg.RequestTimeout,
		Conditional: true,
	})
	if err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("fetch %s: %w", productURL, err)
	}
	if !resp.OK() {
		return catalog.FetchResponse{}, fmt.Errorf("fetch %s: status %d: %w", productURL, resp.StatusCode, catalog.ErrFetchFailed)
	}
	if !r.cfg.RenderSPA || r.deps.Detector == nil || !r.deps.Detector.NeedsRender(resp) {
		return resp, nil
	}

	rendered, err := r.deps.Fetcher.Render(ctx, productURL)
	if err != nil || !rendered.OK() {
		r.log.Warn("headless render failed; using static body",
			zap.String("url", productURL),
			zap.Int("status", rendered.StatusCode),
			zap.Error(err),
		)
		return resp, nil
	}
	return rendered, nil
}

// attachImage sets the featured image, mirroring it first when configured.
// A failed mirror leaves the record without an image.
func (r *Reconciler) attachImage(ctx context.Context, id, imageURL string) error {
	ref := imageURL
	if r.cfg.MirrorImages && r.deps.Mirror != nil {
		uri, err := r.deps.Mirror.Mirror(ctx, imageURL)
		if err != nil {
			r.log.Warn("image mirror failed", zap.String("image_url", imageURL), zap.Error(err))
			return nil
		}
		ref = uri
	}
	if _, err := r.deps.Store.SetImage(ctx, id, ref); err != nil {
		return err
	}
	return nil
}

// splitTerms splits comma-joined values into trimmed, non-empty terms.
func splitTerms(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if term := strings.TrimSpace(part); term != "" {
			out = append(out, term)
		}
	}
	return out
}
