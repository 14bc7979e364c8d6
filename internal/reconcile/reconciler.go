package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
	"github.com/JakeFAU/menu-catalog-sync/internal/progress"
	"github.com/JakeFAU/menu-catalog-sync/internal/telemetry"
)

// CompletedEvent is published after every recorded run.
const CompletedEvent = "catalog.sync.completed"

const lockKey = "catalog-sync"

// sitemapCandidates are probed, in order, when no sitemap URL is configured.
var sitemapCandidates = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemaps/sitemap.xml"}

// Config is resolved once per process and threaded through every run.
type Config struct {
	SitemapURL     string
	MenuBaseURL    string
	MaxProducts    int
	ProductDelay   time.Duration
	Freshness      time.Duration
	StaleAfter     time.Duration
	LockTTL        time.Duration
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	SourceTag      string
	RenderSPA      bool
	MirrorImages   bool
}

func (c Config) withDefaults() Config {
	if c.MaxProducts <= 0 {
		c.MaxProducts = 100
	}
	if c.ProductDelay < 0 {
		c.ProductDelay = 0
	}
	if c.Freshness < 0 {
		c.Freshness = 0
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Hour
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SourceTag == "" {
		c.SourceTag = "SITEMAP_CRAWL"
	}
	return c
}

// ImageMirror copies a remote image into managed storage.
type ImageMirror interface {
	Mirror(ctx context.Context, imageURL string) (string, error)
}

// RenderDetector decides whether a fetched page needs a headless render.
type RenderDetector interface {
	NeedsRender(resp catalog.FetchResponse) bool
}

// Deps are the collaborators a Reconciler drives. RunLog, Lock, Publisher,
// Mirror, Detector and Progress are optional.
type Deps struct {
	Fetcher    catalog.Fetcher
	Discoverer catalog.Discoverer
	Extractor  catalog.Extractor
	Store      catalog.Store
	RunLog     catalog.RunLog
	Lock       catalog.RunLock
	Publisher  catalog.Publisher
	Mirror     ImageMirror
	Detector   RenderDetector
	Progress   progress.Emitter
	Clock      catalog.Clock
	IDs        catalog.IDGenerator
	Logger     *zap.Logger
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Limit overrides Config.MaxProducts when positive.
	Limit int
}

// Reconciler implements the sync state machine.
type Reconciler struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	running atomic.Bool
}

// New validates deps and builds a Reconciler.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("reconciler fetcher is required")
	case deps.Discoverer == nil:
		return nil, fmt.Errorf("reconciler discoverer is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("reconciler extractor is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("reconciler store is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("reconciler clock is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("reconciler id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  logger.Named("reconcile"),
	}, nil
}

// Running reports whether a run is active in this process.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Run executes one sync. It never returns an error: every failure is folded
// into the result, and a run rejected by the single-flight guard comes back
// with Busy set.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) catalog.SyncRunResult {
	result := r.newResult()

	if !r.running.CompareAndSwap(false, true) {
		return r.busy(result)
	}
	defer r.running.Store(false)

	if r.deps.Lock != nil {
		unlock, err := r.deps.Lock.TryLock(ctx, lockKey, r.cfg.LockTTL)
		if errors.Is(err, catalog.ErrRunInProgress) {
			return r.busy(result)
		}
		if err != nil {
			return r.fail(ctx, result, fmt.Sprintf("acquire run lock: %v", err))
		}
		defer func() {
			// Release even if the run context was cancelled.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn("release run lock failed", zap.Error(err))
			}
		}()
	}

	metrics.SetSyncInProgress(true)
	defer metrics.SetSyncInProgress(false)

	ctx, span := telemetry.Tracer().Start(ctx, "sync.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", result.RunID))

	result = r.execute(ctx, result, opts)

	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("synced", result.Synced),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("retired", result.Retired),
	)
	if result.Status == catalog.RunStatusError {
		span.SetStatus(codes.Error, "sync failed")
	}
	return result
}

func (r *Reconciler) execute(ctx context.Context, result catalog.SyncRunResult, opts RunOptions) catalog.SyncRunResult {
	logger := r.log.With(zap.String("run_id", result.RunID))
	r.emit(result.RunID, progress.StageRunStart, "", 0, "")

	sitemapURL, err := r.resolveSitemap(ctx)
	if err != nil {
		logger.Error("sync configuration invalid", zap.Error(err))
		return r.fail(ctx, result, err.Error())
	}

	discovered, err := r.deps.Discoverer.Discover(ctx, sitemapURL, r.cfg.MenuBaseURL)
	if err != nil {
		logger.Error("discovery failed", zap.String("sitemap_url", sitemapURL), zap.Error(err))
		return r.fail(ctx, result, err.Error())
	}
	result.Discovered = len(discovered.URLs)
	result.Source = discovered.Source

	limit := r.cfg.MaxProducts
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	urls := discovered.URLs
	if len(urls) > limit {
		urls = urls[:limit]
	}
	logger.Info("sync started",
		zap.String("source", string(discovered.Source)),
		zap.Bool("from_cache", discovered.FromCache),
		zap.Int("discovered", len(discovered.URLs)),
		zap.Int("processing", len(urls)),
	)

	fetched := 0
	for _, productURL := range urls {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("run interrupted: %v", err))
			break
		}

		existing, found := r.lookup(ctx, productURL)
		if found && r.fresh(existing) {
			result.Skipped++
			metrics.ObserveProduct("fresh")
			r.emit(result.RunID, progress.StageProductFresh, productURL, 0, "")
			continue
		}

		if fetched > 0 && r.cfg.ProductDelay > 0 {
			if err := r.deps.Clock.Sleep(ctx, r.cfg.ProductDelay); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("run interrupted: %v", err))
				break
			}
		}
		fetched++

		started := r.deps.Clock.Now()
		outcome, err := r.syncProduct(ctx, productURL, existing, found)
		metrics.ObserveProduct(string(outcome))
		note := ""
		if err != nil {
			note = err.Error()
			result.Errors = append(result.Errors, note)
			logger.Warn("product sync failed", zap.String("url", productURL), zap.Error(err))
		}
		stage := progress.StageProductError
		switch outcome {
		case outcomeSynced:
			result.Synced++
			stage = progress.StageProductSynced
		case outcomeSkipped:
			result.Skipped++
			stage = progress.StageProductInvalid
		}
		r.emit(result.RunID, stage, productURL, r.deps.Clock.Now().Sub(started), note)
	}

	r.retire(ctx, &result, discovered.URLs)
	return r.finish(ctx, result)
}

// resolveSitemap returns the configured sitemap URL or probes conventional
// locations on the menu host.
func (r *Reconciler) resolveSitemap(ctx context.Context) (string, error) {
	if r.cfg.SitemapURL != "" {
		if err := config.CheckBaseURL(r.cfg.SitemapURL); err != nil {
			return "", fmt.Errorf("invalid sitemap URL: %v: %w", err, catalog.ErrInvalidConfiguration)
		}
	}
	if r.cfg.MenuBaseURL != "" {
		if err := config.CheckBaseURL(r.cfg.MenuBaseURL); err != nil {
			return "", fmt.Errorf("invalid menu base URL format: %v: %w", err, catalog.ErrInvalidConfiguration)
		}
	}
	if r.cfg.SitemapURL != "" {
		return r.cfg.SitemapURL, nil
	}
	if r.cfg.MenuBaseURL == "" {
		return "", fmt.Errorf("sitemap URL not configured: %w", catalog.ErrInvalidConfiguration)
	}

	base, _ := url.Parse(r.cfg.MenuBaseURL)
	origin := base.Scheme + "://" + base.Host
	for _, candidate := range sitemapCandidates {
		resp, err := r.deps.Fetcher.Fetch(ctx, catalog.FetchRequest{
			URL:     origin + candidate,
			Method:  http.MethodHead,
			Timeout: r.cfg.ProbeTimeout,
		})
		if err != nil {
			r.log.Debug("sitemap probe failed", zap.String("url", origin+candidate), zap.Error(err))
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return origin + candidate, nil
		}
	}
	return origin + sitemapCandidates[0], nil
}

func (r *Reconciler) lookup(ctx context.Context, productURL string) (catalog.ProductRecord, bool) {
	existing, err := r.deps.Store.FindByURL(ctx, productURL)
	if err == nil {
		return existing, true
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		r.log.Warn("lookup existing product failed", zap.String("url", productURL), zap.Error(err))
	}
	return catalog.ProductRecord{}, false
}

func (r *Reconciler) fresh(existing catalog.ProductRecord) bool {
	if existing.LastSynced.IsZero() {
		return false
	}
	return r.deps.Clock.Now().Sub(existing.LastSynced) <= r.cfg.Freshness
}

// retire marks stale in-stock records that are absent from discovery as out of stock.
func (r *Reconciler) retire(ctx context.Context, result *catalog.SyncRunResult, discovered []string) {
	cutoff := r.deps.Clock.Now().Add(-r.cfg.StaleAfter)
	stale, err := r.deps.Store.ListStale(ctx, cutoff, discovered)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list stale products: %v", err))
		return
	}
	for _, record := range stale {
		if err := r.deps.Store.MarkOutOfStock(ctx, record.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("retire %s: %v", record.SourceURL, err))
			continue
		}
		result.Retired++
		r.emit(result.RunID, progress.StageProductRetired, record.SourceURL, 0, "")
		r.log.Info("product retired", zap.String("url", record.SourceURL), zap.Time("last_seen", record.LastSeen))
	}
}

func (r *Reconciler) emit(runID string, stage progress.Stage, productURL string, dur time.Duration, note string) {
	if r.deps.Progress == nil {
		return
	}
	r.deps.Progress.Emit(progress.Event{
		RunID: runID,
		TS:    r.deps.Clock.Now(),
		Stage: stage,
		URL:   productURL,
		Dur:   dur,
		Note:  note,
	})
}

func (r *Reconciler) newResult() catalog.SyncRunResult {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		r.log.Warn("generate run id failed", zap.Error(err))
	}
	return catalog.SyncRunResult{
		RunID:     runID,
		Errors:    []string{},
		StartedAt: r.deps.Clock.Now(),
	}
}

func (r *Reconciler) busy(result catalog.SyncRunResult) catalog.SyncRunResult {
	result.Status = catalog.RunStatusError
	result.Busy = true
	result.Errors = append(result.Errors, catalog.ErrRunInProgress.Error())
	result.FinishedAt = r.deps.Clock.Now()
	r.log.Info("sync rejected: run in progress")
	return result
}

// fail ends the run with status error.
func (r *Reconciler) fail(ctx context.Context, result catalog.SyncRunResult, msg string) catalog.SyncRunResult {
	result.Status = catalog.RunStatusError
	result.Errors = append(result.Errors, msg)
	return r.finish(ctx, result)
}

// finish derives the status, then records, publishes and observes the run.
func (r *Reconciler) finish(ctx context.Context, result catalog.SyncRunResult) catalog.SyncRunResult {
	result.FinishedAt = r.deps.Clock.Now()
	switch {
	case result.Status == catalog.RunStatusError:
	case len(result.Errors) == 0:
		result.Status = catalog.RunStatusSuccess
	default:
		result.Status = catalog.RunStatusPartial
	}
	result.Success = result.Status != catalog.RunStatusError

	ctx = context.WithoutCancel(ctx)
	if r.deps.RunLog != nil {
		if err := r.deps.RunLog.RecordRun(ctx, result); err != nil {
			r.log.Error("record run failed", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
	if r.deps.Publisher != nil {
		if _, err := r.deps.Publisher.Publish(ctx, CompletedEvent, result); err != nil {
			r.log.Warn("publish run completion failed", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
	duration := result.FinishedAt.Sub(result.StartedAt)
	metrics.ObserveSyncRun(string(result.Status), duration)
	r.emit(result.RunID, progress.StageRunDone, "", duration, string(result.Status))
	r.log.Info("sync finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("synced", result.Synced),
		zap.Int("skipped", result.Skipped),
		zap.Int("retired", result.Retired),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", duration),
	)
	return result
}
