// Package server builds the catalog sync service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/api"
	"github.com/JakeFAU/menu-catalog-sync/internal/cache"
	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/clock/system"
	"github.com/JakeFAU/menu-catalog-sync/internal/config"
	"github.com/JakeFAU/menu-catalog-sync/internal/discovery"
	"github.com/JakeFAU/menu-catalog-sync/internal/extract"
	"github.com/JakeFAU/menu-catalog-sync/internal/fetcher"
	"github.com/JakeFAU/menu-catalog-sync/internal/fetcher/headless"
	"github.com/JakeFAU/menu-catalog-sync/internal/id/uuid"
	"github.com/JakeFAU/menu-catalog-sync/internal/logging"
	"github.com/JakeFAU/menu-catalog-sync/internal/media"
	"github.com/JakeFAU/menu-catalog-sync/internal/metrics"
	"github.com/JakeFAU/menu-catalog-sync/internal/progress"
	progresssinks "github.com/JakeFAU/menu-catalog-sync/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/menu-catalog-sync/internal/publisher/pubsub"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
	"github.com/JakeFAU/menu-catalog-sync/internal/runlock"
	"github.com/JakeFAU/menu-catalog-sync/internal/scheduler"
	gcsstorage "github.com/JakeFAU/menu-catalog-sync/internal/storage/gcs"
	localstorage "github.com/JakeFAU/menu-catalog-sync/internal/storage/local"
	memoryStorage "github.com/JakeFAU/menu-catalog-sync/internal/storage/memory"
	pgstore "github.com/JakeFAU/menu-catalog-sync/internal/storage/postgres"
	"github.com/JakeFAU/menu-catalog-sync/internal/telemetry"
)

const (
	serviceName      = "menu-catalog-sync"
	redisCachePrefix = "catalog:cache:"
	redisLockPrefix  = "catalog:lock:"
	sweepInterval    = 10 * time.Minute
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	reconciler *reconcile.Reconciler
	runs       catalog.RunLog

	redis           *redis.Client
	renderer        *headless.Renderer
	pgStore         *pgstore.Store
	gcsBlobs        *gcsstorage.BlobStore
	pubsubPublisher *gcppublisher.Publisher
	pubsubClient    *pubsub.Client
	progressHub     *progress.Hub
	tracerShutdown  func(context.Context) error
	stopBackground  context.CancelFunc
}

// Build validates cfg and wires every component it selects.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logging.OrNop(logger)}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.WithoutCancel(ctx))
		return nil, err
	}
	app.logger.Info("application built",
		zap.String("cache", cfg.Cache.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("blobs", cfg.Storage.BlobBackend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	clock := system.New()
	ids := uuid.New()

	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBackground = stop

	store, err := a.setupCache(ctx, bgCtx)
	if err != nil {
		return err
	}
	lock := a.setupLock()

	if a.cfg.Sync.RenderSPA {
		a.renderer = headless.NewChromedp(headless.Config{
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		}, a.logger)
		a.logger.Info("headless rendering enabled", zap.Int("nav_timeout_seconds", a.cfg.Headless.NavTimeoutSec))
	}

	fetchCfg := fetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RatePerMinute: a.cfg.Crawler.CrawlRateLimit,
		Timeout:       a.cfg.RequestTimeout(),
		RobotsTimeout: a.cfg.RobotsTimeout(),
		RobotsTTL:     time.Duration(a.cfg.Cache.RobotsTTLHours) * time.Hour,
		FetchTTL:      time.Duration(a.cfg.Cache.FetchTTLHours) * time.Hour,
		RespectRobots: a.cfg.Crawler.RespectRobots,
	}
	var renderer catalog.Renderer
	if a.renderer != nil {
		renderer = a.renderer
	}
	fetch, err := fetcher.New(fetchCfg, store, clock, renderer, a.logger)
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}

	discoverer := discovery.New(discovery.Config{
		MaxPages:   a.cfg.Crawler.MaxCrawlPages,
		PageDelay:  time.Duration(a.cfg.Crawler.PageDelayMs) * time.Millisecond,
		Timeout:    a.cfg.RequestTimeout(),
		SitemapTTL: time.Duration(a.cfg.Cache.SitemapTTLMinutes) * time.Minute,
		CrawlTTL:   time.Duration(a.cfg.Cache.CrawlTTLMinutes) * time.Minute,
	}, fetch, store, clock, a.logger)

	catalogStore, runs, err := a.setupDatabase(ctx, ids)
	if err != nil {
		return err
	}
	a.runs = runs

	deps := reconcile.Deps{
		Fetcher:    fetch,
		Discoverer: discoverer,
		Extractor:  extract.New(a.logger),
		Store:      catalogStore,
		RunLog:     runs,
		Lock:       lock,
		Clock:      clock,
		IDs:        ids,
		Logger:     a.logger,
	}
	if a.cfg.Sync.RenderSPA {
		deps.Detector = headless.NewDetector(a.cfg.Headless.PromotionThresh)
	}
	if a.cfg.Sync.MirrorImages {
		blobs, err := a.setupStorage(ctx)
		if err != nil {
			return err
		}
		deps.Mirror = media.NewMirror(fetch, blobs, a.cfg.Storage.ImagePrefix, a.logger)
	}
	if a.cfg.Progress.Enabled {
		a.progressHub = progress.NewHub(progress.Config{
			BufferSize:     a.cfg.Progress.BufferSize,
			MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
			MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
			Logger:         a.logger.Named("progress_hub"),
		}, progresssinks.NewLogSink(a.logger.Named("progress")))
		deps.Progress = a.progressHub
		a.logger.Info("progress events enabled", zap.Int("buffer_size", a.cfg.Progress.BufferSize))
	}
	if a.cfg.PubSub.Enabled {
		publisher, err := a.setupPublisher(ctx)
		if err != nil {
			return err
		}
		deps.Publisher = publisher
	}

	a.reconciler, err = reconcile.New(reconcile.Config{
		SitemapURL:     a.cfg.Sync.SitemapURL,
		MenuBaseURL:    a.cfg.Sync.MenuBaseURL,
		MaxProducts:    a.cfg.Sync.MaxProductsPerSync,
		ProductDelay:   time.Duration(a.cfg.Sync.ProductDelayMs) * time.Millisecond,
		Freshness:      time.Duration(a.cfg.Sync.FreshnessMinutes) * time.Minute,
		StaleAfter:     time.Duration(a.cfg.Sync.StaleAfterDays) * 24 * time.Hour,
		LockTTL:        time.Duration(a.cfg.Sync.LockTTLMinutes) * time.Minute,
		ProbeTimeout:   a.cfg.ProbeTimeout(),
		RequestTimeout: a.cfg.RequestTimeout(),
		SourceTag:      a.cfg.Sync.SourceTag,
		RenderSPA:      a.cfg.Sync.RenderSPA,
		MirrorImages:   a.cfg.Sync.MirrorImages,
	}, deps)
	if err != nil {
		return fmt.Errorf("reconciler init failed: %w", err)
	}
	return nil
}

func (a *App) setupCache(ctx, bgCtx context.Context) (catalog.Cache, error) {
	if a.cfg.Cache.Backend == "redis" {
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		a.redis = client
		a.logger.Info("using redis cache", zap.String("addr", a.cfg.Cache.RedisAddr))
		return cache.NewRedis(client, redisCachePrefix), nil
	}
	a.logger.Info("using in-memory cache")
	mem := cache.NewMemory(time.Now)
	go mem.RunSweeper(bgCtx, sweepInterval)
	return mem, nil
}

func (a *App) setupLock() catalog.RunLock {
	if a.redis != nil {
		return runlock.NewRedis(a.redis, redisLockPrefix)
	}
	return runlock.NewMemory(time.Now)
}

func (a *App) setupDatabase(ctx context.Context, ids catalog.IDGenerator) (catalog.Store, catalog.RunLog, error) {
	if a.cfg.Storage.Backend != "postgres" {
		a.logger.Info("using in-memory catalog store")
		mem := memoryStorage.NewCatalogStore(ids)
		return mem, mem, nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	}, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog store init failed: %w", err)
	}
	a.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("schema bootstrap failed: %w", err)
	}
	a.logger.Info("postgres catalog store initialized")
	return store, store, nil
}

func (a *App) setupStorage(ctx context.Context) (catalog.BlobStore, error) {
	switch a.cfg.Storage.BlobBackend {
	case "gcs":
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsBlobs = blobs
		a.logger.Info("using GCS image storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local image storage", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory image storage")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (catalog.Publisher, error) {
	publisher, client, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.pubsubPublisher = publisher
	a.pubsubClient = client
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Sync performs one run and returns its result.
func (a *App) Sync(ctx context.Context, limit int) catalog.SyncRunResult {
	return a.reconciler.Run(ctx, reconcile.RunOptions{Limit: limit})
}

// Diagnose runs the read-only diagnostic report.
func (a *App) Diagnose(ctx context.Context, testURL string) reconcile.Diagnosis {
	return a.reconciler.Diagnose(ctx, testURL)
}

// Handler builds the HTTP API over this app.
func (a *App) Handler() *api.Server {
	return api.NewServer(a.reconciler, a.runs, api.Options{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
		Ready:       a.ready,
	}, a.logger)
}

func (a *App) ready(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Serve runs the HTTP API, and the scheduler when enabled, until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	apiServer := a.Handler()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Sync.ScheduleEnabled {
		interval, err := scheduler.ParseFrequency(a.cfg.Sync.Frequency)
		if err != nil {
			return err
		}
		sched, err := scheduler.New(scheduler.Config{Interval: interval}, a.reconciler, a.logger)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	apiServer.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.stopBackground != nil {
		a.stopBackground()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
