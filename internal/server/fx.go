// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/api"
	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-crawler/internal/headless/detector"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitemap-crawler/internal/router"
	"github.com/JakeFAU/sitemap-crawler/internal/sitemapcrawl"
	gcsstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitemap-crawler/internal/telemetry"
)

const serviceName = "sitemap-crawler"

// runStore is what the app needs from a run metadata backend.
type runStore interface {
	crawler.MetadataStore
	api.RunLister
}

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	service        *sitemapcrawl.Service
	storage        *storage.Client
	pubsub         *gcppublisher.Publisher
	pgRuns         *pgstore.RunStore
	browser        *headlessfetcher.Browser
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		Headless       bool   `json:"headless"`
		PubSubTopic    string `json:"pubsub_topic,omitempty"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		Headless:       cfg.Headless.Enabled,
		PubSubTopic:    cfg.PubSub.TopicName,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Service exposes the crawl orchestrator, mainly for one-shot CLI runs.
func (a *App) Service() *sitemapcrawl.Service {
	return a.service
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRuns != nil {
		a.pgRuns.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: serviceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	runs, err := setupRunStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, topic, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	renderer := setupRenderer(app)

	initial, maxBackoff := cfg.Crawler.Backoff()
	var limiter *ratelimit.Limiter
	if rl := (ratelimit.Config{DefaultRPS: cfg.Crawler.RateLimitRPS, DefaultBurst: cfg.Crawler.RateLimitBurst}); rl.Enabled() {
		limiter = ratelimit.New(rl)
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", rl.DefaultRPS),
			zap.Int("default_burst", rl.DefaultBurst),
		)
	}
	app.service, err = sitemapcrawl.New(sitemapcrawl.Config{
		ProxyEnvVar: cfg.Proxy.EnvVar,
		Topic:       topic,
		Engine: collyfetcher.Config{
			UserAgent:      cfg.Crawler.UserAgent,
			RequestTimeout: cfg.Crawler.RequestTimeout(),
			RunTimeout:     cfg.Crawler.RunTimeout(),
			Parallelism:    cfg.Crawler.Parallelism,
			QueueSize:      cfg.Crawler.QueueSize,
			RespectRobots:  cfg.Crawler.RespectRobots,
			Limiter:        limiter,
		},
		Retry: crawler.NewRetryPolicy(cfg.Crawler.MaxAttempts, initial, maxBackoff),
		Sitemap: router.Options{
			IndexURL:     cfg.Sitemap.IndexURL,
			Marker:       cfg.Sitemap.Marker,
			LookbackDays: cfg.Sitemap.LookbackDays,
		},
		LocatorTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}, sitemapcrawl.Deps{
		Blobs:     blobStore,
		Publisher: publisher,
		Runs:      runs,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Renderer:  renderer,
		Detector:  detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Logger:    logger.Named("sitemapcrawl"),
	})
	if err != nil {
		return nil, fmt.Errorf("sitemap service init failed: %w", err)
	}

	app.apiServer = api.NewServer(
		app.service,
		runs,
		api.Options{RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second},
		logger.Named("api"),
	)
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	var blobStore crawler.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memorystorage.NewBlobStore()
	}
	return blobStore, nil
}

func setupRunStore(ctx context.Context, app *App) (runStore, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping run metadata in memory")
		return memorystorage.NewRunStore(), nil
	}
	var err error
	app.pgRuns, err = pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxConns), //nolint:gosec // validated small positive value
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	app.logger.Info("postgres run store initialized")
	return app.pgRuns, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, string, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), "sitemap-runs", nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsub = gcppublisher.New(client)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsub, app.cfg.PubSub.TopicName, nil
}

func setupRenderer(app *App) sitemapcrawl.Renderer {
	if !app.cfg.Headless.Enabled {
		app.logger.Info("headless rendering disabled")
		return headlessfetcher.NewNoop()
	}
	proxyURL, _ := os.LookupEnv(app.cfg.Proxy.EnvVar)
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		ProxyServer:       strings.TrimSpace(proxyURL),
	})
	if err != nil {
		app.logger.Warn("headless browser init failed, rendering disabled", zap.Error(err))
		return headlessfetcher.NewNoop()
	}
	app.browser = browser
	app.logger.Info("using headless browser", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return browser
}
