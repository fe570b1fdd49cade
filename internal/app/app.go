// Package app builds the site generator and its infrastructure from
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegen/internal/clock/system"
	"github.com/JakeFAU/sitegen/internal/config"
	"github.com/JakeFAU/sitegen/internal/crawler"
	gojaeval "github.com/JakeFAU/sitegen/internal/evaluator/goja"
	"github.com/JakeFAU/sitegen/internal/hash/sha256"
	"github.com/JakeFAU/sitegen/internal/id/uuid"
	"github.com/JakeFAU/sitegen/internal/logging"
	"github.com/JakeFAU/sitegen/internal/metrics"
	"github.com/JakeFAU/sitegen/internal/preview"
	memorypublisher "github.com/JakeFAU/sitegen/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitegen/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/sitegen/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitegen/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitegen/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitegen/internal/storage/postgres"
	"github.com/JakeFAU/sitegen/internal/telemetry"
	"github.com/JakeFAU/sitegen/internal/watch"
)

// Version is reported as the service version on traces.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	builder *Builder
	preview *preview.Server

	output    crawler.OutputWriter
	manifest  crawler.ManifestStore
	publisher crawler.Publisher

	gcsStore       *gcsstorage.BlobStore
	pgManifest     *pgstore.ManifestStore
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("output_backend", cfg.Output.Backend),
		zap.String("stats_file", cfg.Bundle.StatsFile),
	)
	metrics.Init()

	if err := setupTracing(ctx, app); err != nil {
		return nil, err
	}
	if err := setupOutput(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := setupManifest(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	evaluator, err := setupEvaluator(app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	clock := system.New()
	generator := crawler.NewGenerator(
		crawler.Options{
			Entry:               cfg.Site.Entry,
			Paths:               cfg.Site.Paths,
			Locals:              cfg.Site.Locals,
			Globals:             cfg.Site.Globals,
			Crawl:               cfg.Site.Crawl,
			PreferFoldersOutput: cfg.Site.PreferFoldersOutput,
			Concurrency:         cfg.Site.Concurrency,
			ContentType:         cfg.Output.ContentType,
		},
		evaluator,
		app.output,
		uuid.New(),
		clock,
		logger.Named("generator"),
	)
	app.builder = NewBuilder(
		Inputs{
			StatsFile:  cfg.Bundle.StatsFile,
			Dir:        cfg.Bundle.Dir,
			AssetsGlob: cfg.Bundle.AssetsGlob,
			PublicPath: cfg.Bundle.PublicPath,
		},
		generator,
		app.manifest,
		app.publisher,
		cfg.PubSub.Topic,
		sha256.New(),
		clock,
		logger.Named("builder"),
	)
	app.preview = preview.NewServer(preview.Config{
		PreferFoldersOutput: cfg.Site.PreferFoldersOutput,
	}, logger.Named("preview"))
	app.builder.OnPass(app.preview.SetPass)
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Builder returns the pass builder.
func (a *App) Builder() *Builder {
	return a.builder
}

// Preview returns the preview server.
func (a *App) Preview() *preview.Server {
	return a.preview
}

// Output returns where written slots are materialized.
func (a *App) Output() crawler.OutputWriter {
	return a.output
}

// Manifest returns the pass manifest store.
func (a *App) Manifest() crawler.ManifestStore {
	return a.manifest
}

// Publisher returns the pass notification publisher.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// RunPass runs one pass through the builder.
func (a *App) RunPass(ctx context.Context) (*crawler.Pass, error) {
	return a.builder.Build(ctx)
}

// Watch rebuilds whenever the stats file or the bundle directory changes,
// until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	w, err := watch.New(
		[]string{a.cfg.Bundle.StatsFile, a.cfg.Bundle.Dir},
		a.cfg.Watch.Debounce,
		func(ctx context.Context) {
			if _, err := a.builder.Build(ctx); err != nil {
				a.logger.Error("rebuild failed", zap.Error(err))
			}
		},
		a.logger.Named("watch"),
	)
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	a.logger.Info("watching for changes",
		zap.String("stats_file", a.cfg.Bundle.StatsFile),
		zap.String("dir", a.cfg.Bundle.Dir),
	)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// Serve runs an initial pass, then serves the preview until ctx is
// canceled or the process is signaled. With rebuild set, input changes
// trigger new passes which the preview picks up.
func (a *App) Serve(ctx context.Context, rebuild bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.builder.Build(ctx); err != nil {
		a.logger.Error("initial build failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.preview.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if rebuild {
		go func() {
			if err := a.Watch(ctx); err != nil {
				a.logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		a.logger.Info("preview server started", zap.Int("port", a.cfg.Server.Port))
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
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsStore = nil
	}
	if a.pgManifest != nil {
		a.pgManifest.Close()
		a.pgManifest = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	// Sync fails on terminals; nothing to do about it here.
	_ = a.logger.Sync()
}

func setupTracing(ctx context.Context, app *App) error {
	if !app.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, app.cfg.Tracing.ServiceName, Version,
		sdktrace.WithBatcher(telemetry.NewLogExporter(app.logger.Named("trace"))),
	)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	app.logger.Info("tracing enabled", zap.String("service", app.cfg.Tracing.ServiceName))
	return nil
}

func setupOutput(ctx context.Context, app *App) error {
	switch app.cfg.Output.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS output backend")
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: app.cfg.Output.Bucket,
			Prefix: app.cfg.Output.Prefix,
		}, gcsstorage.DefaultClientFactory{}, app.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs output init failed: %w", err)
		}
		app.gcsStore = store
		app.output = store
		app.logger.Debug("GCS output backend", zap.String("bucket", app.cfg.Output.Bucket))
	case config.BackendLocal:
		app.logger.Info("using local output backend")
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("local output init failed: %w", err)
		}
		app.output = store
		app.logger.Debug("local output backend", zap.String("path", store.Dir()))
	default:
		app.logger.Info("using in-memory output backend")
		app.output = memorystorage.NewBlobStore()
	}
	return nil
}

func setupManifest(ctx context.Context, app *App) error {
	if app.cfg.Manifest.DSN == "" {
		app.logger.Info("no manifest DSN configured, keeping pass manifests in memory")
		app.manifest = memorystorage.NewManifestStore()
		return nil
	}
	store, err := pgstore.NewManifestStore(ctx, pgstore.ManifestStoreConfig{
		DSN:         app.cfg.Manifest.DSN,
		TablePrefix: app.cfg.Manifest.TablePrefix,
		MaxConns:    app.cfg.Manifest.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("manifest store init failed: %w", err)
	}
	app.pgManifest = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("manifest schema init failed: %w", err)
	}
	app.manifest = store
	app.logger.Info("manifest store initialized", zap.String("table_prefix", app.cfg.Manifest.TablePrefix))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.Topic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID, app.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return nil
}

func setupEvaluator(app *App) (crawler.Evaluator, error) {
	mode, err := gojaeval.ParseMode(app.cfg.Evaluator.CallingConvention)
	if err != nil {
		return nil, fmt.Errorf("evaluator init failed: %w", err)
	}
	app.logger.Info("using goja evaluator", zap.String("calling_convention", string(mode)))
	return gojaeval.New(gojaeval.Config{Mode: mode}, app.logger.Named("evaluator")), nil
}
