package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ewaste/internal/adapters/detector"
	"github.com/okian/ewaste/internal/adapters/http/api"
	"github.com/okian/ewaste/internal/adapters/http/site"
	"github.com/okian/ewaste/internal/adapters/http/swagger"
	"github.com/okian/ewaste/internal/adapters/render"
	"github.com/okian/ewaste/internal/adapters/storage"
	app "github.com/okian/ewaste/internal/app"
	"github.com/okian/ewaste/internal/config"
	"github.com/okian/ewaste/internal/domain/advisory"
	"github.com/okian/ewaste/pkg/logger"
	"github.com/okian/ewaste/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// HTTP server timeout constants.
const (
	readTimeout               = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	healthCheckTimeout        = 3 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, store, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "image store close failed", logger.Error(err))
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.DetectorTimeout() + readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		// Stop accepting uploads before draining the workers.
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
		if stopErr := svc.Stop(shutdownCtx); stopErr != nil {
			log.Error(ctx, "service stop failed", logger.Error(stopErr))
			err = errors.Join(err, stopErr)
		}
		return err
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// buildService wires the knowledge base, image store, detector client and
// renderer into an unstarted Service.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, storage.Store, error) {
	kb := advisory.Default()
	if cfg.KnowledgeBasePath != "" {
		loaded, err := advisory.LoadFile(cfg.KnowledgeBasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load knowledge base: %w", err)
		}
		kb = loaded
	}

	store, err := storage.Open(ctx, storage.Config{
		Backend: cfg.StorageBackend,
		Dir:     cfg.UploadDir,
		Redis: storage.RedisOptions{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ImageTTL(),
		},
		S3: storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image store: %w", err)
	}

	det, err := detector.NewHTTPDetector(cfg.DetectorURL,
		detector.WithTimeout(cfg.DetectorTimeout()),
		detector.WithLogger(log.Named("detector")),
	)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to create detector client: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := det.Health(hctx); err != nil {
		// Uploads fail with detector_unavailable until it comes up.
		log.Warn(ctx, "detector is not reachable", logger.String("url", cfg.DetectorURL), logger.Error(err))
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithDetector(det),
		app.WithStore(store),
		app.WithRenderer(render.New(render.WithStrokeWidth(cfg.StrokeWidth))),
		app.WithKnowledgeBase(kb),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithConfidenceThreshold(cfg.ConfidenceThreshold),
	)
	return svc, store, nil
}

// newHandler registers the API, docs and upload page routes.
func newHandler(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()

	api.NewServer(svc,
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithAllowedExtensions(cfg.AllowedExtensions...),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)
	swagger.Register(ctx, mux)
	site.Register(ctx, mux)

	return api.CORS(mux)
}

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater updates queue gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	metrics.UpdateQueueSize(svc.QueueLen(ctx))
}
