// Package main is the entrypoint for the inkgate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scholarrelay/inkgate/internal/analysis"
	"github.com/scholarrelay/inkgate/internal/api"
	"github.com/scholarrelay/inkgate/internal/api/handler"
	mw "github.com/scholarrelay/inkgate/internal/api/middleware"
	"github.com/scholarrelay/inkgate/internal/audit"
	"github.com/scholarrelay/inkgate/internal/cache"
	"github.com/scholarrelay/inkgate/internal/config"
	"github.com/scholarrelay/inkgate/internal/notify"
	"github.com/scholarrelay/inkgate/internal/queue"
	"github.com/scholarrelay/inkgate/internal/store"
	"github.com/scholarrelay/inkgate/internal/submission"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "audit_sink", cfg.Audit.Sink, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create audit sink
	sink, err := newAuditSink(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("create audit sink: %w", err)
	}

	// 6. Create downstream clients
	analysisClient := analysis.NewHTTPClient(cfg.Analysis.BaseURL, cfg.Analysis.APIKey, cfg.Analysis.Timeout)
	notifier := notify.NewHTTPNotifier(cfg.Staging.NotifyTimeout)

	// 7. Create store and queue manager
	pgStore := store.NewPostgresStore(pool)

	processor := submission.NewProcessor(analysisClient, sink)

	manager := queue.New(pgStore,
		queue.WithConcurrency(cfg.Queue.MaxConcurrent),
		queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries),
		queue.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMultiplier),
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithStuckTimeout(cfg.Queue.StuckTimeout),
		queue.WithReaperInterval(cfg.Queue.ReaperInterval),
		queue.WithRetention(cfg.Queue.RetentionPeriod),
		queue.WithStatusCache(redisCache, cfg.Queue.StatusCacheTTL),
	)

	// Jobs that outlive the registering process re-resolve their processor
	// through the type table.
	manager.RegisterType(submission.JobType, processor.Process)

	queueErrCh := make(chan error, 1)
	go func() {
		if err := manager.Start(ctx); err != nil {
			queueErrCh <- err
		}
		close(queueErrCh)
	}()

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, analysisClient),
		SubmitHandler: handler.NewSubmitHandler(handler.SubmitDeps{
			Queue:         manager,
			Partners:      pgStore,
			Processor:     processor,
			Notifier:      notifier,
			StagingDir:    cfg.Staging.Dir,
			MaxUploadSize: cfg.Staging.MaxUploadSize,
			MaxRetries:    cfg.Queue.MaxRetries,
		}),
		StatusHandler: handler.NewStatusHandler(manager, redisCache),
		RetryHandler:  handler.NewRetryHandler(manager),
		CancelHandler: handler.NewCancelHandler(manager),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal, server error, or queue error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case err := <-queueErrCh:
		if err != nil {
			return fmt.Errorf("queue error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// The queue drains on the same signal context; wait for its workers.
	<-queueErrCh

	slog.Info("server stopped gracefully")
	return nil
}

func newAuditSink(ctx context.Context, cfg config.AuditConfig) (audit.Sink, error) {
	switch cfg.Sink {
	case "s3":
		return audit.NewS3Sink(ctx, cfg.S3Bucket)
	default:
		return audit.NewLocalSink(cfg.LocalDir), nil
	}
}
