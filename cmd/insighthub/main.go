package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/erplora/insighthub/internal/analytics"
	analyticshttp "github.com/erplora/insighthub/internal/analytics/http"
	"github.com/erplora/insighthub/internal/analytics/queries"
	"github.com/erplora/insighthub/internal/app"
	jobmetrics "github.com/erplora/insighthub/internal/jobs"
	"github.com/erplora/insighthub/internal/observability"
	"github.com/erplora/insighthub/internal/platform/cache"
	"github.com/erplora/insighthub/internal/platform/db"
	"github.com/erplora/insighthub/internal/savedreports"
	savedreportshttp "github.com/erplora/insighthub/internal/savedreports/http"
	"github.com/erplora/insighthub/internal/settings"
	"github.com/erplora/insighthub/internal/snapcache"
	"github.com/erplora/insighthub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running degraded", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	snapshots := snapcache.New(cfg.SnapshotCapacity, snapcache.TTLPolicy{
		Default: snapcache.TTLs{Hot: cfg.SnapshotHotTTL, Closed: cfg.SnapshotClosedTTL},
	}, snapcache.WithRecorder(metrics))

	// Peer instances drop their copies when one node accepts an invalidation.
	broadcaster := snapcache.NewBroadcaster(redisClient, snapshots, logger)
	broadcaster.Listen(ctx)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	settingsRepo := settings.NewRepository(pool)
	settingsService := settings.NewService(settingsRepo, logger, settings.WithWarmup(jobsClient))

	store := queries.NewStore(pool)
	fetcher := analytics.NewAdapter(store, cfg.FetchTimeout)
	reportService := analytics.NewService(settingsService, fetcher, snapshots)

	savedRepo := savedreports.NewRepository(pool)
	savedService := savedreports.NewService(savedRepo, reportService, logger)

	analyticsHandler := analyticshttp.NewHandler(logger, reportService, settingsService, snapshots, broadcaster)
	savedReportsHandler := savedreportshttp.NewHandler(logger, savedService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	// The snapshot arena lives in this process, so the warmup consumer must
	// share it. The Asynq server runs embedded instead of as a second binary.
	if redisClient != nil {
		warmupJob := jobs.NewSnapshotWarmupJob(reportService, settingsRepo, logger, jobmetrics.NewMetrics(metrics.Registerer()))
		if cfg.WarmupTenantTimeout > 0 {
			warmupJob.TenantTimeout = cfg.WarmupTenantTimeout
		}

		sweepTask, err := jobs.NewSnapshotWarmupTask("active")
		if err != nil {
			logger.Error("build warmup task", slog.Any("error", err))
			os.Exit(1)
		}
		worker, err := jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts: redisOpts,
			Logger:    logger,
			Handlers: []jobs.TaskHandler{
				{Type: jobs.TaskSnapshotWarmup, Handler: warmupJob.Handle},
				{Type: jobs.TaskTenantWarmup, Handler: warmupJob.HandleTenant},
			},
			Cron: []jobs.CronRegistration{
				{Spec: "@every " + cfg.WarmupInterval.String(), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			},
		})
		if err != nil {
			logger.Error("init worker", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker run", slog.Any("error", err))
			}
		}()
	} else {
		logger.Warn("warmup jobs disabled without redis")
	}

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AnalyticsHandler:    analyticsHandler,
		SavedReportsHandler: savedReportsHandler,
		JobsHandler:         jobsHandler,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
