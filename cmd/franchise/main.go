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

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-ops/internal/analytics"
	analytichttp "github.com/franchise-ops/franchise-ops/internal/analytics/http"
	"github.com/franchise-ops/franchise-ops/internal/app"
	"github.com/franchise-ops/franchise-ops/internal/branches"
	"github.com/franchise-ops/franchise-ops/internal/observability"
	"github.com/franchise-ops/franchise-ops/internal/platform/cache"
	"github.com/franchise-ops/franchise-ops/internal/platform/db"
	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
	"github.com/franchise-ops/franchise-ops/jobs"
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
	logger := app.NewLogger(cfg, "server")
	loc, _ := cfg.Location()

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "franchise-server"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	recordRepo := records.NewRepository(dbpool, logger)
	branchService := branches.NewService(branches.NewRepository(dbpool))

	reportCache := analytics.NewCache(redisClient, cfg.ReportCacheTTL).WithObserver(metrics.ObserveCache)
	snapshotService := snapshots.NewService(snapshots.Config{
		Store:       snapshots.NewRepository(dbpool),
		Orders:      recordRepo,
		Locker:      redislock.New(redisClient),
		Invalidator: reportCache,
		Location:    loc,
		LockTTL:     cfg.SnapshotLockTTL,
		Logger:      logger,
	})
	analyticsService := analytics.NewService(recordRepo, snapshotService, reportCache, loc, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts, cfg.SnapshotDebounce)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	analyticsHandler := analytichttp.NewHandler(logger, analyticsService, branchService, jobClient, snapshotService)
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AnalyticsHandler: analyticsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
