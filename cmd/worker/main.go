package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/franchise-ops/franchise-ops/internal/analytics"
	"github.com/franchise-ops/franchise-ops/internal/app"
	"github.com/franchise-ops/franchise-ops/internal/branches"
	jobmetrics "github.com/franchise-ops/franchise-ops/internal/jobs"
	"github.com/franchise-ops/franchise-ops/internal/platform/cache"
	"github.com/franchise-ops/franchise-ops/internal/platform/db"
	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
	"github.com/franchise-ops/franchise-ops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "worker")
	loc, _ := cfg.Location()

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "franchise-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := jobmetrics.NewMetrics(nil)
	recordRepo := records.NewRepository(pool, logger)
	reportCache := analytics.NewCache(redisClient, cfg.ReportCacheTTL)
	snapshotService := snapshots.NewService(snapshots.Config{
		Store:       snapshots.NewRepository(pool),
		Orders:      recordRepo,
		Locker:      redislock.New(redisClient),
		Invalidator: reportCache,
		Location:    loc,
		LockTTL:     cfg.SnapshotLockTTL,
		Logger:      logger,
	})
	analyticsService := analytics.NewService(recordRepo, snapshotService, reportCache, loc, logger)
	branchService := branches.NewService(branches.NewRepository(pool))

	snapshotJobs := jobs.NewSnapshotJobs(snapshotService, logger, metrics)
	warmupJob := jobs.NewReportWarmupJob(analyticsService, branchService, logger, metrics)

	backfillTask, err := jobs.NewTrailingBackfillTask(cfg.SnapshotBackfillDays)
	if err != nil {
		logger.Error("build backfill task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportWarmupTask(cfg.ReportWarmupDays)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Location:    loc,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: append(snapshotJobs.Handlers(),
			jobs.TaskHandler{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
		),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SnapshotCron, Task: backfillTask, Options: []asynq.Option{asynq.MaxRetry(5)}},
			{Spec: cfg.ReportWarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.SnapshotDebounce)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	listener := snapshots.NewListener(snapshots.ListenerConfig{
		Pool:     pool,
		Channel:  cfg.SnapshotNotifyChan,
		Debounce: cfg.SnapshotDebounce,
		Service:  snapshotService,
		Logger:   logger,
		Schedule: func(ctx context.Context, day string) error {
			d, err := time.ParseInLocation(settlement.DayLayout, day, loc)
			if err != nil {
				return err
			}
			_, err = snapshotService.Recompute(ctx, d)
			if errors.Is(err, snapshots.ErrDayImmutable) {
				return nil
			}
			if errors.Is(err, snapshots.ErrRecomputeInProgress) {
				// The running pass may have read orders before this change.
				_, err = jobClient.EnqueueRecompute(ctx, day)
			}
			return err
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
