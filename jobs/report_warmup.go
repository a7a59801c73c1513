package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-ops/internal/analytics"
	"github.com/franchise-ops/franchise-ops/internal/branches"
	jobmetrics "github.com/franchise-ops/franchise-ops/internal/jobs"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const (
	defaultWarmupDays = 30
	warmupScopeBudget = 20 * time.Second
)

// ReportWarmer is the analytics call the warmup drives.
type ReportWarmer interface {
	Report(ctx context.Context, filter analytics.ReportFilter) (analytics.Report, error)
	Location() *time.Location
}

// BranchLister enumerates the branches to warm.
type BranchLister interface {
	List(ctx context.Context) ([]branches.Branch, error)
}

// ReportWarmupJob pre-populates the report cache for the whole system and
// for every storefront.
type ReportWarmupJob struct {
	Analytics ReportWarmer
	Branches  BranchLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(analyticsSvc ReportWarmer, branchList BranchLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{
		Analytics: analyticsSvc,
		Branches:  branchList,
		Logger:    logger,
		Metrics:   metrics,
		clock:     time.Now,
	}
}

// Handle processes report warmup tasks. A failing scope is logged and the
// remaining scopes are still warmed; the run fails if any scope failed.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Analytics == nil || j.Branches == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Days <= 0 {
		payload.Days = defaultWarmupDays
	}

	tracker := j.metrics().Track(TaskReportWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("days", payload.Days))
	list, err := j.Branches.List(ctx)
	if err != nil {
		logger.Error("load warmup branches", slog.Any("error", err))
		return err
	}

	scopes := []settlement.Scope{settlement.AllBranches}
	for _, b := range list {
		if b.Type == branches.TypeStorefront {
			scopes = append(scopes, settlement.ForBranch(b.ID))
		}
	}

	start := j.now()
	to := start.In(j.Analytics.Location())
	from := to.AddDate(0, 0, -(payload.Days - 1))
	var errs []error
	for _, scope := range scopes {
		if err := j.warmScope(ctx, scope, from, to); err != nil {
			logger.Error("warm scope", slog.String("scope", scope.String()), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	logger.Info("completed report warmup",
		slog.Int("scopes", len(scopes)),
		slog.Int("failed", len(errs)),
		slog.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

func (j *ReportWarmupJob) warmScope(ctx context.Context, scope settlement.Scope, from, to time.Time) error {
	scopeCtx, cancel := context.WithTimeout(ctx, warmupScopeBudget)
	defer cancel()
	_, err := j.Analytics.Report(scopeCtx, analytics.ReportFilter{From: from, To: to, Scope: scope})
	return err
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportWarmup))
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}
