package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/franchise-ops/franchise-ops/internal/jobs"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotService is the slice of snapshots.Service used by the jobs.
type SnapshotService interface {
	Recompute(ctx context.Context, day time.Time) (settlement.DailySnapshot, error)
	Backfill(ctx context.Context, from, to time.Time) (snapshots.BackfillResult, error)
	Location() *time.Location
	Today() string
}

// SnapshotJobs handles recompute and backfill tasks.
type SnapshotJobs struct {
	Service SnapshotService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSnapshotJobs wires the snapshot task handlers.
func NewSnapshotJobs(service SnapshotService, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotJobs {
	return &SnapshotJobs{Service: service, Logger: logger, Metrics: metrics}
}

// Handlers returns the worker registrations for the snapshot tasks.
func (j *SnapshotJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSnapshotRecompute, Handler: j.HandleRecompute},
		{Type: TaskSnapshotBackfill, Handler: j.HandleBackfill},
	}
}

// HandleRecompute rebuilds one day. A busy day is retried by asynq; an
// already computed past day is counted as skipped.
func (j *SnapshotJobs) HandleRecompute(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("snapshot recompute: handler not configured")
	}
	var payload SnapshotRecomputePayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Day == "" {
		payload.Day = j.Service.Today()
	}

	tracker := j.metrics().Track(TaskSnapshotRecompute)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger(TaskSnapshotRecompute).With(slog.String("run_id", payload.RunID), slog.String("day", payload.Day))
	day, err := time.ParseInLocation(settlement.DayLayout, payload.Day, j.Service.Location())
	if err != nil {
		return fmt.Errorf("parse day %q: %v: %w", payload.Day, err, asynq.SkipRetry)
	}

	_, err = j.Service.Recompute(ctx, day)
	switch {
	case err == nil:
		j.metrics().AddSnapshotDays("written", 1)
		return nil
	case errors.Is(err, snapshots.ErrDayImmutable):
		logger.Info("snapshot already computed")
		j.metrics().AddSnapshotDays("skipped", 1)
		return nil
	case errors.Is(err, snapshots.ErrFutureDay):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, snapshots.ErrRecomputeInProgress):
		logger.Info("snapshot day busy, retrying later")
		j.metrics().AddSnapshotDays("busy", 1)
		return err
	default:
		logger.Error("snapshot recompute failed", slog.Any("error", err))
		return err
	}
}

// HandleBackfill fills missing days. Busy days fail the run so asynq
// retries it; days written on the first attempt are skipped on the next.
func (j *SnapshotJobs) HandleBackfill(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("snapshot backfill: handler not configured")
	}
	var payload SnapshotBackfillPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	from, to, err := j.window(payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskSnapshotBackfill)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger(TaskSnapshotBackfill).With(
		slog.String("run_id", payload.RunID),
		slog.String("from", from.Format(settlement.DayLayout)),
		slog.String("to", to.Format(settlement.DayLayout)),
	)
	result, err := j.Service.Backfill(ctx, from, to)
	j.metrics().AddSnapshotDays("written", len(result.Written))
	j.metrics().AddSnapshotDays("skipped", len(result.Skipped))
	j.metrics().AddSnapshotDays("busy", len(result.Busy))
	if err != nil {
		logger.Error("snapshot backfill failed", slog.Any("error", err))
		return err
	}
	if len(result.Busy) > 0 {
		return fmt.Errorf("%d snapshot days busy: %w", len(result.Busy), snapshots.ErrRecomputeInProgress)
	}
	return nil
}

func (j *SnapshotJobs) window(payload SnapshotBackfillPayload) (time.Time, time.Time, error) {
	loc := j.Service.Location()
	if payload.From == "" && payload.To == "" {
		if payload.Days < 1 {
			return time.Time{}, time.Time{}, errors.New("backfill window is empty")
		}
		to, err := time.ParseInLocation(settlement.DayLayout, j.Service.Today(), loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return to.AddDate(0, 0, -(payload.Days - 1)), to, nil
	}
	from, err := time.ParseInLocation(settlement.DayLayout, payload.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := time.ParseInLocation(settlement.DayLayout, payload.To, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, settlement.ErrInvalidRange
	}
	return from, to, nil
}

func (j *SnapshotJobs) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *SnapshotJobs) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
