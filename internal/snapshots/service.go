// Package snapshots produces and stores the per-day settlement snapshots
// read by the dashboard rollups.
package snapshots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"

	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

var (
	// ErrNotFound is returned when a day has no stored snapshot.
	ErrNotFound = fmt.Errorf("snapshot %w", httpx.ErrNotFound)
	// ErrRecomputeInProgress is returned when another worker holds the day.
	ErrRecomputeInProgress = fmt.Errorf("snapshot recompute in progress: %w", httpx.ErrConflict)
	// ErrDayImmutable is returned when asked to rewrite a computed past day.
	ErrDayImmutable = fmt.Errorf("snapshot for past day is immutable: %w", httpx.ErrConflict)
	// ErrFutureDay is returned for days after today.
	ErrFutureDay = fmt.Errorf("snapshot day is in the future: %w", httpx.ErrValidation)
)

const defaultLockTTL = 30 * time.Second

// OrderSource loads the raw orders of a day.
type OrderSource interface {
	ListOrders(ctx context.Context, q records.OrderQuery) ([]settlement.Order, error)
}

// Locker guards a day against concurrent writers. *redislock.Client
// satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Invalidator drops cached read models after a snapshot write.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Config wires a Service.
type Config struct {
	Store       Store
	Orders      OrderSource
	Locker      Locker
	Invalidator Invalidator
	Location    *time.Location
	LockTTL     time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Service recomputes snapshots through the exact aggregation path.
type Service struct {
	store       Store
	orders      OrderSource
	locker      Locker
	invalidator Invalidator
	loc         *time.Location
	lockTTL     time.Duration
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService builds a Service. Locker and Invalidator are optional.
func NewService(cfg Config) *Service {
	s := &Service{
		store:       cfg.Store,
		orders:      cfg.Orders,
		locker:      cfg.Locker,
		invalidator: cfg.Invalidator,
		loc:         cfg.Location,
		lockTTL:     cfg.LockTTL,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Location is the timezone that defines calendar days.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today returns the current calendar day key.
func (s *Service) Today() string {
	return s.clock().In(s.loc).Format(settlement.DayLayout)
}

// Recompute builds the day's snapshot from raw orders and replaces the
// stored row. Today may be recomputed any number of times. A past day is
// written while it has no final row, that is no row whose orders were read
// after the day ended; once final it is immutable.
func (s *Service) Recompute(ctx context.Context, day time.Time) (settlement.DailySnapshot, error) {
	key := day.In(s.loc).Format(settlement.DayLayout)
	today := s.Today()
	if key > today {
		return settlement.DailySnapshot{}, fmt.Errorf("%w: %s", ErrFutureDay, key)
	}

	release, err := s.lock(ctx, key)
	if err != nil {
		return settlement.DailySnapshot{}, err
	}
	defer release()

	if key < today {
		stamps, err := s.store.ComputedAt(ctx, key, key)
		if err != nil {
			return settlement.DailySnapshot{}, err
		}
		if at, ok := stamps[key]; ok && s.final(key, at) {
			existing, err := s.store.Get(ctx, key)
			if err != nil {
				return settlement.DailySnapshot{}, err
			}
			s.logger.Debug("past snapshot kept", slog.String("day", key))
			return existing, ErrDayImmutable
		}
	}

	// Stamp the row with the read time so a pass that read orders before
	// midnight never counts as final for that day.
	readAt := s.clock()
	rng := settlement.SingleDay(day, s.loc)
	orders, err := s.orders.ListOrders(ctx, records.OrderQuery{Range: rng, Scope: settlement.AllBranches})
	if err != nil {
		return settlement.DailySnapshot{}, fmt.Errorf("snapshots: load orders %s: %w", key, err)
	}

	snap := settlement.BuildDailySnapshot(day, s.loc, orders)
	if err := s.store.Upsert(ctx, snap, readAt); err != nil {
		return settlement.DailySnapshot{}, err
	}
	s.logger.Info("snapshot written",
		slog.String("day", key),
		slog.Bool("final", key < today),
		slog.Int("orders", snap.TotalOrderCount),
		slog.Float64("settled", snap.TotalSettledAmount),
		slog.Int("branches", len(snap.Branches)),
	)

	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("invalidate report cache", slog.Any("error", err))
		}
	}
	return snap, nil
}

// final reports whether a row computed at computedAt covers the whole of
// day, i.e. was computed at or after the day's end.
func (s *Service) final(day string, computedAt time.Time) bool {
	start, err := time.ParseInLocation(settlement.DayLayout, day, s.loc)
	if err != nil {
		return false
	}
	return !computedAt.Before(start.AddDate(0, 0, 1))
}

// RecomputeToday is Recompute for the current day.
func (s *Service) RecomputeToday(ctx context.Context) (settlement.DailySnapshot, error) {
	return s.Recompute(ctx, s.clock())
}

// BackfillResult lists the outcome per day key.
type BackfillResult struct {
	Written []string `json:"written"`
	Skipped []string `json:"skipped"`
	Busy    []string `json:"busy"`
}

// Missing lists the days a Backfill over the inclusive range would write:
// past days without a final row plus today when inside the range. Days
// after today are dropped.
func (s *Service) Missing(ctx context.Context, from, to time.Time) ([]string, error) {
	rng, err := settlement.DaysBetween(from, to, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	days := rng.Days()
	stamps, err := s.store.ComputedAt(ctx, days[0], days[len(days)-1])
	if err != nil {
		return nil, err
	}
	today := s.Today()
	var out []string
	for _, day := range days {
		if day > today {
			break
		}
		at, ok := stamps[day]
		if day == today || !ok || !s.final(day, at) {
			out = append(out, day)
		}
	}
	return out, nil
}

// Backfill fills the missing or non-final past days of the inclusive range
// and always recomputes today. Days held by another worker are reported as busy and
// do not fail the run.
func (s *Service) Backfill(ctx context.Context, from, to time.Time) (BackfillResult, error) {
	var result BackfillResult
	rng, err := settlement.DaysBetween(from, to, s.loc)
	if err != nil {
		return result, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	todo, err := s.Missing(ctx, from, to)
	if err != nil {
		return result, err
	}
	pending := make(map[string]bool, len(todo))
	for _, day := range todo {
		pending[day] = true
	}

	today := s.Today()
	for _, key := range rng.Days() {
		if key > today {
			break
		}
		if !pending[key] {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		day, err := time.ParseInLocation(settlement.DayLayout, key, s.loc)
		if err != nil {
			return result, err
		}
		_, err = s.Recompute(ctx, day)
		switch {
		case err == nil:
			result.Written = append(result.Written, key)
		case errors.Is(err, ErrDayImmutable):
			result.Skipped = append(result.Skipped, key)
		case errors.Is(err, ErrRecomputeInProgress):
			result.Busy = append(result.Busy, key)
		default:
			return result, err
		}
	}
	s.logger.Info("snapshot backfill done",
		slog.String("from", rng.Start.Format(settlement.DayLayout)),
		slog.Int("written", len(result.Written)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("busy", len(result.Busy)),
	)
	return result, nil
}

// Range loads stored snapshots for the inclusive day range.
func (s *Service) Range(ctx context.Context, rng settlement.DateRange) ([]settlement.DailySnapshot, error) {
	days := rng.Days()
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: unbounded snapshot range", httpx.ErrValidation)
	}
	return s.store.ListRange(ctx, days[0], days[len(days)-1])
}

func (s *Service) lock(ctx context.Context, day string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lock, err := s.locker.Obtain(ctx, "snapshot:"+day, s.lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrRecomputeInProgress, day)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshots: obtain lock %s: %w", day, err)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			s.logger.Warn("release snapshot lock", slog.String("day", day), slog.Any("error", err))
		}
	}, nil
}
