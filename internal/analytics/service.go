// Package analytics serves report, rollup and dashboard read models built
// on the settlement engine.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

// RecordSource exposes the raw record queries the service relies on.
type RecordSource interface {
	ListOrders(ctx context.Context, q records.OrderQuery) ([]settlement.Order, error)
	ListExpenses(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.Expense, error)
	ListPurchases(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.PurchaseEntry, error)
	RecentOrders(ctx context.Context, scope settlement.Scope, limit int) ([]settlement.Order, error)
	CountOrdersByStatus(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) (map[settlement.OrderStatus]int, error)
	CountCustomers(ctx context.Context, scope settlement.Scope) (int, error)
}

// SnapshotSource reads stored daily snapshots.
type SnapshotSource interface {
	Range(ctx context.Context, rng settlement.DateRange) ([]settlement.DailySnapshot, error)
}

// Service coordinates record queries with the cache layer.
type Service struct {
	records   RecordSource
	snapshots SnapshotSource
	cache     *Cache
	logger    *slog.Logger
	loc       *time.Location
	clock     func() time.Time
	flights   singleflight.Group
}

// NewService wires the data sources with a Cache helper. cache may be nil.
func NewService(recordSource RecordSource, snapshotSource SnapshotSource, cache *Cache, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:   recordSource,
		snapshots: snapshotSource,
		cache:     cache,
		logger:    logger,
		loc:       loc,
		clock:     time.Now,
	}
}

// WithClock overrides the service clock for testing.
func (s *Service) WithClock(fn func() time.Time) {
	if fn != nil {
		s.clock = fn
	}
}

// Location is the calendar used for day buckets.
func (s *Service) Location() *time.Location {
	return s.loc
}

// cached resolves key through singleflight and the cache. Concurrent
// callers for the same key share one load.
func (s *Service) cached(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if s.cache == nil {
		return load(ctx, dest, loader, nil)
	}
	versioned, err := s.cache.BuildKey(ctx, key)
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.String("key", key), slog.Any("error", err))
		return load(ctx, dest, loader, nil)
	}
	raw, err, _ := coalesce(ctx, &s.flights, versioned, func(ctx context.Context) (any, error) {
		var payload json.RawMessage
		if err := s.cache.FetchJSON(ctx, versioned, &payload, loader); err != nil {
			return nil, err
		}
		return []byte(payload), nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}
