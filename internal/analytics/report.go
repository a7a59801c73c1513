package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const topProductLimit = 10

// ReportFilter selects the exact recomputation window.
type ReportFilter struct {
	From  time.Time
	To    time.Time
	Scope settlement.Scope
}

// Report is the exact-path result served to the report screen.
type Report struct {
	From        string                     `json:"from"`
	To          string                     `json:"to"`
	Stats       settlement.Stats           `json:"stats"`
	Branches    []settlement.BranchRevenue `json:"branches"`
	Daily       []settlement.DayPoint      `json:"daily"`
	TopProducts []settlement.ProductSales  `json:"top_products"`
}

// Report recomputes statistics from raw records for the inclusive day range.
// Results are cached per (scope, range).
func (s *Service) Report(ctx context.Context, filter ReportFilter) (Report, error) {
	rng, err := settlement.DaysBetween(filter.From, filter.To, s.loc)
	if err != nil {
		return Report{}, err
	}
	var report Report
	err = s.cached(ctx, keyReport(filter.Scope, rng), &report, func(ctx context.Context) (any, error) {
		return s.buildReport(ctx, rng, filter.Scope)
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *Service) buildReport(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) (Report, error) {
	orders, err := s.records.ListOrders(ctx, records.OrderQuery{Range: rng, Scope: scope})
	if err != nil {
		return Report{}, fmt.Errorf("analytics: orders: %w", err)
	}
	expenses, err := s.records.ListExpenses(ctx, rng, scope)
	if err != nil {
		return Report{}, fmt.Errorf("analytics: expenses: %w", err)
	}
	purchases, err := s.records.ListPurchases(ctx, rng, scope)
	if err != nil {
		return Report{}, fmt.Errorf("analytics: purchases: %w", err)
	}

	stats := settlement.Aggregate(orders, expenses, purchases, rng, scope)
	from, to := rangeToken(rng)
	return Report{
		From:        from,
		To:          to,
		Stats:       stats,
		Branches:    stats.BranchList(),
		Daily:       stats.DailySeries(),
		TopProducts: stats.TopProducts(topProductLimit),
	}, nil
}

// RollupFilter selects the snapshot fold.
type RollupFilter struct {
	From      time.Time
	To        time.Time
	Bucketing settlement.Bucketing
	Scope     settlement.Scope
}

// Rollup is the fast-path result served to dashboard charts.
type Rollup struct {
	From      string               `json:"from"`
	To        string               `json:"to"`
	Bucketing settlement.Bucketing `json:"bucketing"`
	Scope     settlement.Scope     `json:"scope"`
	Buckets   []settlement.Bucket  `json:"buckets"`
}

// Rollup folds stored daily snapshots into week or month buckets. It
// returns settlement.ErrNoSnapshotData when the range has no snapshot rows.
func (s *Service) Rollup(ctx context.Context, filter RollupFilter) (Rollup, error) {
	by, err := settlement.ParseBucketing(string(filter.Bucketing))
	if err != nil {
		return Rollup{}, err
	}
	rng, err := settlement.DaysBetween(filter.From, filter.To, s.loc)
	if err != nil {
		return Rollup{}, err
	}
	var rollup Rollup
	err = s.cached(ctx, keyRollup(filter.Scope, by, rng), &rollup, func(ctx context.Context) (any, error) {
		snaps, err := s.snapshots.Range(ctx, rng)
		if err != nil {
			return nil, fmt.Errorf("analytics: snapshots: %w", err)
		}
		buckets, err := settlement.FoldSnapshots(snaps, by, filter.Scope)
		if err != nil {
			return nil, err
		}
		from, to := rangeToken(rng)
		return Rollup{From: from, To: to, Bucketing: by, Scope: filter.Scope, Buckets: buckets}, nil
	})
	if err != nil {
		return Rollup{}, err
	}
	return rollup, nil
}
