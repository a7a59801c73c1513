package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

// Dashboard sub-query names reported in Dashboard.Failed.
const (
	PartRecentOrders = "recent_orders"
	PartOrderStatus  = "order_status"
	PartCustomers    = "customers"
	PartRollup       = "rollup"
)

// ActionRunAggregation tells the client to trigger a snapshot backfill.
const ActionRunAggregation = "run_aggregation"

const (
	defaultDashboardDays = 30
	recentOrderLimit     = 10
	partTimeout          = 5 * time.Second
)

// DashboardFilter selects the dashboard window.
type DashboardFilter struct {
	Scope     settlement.Scope
	Days      int
	Bucketing settlement.Bucketing
}

// Dashboard is assembled best effort: a failed part leaves its field empty
// and is listed in Failed while the other parts are still returned.
type Dashboard struct {
	Scope        settlement.Scope               `json:"scope"`
	From         string                         `json:"from"`
	To           string                         `json:"to"`
	RecentOrders []settlement.Order             `json:"recent_orders"`
	OrderStatus  map[settlement.OrderStatus]int `json:"order_status"`
	Customers    int                            `json:"customers"`
	Rollup       *Rollup                        `json:"rollup,omitempty"`
	NoData       bool                           `json:"no_data"`
	Action       string                         `json:"action,omitempty"`
	Failed       []string                       `json:"failed,omitempty"`
}

// Dashboard runs the independent dashboard queries concurrently.
func (s *Service) Dashboard(ctx context.Context, filter DashboardFilter) (Dashboard, error) {
	days := filter.Days
	if days <= 0 {
		days = defaultDashboardDays
	}
	by, err := settlement.ParseBucketing(string(filter.Bucketing))
	if err != nil {
		return Dashboard{}, err
	}
	to := s.clock().In(s.loc)
	from := to.AddDate(0, 0, -(days - 1))
	rng, err := settlement.DaysBetween(from, to, s.loc)
	if err != nil {
		return Dashboard{}, err
	}
	first, last := rangeToken(rng)
	out := Dashboard{Scope: filter.Scope, From: first, To: last}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	run := func(part string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			partCtx, cancel := context.WithTimeout(ctx, partTimeout)
			defer cancel()
			if err := fn(partCtx); err != nil {
				s.logger.Warn("dashboard part failed", slog.String("part", part), slog.String("scope", filter.Scope.String()), slog.Any("error", err))
				mu.Lock()
				out.Failed = append(out.Failed, part)
				mu.Unlock()
			}
			return nil
		})
	}

	run(PartRecentOrders, func(ctx context.Context) error {
		orders, err := s.records.RecentOrders(ctx, filter.Scope, recentOrderLimit)
		if err != nil {
			return err
		}
		mu.Lock()
		out.RecentOrders = orders
		mu.Unlock()
		return nil
	})
	run(PartOrderStatus, func(ctx context.Context) error {
		counts, err := s.records.CountOrdersByStatus(ctx, rng, filter.Scope)
		if err != nil {
			return err
		}
		mu.Lock()
		out.OrderStatus = counts
		mu.Unlock()
		return nil
	})
	run(PartCustomers, func(ctx context.Context) error {
		n, err := s.records.CountCustomers(ctx, filter.Scope)
		if err != nil {
			return err
		}
		mu.Lock()
		out.Customers = n
		mu.Unlock()
		return nil
	})
	run(PartRollup, func(ctx context.Context) error {
		rollup, err := s.Rollup(ctx, RollupFilter{From: from, To: to, Bucketing: by, Scope: filter.Scope})
		if errors.Is(err, settlement.ErrNoSnapshotData) {
			mu.Lock()
			out.NoData = true
			out.Action = ActionRunAggregation
			mu.Unlock()
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		out.Rollup = &rollup
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	sort.Strings(out.Failed)
	return out, nil
}
