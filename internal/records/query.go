package records

import (
	"strconv"
	"strings"
	"time"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

// OrderQuery filters orders loaded for aggregation.
type OrderQuery struct {
	Range settlement.DateRange
	Scope settlement.Scope
	// IncludeCanceled keeps canceled orders, used by status counters.
	IncludeCanceled bool
	Limit           int
}

// filter accumulates WHERE clauses with positional arguments.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return "$" + strconv.Itoa(len(f.args))
}

func (f *filter) add(clause string) {
	f.clauses = append(f.clauses, clause)
}

func (f *filter) timeRange(column string, rng settlement.DateRange) {
	if !rng.Start.IsZero() {
		f.add(column + " >= " + f.arg(rng.Start.UTC()))
	}
	if !rng.End.IsZero() {
		f.add(column + " < " + f.arg(rng.End.UTC()))
	}
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// orderFilter scopes orders to the branch that received them or, for an
// active transfer, the branch that processes it. It matches
// settlement.Relevant so counters and lists agree with the aggregates.
func orderFilter(q OrderQuery) *filter {
	f := &filter{}
	f.timeRange("o.order_date", q.Range)
	if !q.Scope.IsAll() {
		p := f.arg(q.Scope.BranchID)
		accepted := f.arg(string(settlement.TransferAccepted))
		completed := f.arg(string(settlement.TransferCompleted))
		f.add("(o.branch_id::text = " + p +
			" OR (o.transfer->'process_branch'->>'id' = " + p +
			" AND COALESCE((o.transfer->>'is_transferred')::boolean, false)" +
			" AND o.transfer->>'status' IN (" + accepted + ", " + completed + ")))")
	}
	if !q.IncludeCanceled {
		f.add("o.status <> " + f.arg(string(settlement.OrderCanceled)))
	}
	return f
}

func branchFilter(column string, rng settlement.DateRange, scope settlement.Scope) *filter {
	f := &filter{}
	f.timeRange(column, rng)
	if !scope.IsAll() {
		f.add("branch_id::text = " + f.arg(scope.BranchID))
	}
	return f
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
