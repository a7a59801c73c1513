package settlement

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.NewFromFloat(0.5)
)

// Allocation is the branch attribution of a single order. When the order has
// no active transfer ProcessBranchID is empty and ProcessBranchShare is zero.
//
// The two shares are rounded independently and may differ from the order total
// by at most one currency unit.
type Allocation struct {
	OrderBranchID      string
	OrderBranchShare   float64
	ProcessBranchID    string
	ProcessBranchShare float64
}

// Transferred reports whether a process branch earns part of the order.
func (a Allocation) Transferred() bool {
	return a.ProcessBranchID != ""
}

// Allocate splits an order's revenue between its order branch and, for an
// accepted or completed transfer, its process branch.
func Allocate(o Order) Allocation {
	total := o.Total()
	alloc := Allocation{OrderBranchID: o.Branch.ID, OrderBranchShare: total}
	if !o.ActiveTransfer() {
		return alloc
	}
	split := AmountSplit{OrderBranchPercent: 100}
	if o.Transfer.AmountSplit != nil {
		split = *o.Transfer.AmountSplit
	}
	alloc.OrderBranchShare = percentOf(total, split.OrderBranchPercent)
	alloc.ProcessBranchID = o.Transfer.ProcessBranch.ID
	alloc.ProcessBranchShare = percentOf(total, split.ProcessBranchPercent)
	return alloc
}

// percentOf returns round(amount * pct / 100) rounding halves towards +inf.
func percentOf(amount, pct float64) float64 {
	share := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(pct)).Div(hundred)
	return roundUnit(share).InexactFloat64()
}

func roundUnit(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}
