package settlement

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	branchX = BranchRef{ID: "br-x", Name: "Outlet X"}
	branchY = BranchRef{ID: "br-y", Name: "Outlet Y"}
	may1    = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
)

func newOrder(id string, branch BranchRef, total float64) Order {
	return Order{
		ID:        id,
		Branch:    branch,
		OrderDate: may1,
		Status:    OrderCompleted,
		Summary:   &OrderSummary{Subtotal: total, Total: total},
		Payment:   &Payment{Method: "cash", Status: PaymentPaid},
	}
}

func transferred(o Order, to BranchRef, status TransferStatus, orderPct, processPct float64) Order {
	o.Transfer = &TransferInfo{
		IsTransferred: true,
		Status:        status,
		ProcessBranch: to,
		AmountSplit:   &AmountSplit{OrderBranchPercent: orderPct, ProcessBranchPercent: processPct},
	}
	return o
}

func TestAllocateWithoutTransferPassesThrough(t *testing.T) {
	o := newOrder("o1", branchX, 12345)
	alloc := Allocate(o)
	assert.Equal(t, 12345.0, alloc.OrderBranchShare)
	assert.Zero(t, alloc.ProcessBranchShare)
	assert.False(t, alloc.Transferred())

	o.Transfer = &TransferInfo{IsTransferred: false, Status: TransferAccepted, ProcessBranch: branchY,
		AmountSplit: &AmountSplit{OrderBranchPercent: 10, ProcessBranchPercent: 90}}
	alloc = Allocate(o)
	assert.Equal(t, 12345.0, alloc.OrderBranchShare)
	assert.Zero(t, alloc.ProcessBranchShare)
}

func TestAllocateIgnoresInactiveTransferStatuses(t *testing.T) {
	for _, status := range []TransferStatus{TransferPending, TransferRejected, TransferCancelled} {
		t.Run(string(status), func(t *testing.T) {
			o := transferred(newOrder("o1", branchX, 8000), branchY, status, 25, 75)
			alloc := Allocate(o)
			assert.Equal(t, 8000.0, alloc.OrderBranchShare)
			assert.Zero(t, alloc.ProcessBranchShare)
			assert.Empty(t, alloc.ProcessBranchID)
		})
	}
}

func TestAllocateSplitsActiveTransfer(t *testing.T) {
	for _, status := range []TransferStatus{TransferAccepted, TransferCompleted} {
		o := transferred(newOrder("o1", branchX, 10000), branchY, status, 60, 40)
		alloc := Allocate(o)
		assert.Equal(t, 6000.0, alloc.OrderBranchShare)
		assert.Equal(t, 4000.0, alloc.ProcessBranchShare)
		assert.Equal(t, branchY.ID, alloc.ProcessBranchID)
	}
}

func TestAllocateDefaultsMissingSplit(t *testing.T) {
	o := newOrder("o1", branchX, 5000)
	o.Transfer = &TransferInfo{IsTransferred: true, Status: TransferAccepted, ProcessBranch: branchY}
	alloc := Allocate(o)
	assert.Equal(t, 5000.0, alloc.OrderBranchShare)
	assert.Zero(t, alloc.ProcessBranchShare)
	assert.True(t, alloc.Transferred())
}

func TestAllocateRoundsSharesIndependently(t *testing.T) {
	o := transferred(newOrder("o1", branchX, 1001), branchY, TransferAccepted, 50, 50)
	alloc := Allocate(o)
	// 500.5 rounds up on both sides, so the shares overshoot the total by one.
	assert.Equal(t, 501.0, alloc.OrderBranchShare)
	assert.Equal(t, 501.0, alloc.ProcessBranchShare)
}

func TestAllocateRoundingDriftIsBounded(t *testing.T) {
	for total := 0.0; total <= 2500; total += 7 {
		for a := 0.0; a <= 100; a++ {
			o := transferred(newOrder("o", branchX, total), branchY, TransferCompleted, a, 100-a)
			alloc := Allocate(o)
			drift := math.Abs(alloc.OrderBranchShare + alloc.ProcessBranchShare - total)
			require.LessOrEqualf(t, drift, 1.0, "total=%v split=%v/%v", total, a, 100-a)
		}
	}
}

func TestAllocateToleratesMissingSummary(t *testing.T) {
	o := Order{ID: "broken", Branch: branchX, Status: OrderCompleted}
	alloc := Allocate(o)
	assert.Zero(t, alloc.OrderBranchShare)

	o.Transfer = &TransferInfo{IsTransferred: true, Status: TransferAccepted, ProcessBranch: branchY,
		AmountSplit: &AmountSplit{OrderBranchPercent: 50, ProcessBranchPercent: 50}}
	alloc = Allocate(o)
	assert.Zero(t, alloc.OrderBranchShare)
	assert.Zero(t, alloc.ProcessBranchShare)
}

func TestWeightForScopes(t *testing.T) {
	o := transferred(newOrder("o1", branchX, 2000), branchY, TransferAccepted, 70, 30)

	assert.Equal(t, 2000.0, WeightFor(o, AllBranches))
	assert.Equal(t, 1400.0, WeightFor(o, ForBranch(branchX.ID)))
	assert.Equal(t, 600.0, WeightFor(o, ForBranch(branchY.ID)))
	assert.Zero(t, WeightFor(o, ForBranch("br-z")))

	assert.InDelta(t, 0.7, Factor(o, ForBranch(branchX.ID)), 1e-9)
	assert.InDelta(t, 1.0, Factor(o, AllBranches), 1e-9)
}

func TestWeightForSelfTransferSumsBothShares(t *testing.T) {
	o := transferred(newOrder("o1", branchX, 1000), branchX, TransferAccepted, 70, 30)
	assert.Equal(t, 1000.0, WeightFor(o, ForBranch(branchX.ID)))
}

func TestFactorGuardsZeroTotal(t *testing.T) {
	o := newOrder("o1", branchX, 0)
	assert.Zero(t, Factor(o, ForBranch(branchX.ID)))
}

func TestRelevantIgnoresInactiveProcessBranch(t *testing.T) {
	pending := transferred(newOrder("o1", branchX, 1000), branchY, TransferPending, 50, 50)
	assert.True(t, Relevant(pending, ForBranch(branchX.ID)))
	assert.False(t, Relevant(pending, ForBranch(branchY.ID)))

	accepted := transferred(newOrder("o2", branchX, 1000), branchY, TransferAccepted, 50, 50)
	assert.True(t, Relevant(accepted, ForBranch(branchY.ID)))
	assert.True(t, Relevant(accepted, AllBranches))
}
