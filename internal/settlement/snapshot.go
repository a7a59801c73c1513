package settlement

import (
	"strings"
	"time"
)

// BranchSnapshot is one branch's settled revenue for a snapshot day.
type BranchSnapshot struct {
	BranchID      string  `json:"branch_id"`
	BranchName    string  `json:"branch_name"`
	SettledAmount float64 `json:"settled_amount"`
	OrderCount    int     `json:"order_count"`
}

// DailySnapshot is the precomputed rollup unit for one calendar day. Branches
// is keyed by BranchKey of the branch id.
type DailySnapshot struct {
	Date               string                    `json:"date"`
	Branches           map[string]BranchSnapshot `json:"branches"`
	TotalSettledAmount float64                   `json:"total_settled_amount"`
	TotalOrderCount    int                       `json:"total_order_count"`
}

var branchKeyReplacer = strings.NewReplacer(
	" ", "_",
	".", "_",
	"/", "_",
	"#", "_",
	"$", "_",
	"[", "_",
	"]", "_",
)

// BranchKey encodes a branch id for use as a snapshot map key. Writers and
// readers of snapshots must both go through this function.
func BranchKey(branchID string) string {
	return branchKeyReplacer.Replace(strings.TrimSpace(branchID))
}

// Branch returns the snapshot entry for a branch id.
func (s DailySnapshot) Branch(branchID string) (BranchSnapshot, bool) {
	b, ok := s.Branches[BranchKey(branchID)]
	return b, ok
}

// Day parses the snapshot date in loc.
func (s DailySnapshot) Day(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DayLayout, s.Date, loc)
}

// BuildDailySnapshot recomputes the snapshot for one calendar day from raw
// orders. It runs the same Aggregate used by the report screen over the day's
// slice, so the two paths cannot drift apart.
func BuildDailySnapshot(day time.Time, loc *time.Location, orders []Order) DailySnapshot {
	rng := SingleDay(day, loc)
	stats := Aggregate(orders, nil, nil, rng, AllBranches)

	snap := DailySnapshot{
		Date:               rng.DayKey(rng.Start),
		Branches:           make(map[string]BranchSnapshot, len(stats.Branches)),
		TotalSettledAmount: stats.TotalSales,
		TotalOrderCount:    stats.OrderCount,
	}
	for _, b := range stats.BranchList() {
		key := BranchKey(b.BranchID)
		entry := snap.Branches[key]
		entry.BranchID = b.BranchID
		if entry.BranchName == "" {
			entry.BranchName = b.BranchName
		}
		entry.SettledAmount += b.SettledAmount
		entry.OrderCount += b.OrderCount
		snap.Branches[key] = entry
	}
	return snap
}
