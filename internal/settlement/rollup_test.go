package settlement

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchKeyNormalisesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "jl_sudirman_no_5", BranchKey("jl sudirman no.5"))
	assert.Equal(t, "a_b_c_d", BranchKey(" a/b#c$d "))
	assert.Equal(t, BranchKey("x.y"), BranchKey("x.y"))
}

func TestBuildDailySnapshot(t *testing.T) {
	dotted := BranchRef{ID: "br.z", Name: "Outlet Z"}
	orders := append(scenarioAOrders(),
		newOrder("z1", dotted, 400),
		newOrder("other-day", branchX, 50000),
	)
	orders[len(orders)-1].OrderDate = may1.AddDate(0, 0, 1)

	snap := BuildDailySnapshot(may1, time.UTC, orders)
	assert.Equal(t, "2024-05-01", snap.Date)
	assert.Equal(t, 6400.0, snap.TotalSettledAmount)
	assert.Equal(t, 4, snap.TotalOrderCount)
	assert.Equal(t, BranchSnapshot{BranchID: branchX.ID, BranchName: branchX.Name, SettledAmount: 5400, OrderCount: 3}, snap.Branches[BranchKey(branchX.ID)])
	assert.Equal(t, 600.0, snap.Branches[BranchKey(branchY.ID)].SettledAmount)

	z, ok := snap.Branch("br.z")
	require.True(t, ok)
	assert.Equal(t, 400.0, z.SettledAmount)
	assert.Contains(t, snap.Branches, "br_z")
}

func TestBuildDailySnapshotIsIdempotent(t *testing.T) {
	orders := scenarioAOrders()
	first, err := json.Marshal(BuildDailySnapshot(may1, time.UTC, orders))
	require.NoError(t, err)
	second, err := json.Marshal(BuildDailySnapshot(may1, time.UTC, orders))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotPathMatchesExactPath(t *testing.T) {
	orders := scenarioAOrders()
	snap := BuildDailySnapshot(may1, time.UTC, orders)
	buckets, err := FoldSnapshots([]DailySnapshot{snap}, BucketDay, ForBranch(branchX.ID))
	require.NoError(t, err)

	stats := Aggregate(orders, nil, nil, SingleDay(may1, time.UTC), ForBranch(branchX.ID))
	require.Len(t, buckets, 1)
	assert.Equal(t, stats.TotalSales, buckets[0].Sales)
}

func weekSnapshots() []DailySnapshot {
	mk := func(date string, x, y float64) DailySnapshot {
		return DailySnapshot{
			Date: date,
			Branches: map[string]BranchSnapshot{
				BranchKey(branchX.ID): {BranchID: branchX.ID, BranchName: branchX.Name, SettledAmount: x, OrderCount: 1},
				BranchKey(branchY.ID): {BranchID: branchY.ID, BranchName: branchY.Name, SettledAmount: y, OrderCount: 1},
			},
			TotalSettledAmount: x + y,
			TotalOrderCount:    2,
		}
	}
	return []DailySnapshot{
		mk("2024-05-13", 300, 30), // Monday, ISO week 20
		mk("2024-05-01", 100, 10), // Wednesday, ISO week 18
		mk("2024-05-05", 200, 20), // Sunday, still ISO week 18
		mk("2024-06-02", 400, 40), // Sunday, ISO week 22
	}
}

func TestFoldSnapshotsByWeek(t *testing.T) {
	buckets, err := FoldSnapshots(weekSnapshots(), BucketWeek, AllBranches)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Equal(t, "2024-W18", buckets[0].Key)
	assert.Equal(t, time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC), buckets[0].Start)
	assert.Equal(t, 330.0, buckets[0].Sales)
	assert.Equal(t, 2, buckets[0].Days)
	assert.Equal(t, 300.0, buckets[0].Branches[branchX.ID].SettledAmount)
	assert.Equal(t, 30.0, buckets[0].Branches[branchY.ID].SettledAmount)

	assert.Equal(t, "2024-W20", buckets[1].Key)
	assert.Equal(t, "2024-W22", buckets[2].Key)
}

func TestFoldSnapshotsByMonthForBranch(t *testing.T) {
	buckets, err := FoldSnapshots(weekSnapshots(), BucketMonth, ForBranch(branchY.ID))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "2024-05", buckets[0].Key)
	assert.Equal(t, 60.0, buckets[0].Sales)
	assert.Equal(t, 3, buckets[0].OrderCount)
	assert.Nil(t, buckets[0].Branches)
	assert.Equal(t, "2024-06", buckets[1].Key)
	assert.Equal(t, 40.0, buckets[1].Sales)
}

func TestFoldSnapshotsReadsNormalisedBranchKeys(t *testing.T) {
	snap := BuildDailySnapshot(may1, time.UTC, []Order{newOrder("k1", BranchRef{ID: "hq main.1", Name: "HQ"}, 750)})
	buckets, err := FoldSnapshots([]DailySnapshot{snap}, BucketMonth, ForBranch("hq main.1"))
	require.NoError(t, err)
	assert.Equal(t, 750.0, buckets[0].Sales)
}

func TestFoldSnapshotsWithoutRowsSignalsNoData(t *testing.T) {
	buckets, err := FoldSnapshots(nil, BucketMonth, AllBranches)
	assert.ErrorIs(t, err, ErrNoSnapshotData)
	assert.Nil(t, buckets)

	_, err = FoldSnapshots([]DailySnapshot{{Date: "not-a-date"}}, BucketMonth, AllBranches)
	assert.ErrorIs(t, err, ErrNoSnapshotData)
}

func TestFoldSnapshotsRejectsUnknownBucketing(t *testing.T) {
	_, err := FoldSnapshots(weekSnapshots(), Bucketing("quarter"), AllBranches)
	assert.ErrorIs(t, err, ErrUnknownBucketing)
}

func TestDaysBetween(t *testing.T) {
	rng, err := DaysBetween(time.Date(2024, 2, 27, 15, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}, rng.Days())
	assert.True(t, rng.Contains(time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)))
	assert.False(t, rng.Contains(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))

	_, err = DaysBetween(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
