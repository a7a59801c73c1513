package settlement

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Bucketing selects the calendar granularity of a rollup.
type Bucketing string

const (
	BucketDay   Bucketing = "day"
	BucketWeek  Bucketing = "week"
	BucketMonth Bucketing = "month"
)

var (
	// ErrNoSnapshotData signals that no snapshot rows exist for the requested
	// range. Callers must surface it instead of rendering zero buckets.
	ErrNoSnapshotData = errors.New("settlement: no snapshot data for range")
	// ErrUnknownBucketing is returned for an unsupported granularity.
	ErrUnknownBucketing = errors.New("settlement: unknown bucketing")
)

// ParseBucketing validates a granularity name.
func ParseBucketing(v string) (Bucketing, error) {
	switch b := Bucketing(v); b {
	case BucketDay, BucketWeek, BucketMonth:
		return b, nil
	case "":
		return BucketWeek, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBucketing, v)
	}
}

// Bucket is one week or month of settled sales read from snapshots.
type Bucket struct {
	Key        string                    `json:"key"`
	Start      time.Time                 `json:"start"`
	Sales      float64                   `json:"sales"`
	OrderCount int                       `json:"order_count"`
	Days       int                       `json:"days"`
	Branches   map[string]BranchSnapshot `json:"branches,omitempty"`
}

// FoldSnapshots re-aggregates daily snapshots into calendar buckets. For the
// whole-system scope each bucket also carries a per-branch breakdown keyed by
// branch id. It returns ErrNoSnapshotData when there is nothing to fold.
func FoldSnapshots(snaps []DailySnapshot, by Bucketing, scope Scope) ([]Bucket, error) {
	if by == "" {
		by = BucketWeek
	}
	if _, err := ParseBucketing(string(by)); err != nil {
		return nil, err
	}

	buckets := make(map[string]*Bucket)
	for _, snap := range snaps {
		day, err := snap.Day(time.UTC)
		if err != nil {
			continue
		}
		key, start := bucketFor(day, by)
		b, ok := buckets[key]
		if !ok {
			b = &Bucket{Key: key, Start: start}
			if scope.IsAll() {
				b.Branches = make(map[string]BranchSnapshot)
			}
			buckets[key] = b
		}
		b.Days++
		if scope.IsAll() {
			b.Sales += snap.TotalSettledAmount
			b.OrderCount += snap.TotalOrderCount
			for _, branch := range snap.Branches {
				entry := b.Branches[branch.BranchID]
				entry.BranchID = branch.BranchID
				if entry.BranchName == "" {
					entry.BranchName = branch.BranchName
				}
				entry.SettledAmount += branch.SettledAmount
				entry.OrderCount += branch.OrderCount
				b.Branches[branch.BranchID] = entry
			}
			continue
		}
		if branch, ok := snap.Branch(scope.BranchID); ok {
			b.Sales += branch.SettledAmount
			b.OrderCount += branch.OrderCount
		}
	}
	if len(buckets) == 0 {
		return nil, ErrNoSnapshotData
	}

	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func bucketFor(day time.Time, by Bucketing) (string, time.Time) {
	switch by {
	case BucketDay:
		return day.Format(DayLayout), day
	case BucketMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return start.Format("2006-01"), start
	default:
		year, week := day.ISOWeek()
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return fmt.Sprintf("%04d-W%02d", year, week), start
	}
}
