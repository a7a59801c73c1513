package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/franchise-ops/franchise-ops/internal/jobs"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
)

type fakeSnapshots struct {
	today      string
	recomputed []string
	err        error
	backfill   snapshots.BackfillResult
	ranges     [][2]string
}

func (f *fakeSnapshots) Recompute(_ context.Context, day time.Time) (settlement.DailySnapshot, error) {
	key := day.Format(settlement.DayLayout)
	f.recomputed = append(f.recomputed, key)
	return settlement.DailySnapshot{Date: key}, f.err
}

func (f *fakeSnapshots) Backfill(_ context.Context, from, to time.Time) (snapshots.BackfillResult, error) {
	f.ranges = append(f.ranges, [2]string{from.Format(settlement.DayLayout), to.Format(settlement.DayLayout)})
	return f.backfill, f.err
}

func (f *fakeSnapshots) Location() *time.Location { return time.UTC }

func (f *fakeSnapshots) Today() string { return f.today }

func newSnapshotJobs(svc *fakeSnapshots) *SnapshotJobs {
	return NewSnapshotJobs(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestRecomputeDefaultsToToday(t *testing.T) {
	svc := &fakeSnapshots{today: "2024-05-03"}
	task, err := NewSnapshotRecomputeTask("")
	require.NoError(t, err)

	require.NoError(t, newSnapshotJobs(svc).HandleRecompute(context.Background(), task))
	assert.Equal(t, []string{"2024-05-03"}, svc.recomputed)
}

func TestRecomputeOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "immutable past day", err: snapshots.ErrDayImmutable},
		{name: "busy day retries", err: snapshots.ErrRecomputeInProgress, wantErr: true},
		{name: "future day", err: snapshots.ErrFutureDay, wantErr: true, skipRetry: true},
		{name: "store failure", err: errors.New("pg gone"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeSnapshots{today: "2024-05-03", err: tc.err}
			task, err := NewSnapshotRecomputeTask("2024-05-01")
			require.NoError(t, err)

			err = newSnapshotJobs(svc).HandleRecompute(context.Background(), task)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestRecomputeRejectsMalformedPayload(t *testing.T) {
	svc := &fakeSnapshots{today: "2024-05-03"}
	jobs := newSnapshotJobs(svc)

	err := jobs.HandleRecompute(context.Background(), asynq.NewTask(TaskSnapshotRecompute, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(SnapshotRecomputePayload{Day: "05/01/2024"})
	err = jobs.HandleRecompute(context.Background(), asynq.NewTask(TaskSnapshotRecompute, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, svc.recomputed)
}

func TestBackfillTrailingWindow(t *testing.T) {
	svc := &fakeSnapshots{today: "2024-05-03", backfill: snapshots.BackfillResult{Written: []string{"2024-04-28"}}}
	task, err := NewTrailingBackfillTask(7)
	require.NoError(t, err)

	require.NoError(t, newSnapshotJobs(svc).HandleBackfill(context.Background(), task))
	assert.Equal(t, [][2]string{{"2024-04-27", "2024-05-03"}}, svc.ranges)
}

func TestBackfillRetriesBusyDays(t *testing.T) {
	svc := &fakeSnapshots{today: "2024-05-03", backfill: snapshots.BackfillResult{Busy: []string{"2024-05-02"}}}
	task, err := NewSnapshotBackfillTask("2024-05-01", "2024-05-03")
	require.NoError(t, err)

	err = newSnapshotJobs(svc).HandleBackfill(context.Background(), task)
	assert.ErrorIs(t, err, snapshots.ErrRecomputeInProgress)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	svc := &fakeSnapshots{today: "2024-05-03"}
	task, err := NewSnapshotBackfillTask("2024-05-03", "2024-05-01")
	require.NoError(t, err)

	err = newSnapshotJobs(svc).HandleBackfill(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, svc.ranges)
}

func TestTaskConstructorsValidate(t *testing.T) {
	_, err := NewSnapshotBackfillTask("", "2024-05-01")
	assert.Error(t, err)
	_, err = NewTrailingBackfillTask(0)
	assert.Error(t, err)

	task, err := NewSnapshotRecomputeTask("2024-05-01")
	require.NoError(t, err)
	var payload SnapshotRecomputePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.NotEmpty(t, payload.RunID)
	assert.Equal(t, "2024-05-01", payload.Day)
}
