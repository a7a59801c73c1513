package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/franchise-ops/franchise-ops/internal/snapshots"
	"github.com/franchise-ops/franchise-ops/jobs"
)

type stubBackfiller struct {
	missing  []string
	result   snapshots.BackfillResult
	err      error
	backfill int
}

func (s *stubBackfiller) Missing(context.Context, time.Time, time.Time) ([]string, error) {
	return s.missing, nil
}

func (s *stubBackfiller) Backfill(context.Context, time.Time, time.Time) (snapshots.BackfillResult, error) {
	s.backfill++
	return s.result, s.err
}

func (s *stubBackfiller) Location() *time.Location { return time.UTC }

func runBackfill(t *testing.T, svc *stubBackfiller, opts BackfillOptions) (int, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cli, err := NewSnapshotCLI(svc)
	require.NoError(t, err)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	opts.Stdout, opts.Stderr = stdout, stderr
	if opts.From == "" {
		opts.From, opts.To = "2024-05-01", "2024-05-03"
	}
	return cli.BackfillCommand(context.Background(), opts), stdout, stderr
}

func TestBackfillDryRunReportsGaps(t *testing.T) {
	svc := &stubBackfiller{missing: []string{"2024-05-02", "2024-05-03"}}
	code, stdout, stderr := runBackfill(t, svc, BackfillOptions{JSONOutput: true})
	require.Equal(t, ExitGaps, code)
	require.Empty(t, stderr.String())
	require.Zero(t, svc.backfill)

	var summary BackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, BackfillModeDry, summary.Mode)
	require.Equal(t, []string{"2024-05-02", "2024-05-03"}, summary.Missing)
}

func TestBackfillDryRunWithoutGaps(t *testing.T) {
	code, stdout, _ := runBackfill(t, &stubBackfiller{}, BackfillOptions{})
	require.Equal(t, ExitOK, code)
	require.Contains(t, stdout.String(), "No missing days.")
}

func TestBackfillApplyAsksForConfirmation(t *testing.T) {
	svc := &stubBackfiller{missing: []string{"2024-05-02"}}
	code, _, stderr := runBackfill(t, svc, BackfillOptions{
		Mode: BackfillModeApply,
		Confirm: func(io.Reader, io.Writer, int) (bool, error) {
			return false, nil
		},
	})
	require.Equal(t, ExitFailure, code)
	require.Contains(t, stderr.String(), "aborted")
	require.Zero(t, svc.backfill)
}

func TestBackfillApplyReportsBusyDays(t *testing.T) {
	svc := &stubBackfiller{
		missing: []string{"2024-05-02", "2024-05-03"},
		result:  snapshots.BackfillResult{Written: []string{"2024-05-02"}, Busy: []string{"2024-05-03"}},
	}
	code, stdout, _ := runBackfill(t, svc, BackfillOptions{Mode: BackfillModeApply, Yes: true, JSONOutput: true})
	require.Equal(t, ExitBusy, code)
	require.Equal(t, 1, svc.backfill)

	var summary BackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, []string{"2024-05-02"}, summary.Written)
	require.Equal(t, []string{"2024-05-03"}, summary.Busy)
}

func TestBackfillApplyFailure(t *testing.T) {
	svc := &stubBackfiller{missing: []string{"2024-05-02"}, err: errors.New("pg gone")}
	code, _, stderr := runBackfill(t, svc, BackfillOptions{Mode: BackfillModeApply, Yes: true})
	require.Equal(t, ExitFailure, code)
	require.Contains(t, stderr.String(), "pg gone")
}

func TestBackfillValidatesInput(t *testing.T) {
	cases := []BackfillOptions{
		{Mode: "sideways", From: "2024-05-01", To: "2024-05-02"},
		{From: "2024/05/01", To: "2024-05-02"},
		{From: "2024-05-03", To: "2024-05-01"},
	}
	for _, opts := range cases {
		code, _, stderr := runBackfill(t, &stubBackfiller{}, opts)
		require.Equal(t, ExitFailure, code)
		require.True(t, strings.HasPrefix(stderr.String(), "snapshot backfill:"))
	}
}

func TestDefaultConfirm(t *testing.T) {
	out := new(bytes.Buffer)
	ok, err := defaultConfirm(strings.NewReader("yes\n"), out, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "Compute 3 snapshot day(s)?")

	ok, err = defaultConfirm(strings.NewReader(""), out, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

type stubEnqueuer struct {
	calls []string
}

func (s *stubEnqueuer) EnqueueRecompute(_ context.Context, day string) (string, error) {
	s.calls = append(s.calls, "recompute "+day)
	return "r", nil
}

func (s *stubEnqueuer) EnqueueBackfill(_ context.Context, from, to string) (string, error) {
	s.calls = append(s.calls, "backfill "+from+" "+to)
	return "b", nil
}

func (s *stubEnqueuer) EnqueueReportWarmup(_ context.Context, days int) (string, error) {
	s.calls = append(s.calls, "warmup")
	return "w", nil
}

type stubQueue struct{}

func (stubQueue) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Retry: 1}, nil
}

func (stubQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func TestJobsTrigger(t *testing.T) {
	q := &stubEnqueuer{}
	c := NewJobsCLI(q, stubQueue{})

	_, err := c.Trigger(context.Background(), jobs.TaskSnapshotRecompute, []string{"2024-05-03"})
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskSnapshotBackfill, []string{"2024-05-01"})
	require.Error(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskSnapshotBackfill, []string{"2024-05-01", "2024-05-03"})
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), "mail:send", nil)
	require.Error(t, err)
	require.Equal(t, []string{"recompute 2024-05-03", "backfill 2024-05-01 2024-05-03"}, q.calls)

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, stats)
}
