package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSnapshotRecompute rebuilds the snapshot of a single day.
	TaskSnapshotRecompute = "snapshot:recompute"
	// TaskSnapshotBackfill fills snapshot rows missing from a day range.
	TaskSnapshotBackfill = "snapshot:backfill"
	// TaskReportWarmup pre-populates the report cache for every branch.
	TaskReportWarmup = "report:warmup"
)

// SnapshotRecomputePayload names the day to rebuild. An empty day means
// today in the snapshot timezone.
type SnapshotRecomputePayload struct {
	RunID string `json:"run_id"`
	Day   string `json:"day,omitempty"`
}

// SnapshotBackfillPayload selects the backfill window. When From and To are
// empty the job covers the trailing Days ending today.
type SnapshotBackfillPayload struct {
	RunID string `json:"run_id"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Days  int    `json:"days,omitempty"`
}

// ReportWarmupPayload selects the trailing window warmed per branch.
type ReportWarmupPayload struct {
	RunID string `json:"run_id"`
	Days  int    `json:"days,omitempty"`
}

// NewSnapshotRecomputeTask constructs a recompute task for day.
func NewSnapshotRecomputeTask(day string) (*asynq.Task, error) {
	return newTask(TaskSnapshotRecompute, SnapshotRecomputePayload{RunID: uuid.NewString(), Day: day})
}

// NewSnapshotBackfillTask constructs a backfill task over an explicit range.
func NewSnapshotBackfillTask(from, to string) (*asynq.Task, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("jobs: backfill needs both bounds")
	}
	return newTask(TaskSnapshotBackfill, SnapshotBackfillPayload{RunID: uuid.NewString(), From: from, To: to})
}

// NewTrailingBackfillTask constructs a backfill task over the last days
// ending today. The payload carries no run id so cron registrations stay
// stable across restarts.
func NewTrailingBackfillTask(days int) (*asynq.Task, error) {
	if days < 1 {
		return nil, fmt.Errorf("jobs: backfill window must be positive")
	}
	return newTask(TaskSnapshotBackfill, SnapshotBackfillPayload{Days: days})
}

// NewReportWarmupTask constructs a report warmup task.
func NewReportWarmupTask(days int) (*asynq.Task, error) {
	return newTask(TaskReportWarmup, ReportWarmupPayload{Days: days})
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, dest any) error {
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
