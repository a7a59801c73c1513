package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-ops/jobs"
)

// JobEnqueuer is the queue client used by JobsCLI. *jobs.Client satisfies it.
type JobEnqueuer interface {
	EnqueueRecompute(ctx context.Context, day string) (string, error)
	EnqueueBackfill(ctx context.Context, from, to string) (string, error)
	EnqueueReportWarmup(ctx context.Context, days int) (string, error)
}

// QueueReader lists queue state. *asynq.Inspector satisfies it.
type QueueReader interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    JobEnqueuer
	inspector QueueReader
}

// NewJobsCLI wires the CLI helpers.
func NewJobsCLI(client JobEnqueuer, inspector QueueReader) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Trigger enqueues a supported job by name. Arguments:
//
//	snapshot:recompute [day]
//	snapshot:backfill  <from> <to>
//	report:warmup      [days]
func (c *JobsCLI) Trigger(ctx context.Context, name string, args []string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskSnapshotRecompute:
		day := ""
		if len(args) > 0 {
			day = args[0]
		}
		return c.client.EnqueueRecompute(ctx, day)
	case jobs.TaskSnapshotBackfill:
		if len(args) != 2 {
			return "", fmt.Errorf("jobs cli: %s needs <from> <to>", name)
		}
		return c.client.EnqueueBackfill(ctx, args[0], args[1])
	case jobs.TaskReportWarmup:
		days := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return "", fmt.Errorf("jobs cli: invalid days %q", args[0])
			}
			days = n
		}
		return c.client.EnqueueReportWarmup(ctx, days)
	default:
		return "", fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
