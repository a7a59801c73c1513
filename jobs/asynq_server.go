package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
)

const maxSnapshotRetry = 5

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Location    *time.Location
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Cron specs are evaluated in the
// configured location so that midnight jobs follow the snapshot calendar.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: loc})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, fmt.Errorf("jobs: register cron %q: %w", entry.Spec, err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue.
type Client struct {
	client enqueuer
	tasks  taskStates
	delay  time.Duration
}

// taskStates reads and clears stored tasks. *asynq.Inspector satisfies it.
type taskStates interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

// followUpSuffix marks the task queued behind a running task of the same id.
const followUpSuffix = ":next"

// NewClient constructs an Asynq client. Recompute tasks are held back by
// delay so that bursts of requests for the same day collapse into one run.
func NewClient(redisOpts asynq.RedisClientOpt, delay time.Duration) (*Client, error) {
	return &Client{
		client: asynq.NewClient(redisOpts),
		tasks:  asynq.NewInspector(redisOpts),
		delay:  delay,
	}, nil
}

// EnqueueRecompute queues a recompute of day, or of the worker's current day
// when day is empty. A request for a day that is already waiting returns the
// waiting task id; a request for a day that is running returns the id of the
// follow-up task.
func (c *Client) EnqueueRecompute(ctx context.Context, day string) (string, error) {
	task, err := NewSnapshotRecomputeTask(day)
	if err != nil {
		return "", err
	}
	key := day
	if key == "" {
		key = "today"
	}
	id := TaskSnapshotRecompute + ":" + key
	return c.enqueueUnique(ctx, task, id, asynq.ProcessIn(c.delay), asynq.MaxRetry(maxSnapshotRetry))
}

// EnqueueBackfill queues a backfill over the inclusive day range.
func (c *Client) EnqueueBackfill(ctx context.Context, from, to string) (string, error) {
	task, err := NewSnapshotBackfillTask(from, to)
	if err != nil {
		return "", err
	}
	id := TaskSnapshotBackfill + ":" + from + ":" + to
	return c.enqueueUnique(ctx, task, id, asynq.MaxRetry(maxSnapshotRetry))
}

// EnqueueReportWarmup queues a report cache warmup.
func (c *Client) EnqueueReportWarmup(ctx context.Context, days int) (string, error) {
	task, err := NewReportWarmupTask(days)
	if err != nil {
		return "", err
	}
	return c.enqueueUnique(ctx, task, TaskReportWarmup)
}

// enqueueUnique enqueues task under id. When id is taken the stored task
// decides: a waiting task already covers the request, a finished or
// archived one is replaced, and a running one gets a follow-up task so
// changes it may have missed are still picked up.
func (c *Client) enqueueUnique(ctx context.Context, task *asynq.Task, id string, opts ...asynq.Option) (string, error) {
	taken, err := c.enqueue(ctx, task, id, opts)
	if err != nil {
		return "", err
	}
	if !taken || c.tasks == nil {
		return id, nil
	}

	state, err := c.taskState(id)
	if err != nil {
		return "", err
	}
	switch state {
	case 0:
		// Gone between the enqueue and the lookup.
		return c.enqueueAgain(ctx, task, id, opts)
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := c.tasks.DeleteTask(QueueDefault, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return "", fmt.Errorf("jobs: clear %s: %w", id, err)
		}
		return c.enqueueAgain(ctx, task, id, opts)
	case asynq.TaskStateActive:
		next := id + followUpSuffix
		taken, err := c.enqueue(ctx, task, next, opts)
		if err != nil {
			return "", err
		}
		if taken {
			nextState, err := c.taskState(next)
			if err != nil {
				return "", err
			}
			if nextState == asynq.TaskStateArchived || nextState == asynq.TaskStateCompleted {
				if err := c.tasks.DeleteTask(QueueDefault, next); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
					return "", fmt.Errorf("jobs: clear %s: %w", next, err)
				}
				return c.enqueueAgain(ctx, task, next, opts)
			}
		}
		return next, nil
	default:
		return id, nil
	}
}

// enqueue reports taken when id already exists in the queue.
func (c *Client) enqueue(ctx context.Context, task *asynq.Task, id string, opts []asynq.Option) (bool, error) {
	all := append(append([]asynq.Option{}, opts...), asynq.TaskID(id), asynq.Queue(QueueDefault))
	_, err := c.client.EnqueueContext(ctx, task, all...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobs: enqueue %s: %w", task.Type(), err)
	}
	return false, nil
}

// enqueueAgain retries after id was freed. Losing the id to a concurrent
// caller still leaves a task queued under it.
func (c *Client) enqueueAgain(ctx context.Context, task *asynq.Task, id string, opts []asynq.Option) (string, error) {
	if _, err := c.enqueue(ctx, task, id, opts); err != nil {
		return "", err
	}
	return id, nil
}

// taskState returns 0 when the task no longer exists.
func (c *Client) taskState(id string) (asynq.TaskState, error) {
	info, err := c.tasks.GetTaskInfo(QueueDefault, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("jobs: inspect %s: %w", id, err)
	}
	return info.State, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	err := c.client.Close()
	if c.tasks != nil {
		err = errors.Join(err, c.tasks.Close())
	}
	return err
}

// QueueInspector reads queue state. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Active    int    `json:"active"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue unreachable")
		return
	}
	if info != nil {
		out.Queue = info.Queue
		out.Pending = info.Pending
		out.Scheduled = info.Scheduled
		out.Retry = info.Retry
		out.Active = info.Active
	}
	httpx.JSON(w, http.StatusOK, out)
}
