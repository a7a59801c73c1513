package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	seen map[string]bool
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var id string
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			id = opt.Value().(string)
		}
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[id] = true
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestEnqueueRecomputeCoalescesPerDay(t *testing.T) {
	q := &fakeEnqueuer{}
	client := &Client{client: q, delay: 5 * time.Second}

	first, err := client.EnqueueRecompute(context.Background(), "2024-05-03")
	require.NoError(t, err)
	second, err := client.EnqueueRecompute(context.Background(), "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "snapshot:recompute:2024-05-03", second)

	other, err := client.EnqueueRecompute(context.Background(), "2024-05-02")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestEnqueueSurfacesBrokerErrors(t *testing.T) {
	client := &Client{client: &fakeEnqueuer{err: errors.New("redis down")}}
	_, err := client.EnqueueBackfill(context.Background(), "2024-05-01", "2024-05-03")
	assert.ErrorContains(t, err, "redis down")
}

type queueHarness struct {
	client    *Client
	inspector *asynq.Inspector
	rdb       *redis.Client
}

func newQueueHarness(t *testing.T, delay time.Duration) queueHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts, delay)
	require.NoError(t, err)
	inspector := asynq.NewInspector(opts)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		_ = inspector.Close()
		_ = rdb.Close()
	})
	return queueHarness{client: client, inspector: inspector, rdb: rdb}
}

// markActive moves a pending task to the active list the way a dequeue does.
func (h queueHarness) markActive(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	prefix := "asynq:{" + QueueDefault + "}:"
	require.NoError(t, h.rdb.LRem(ctx, prefix+"pending", 0, id).Err())
	require.NoError(t, h.rdb.LPush(ctx, prefix+"active", id).Err())
	require.NoError(t, h.rdb.HSet(ctx, prefix+"t:"+id, "state", "active").Err())
}

func TestEnqueueRecomputeReplacesArchivedTask(t *testing.T) {
	h := newQueueHarness(t, 5*time.Second)
	ctx := context.Background()

	id, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	require.NoError(t, h.inspector.ArchiveTask(QueueDefault, id))

	again, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	info, err := h.inspector.GetTaskInfo(QueueDefault, id)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)
	archived, err := h.inspector.ListArchivedTasks(QueueDefault)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestEnqueueRecomputeQueuesFollowUpBehindRunningTask(t *testing.T) {
	h := newQueueHarness(t, 0)
	ctx := context.Background()

	id, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	h.markActive(t, id)

	next, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, "snapshot:recompute:2024-05-03:next", next)

	info, err := h.inspector.GetTaskInfo(QueueDefault, next)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)
	assert.Equal(t, TaskSnapshotRecompute, info.Type)

	// A second change while the follow-up waits is already covered.
	again, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, next, again)
	pending, err := h.inspector.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueRecomputeKeepsWaitingTask(t *testing.T) {
	h := newQueueHarness(t, 5*time.Second)
	ctx := context.Background()

	first, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	second, err := h.client.EnqueueRecompute(ctx, "2024-05-03")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	scheduled, err := h.inspector.ListScheduledTasks(QueueDefault)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthReportsQueueDepth(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Scheduled: 1}}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Pending)
	assert.Equal(t, 1, body.Scheduled)
}

func TestHealthUnavailableWhenRedisFails(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{err: errors.New("dial tcp")}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
