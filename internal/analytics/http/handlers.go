package analytichttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/franchise-ops/franchise-ops/internal/analytics"
	"github.com/franchise-ops/franchise-ops/internal/analytics/export"
	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
)

const requestTimeout = 10 * time.Second

// AnalyticsService is the read-model contract used by the handler.
type AnalyticsService interface {
	Report(ctx context.Context, filter analytics.ReportFilter) (analytics.Report, error)
	Rollup(ctx context.Context, filter analytics.RollupFilter) (analytics.Rollup, error)
	Dashboard(ctx context.Context, filter analytics.DashboardFilter) (analytics.Dashboard, error)
	Location() *time.Location
}

// BranchDirectory picks the default scope for a viewer's home branch and
// labels branch ids for display.
type BranchDirectory interface {
	DefaultScope(ctx context.Context, branchID string) (settlement.Scope, error)
	Names(ctx context.Context) (map[string]string, error)
}

// SnapshotScheduler queues snapshot work for the worker.
type SnapshotScheduler interface {
	EnqueueRecompute(ctx context.Context, day string) (string, error)
	EnqueueBackfill(ctx context.Context, from, to string) (string, error)
}

// SnapshotInspector previews snapshot backfills.
type SnapshotInspector interface {
	Missing(ctx context.Context, from, to time.Time) ([]string, error)
	Today() string
}

// Handler serves the analytics API.
type Handler struct {
	logger    *slog.Logger
	service   AnalyticsService
	scopes    BranchDirectory
	scheduler SnapshotScheduler
	inspector SnapshotInspector
	validate  *validator.Validate
	csvPool   sync.Pool
}

// NewHandler constructs the analytics HTTP handler. scheduler and inspector
// may be nil, which disables the snapshot endpoints.
func NewHandler(logger *slog.Logger, service AnalyticsService, scopes BranchDirectory, scheduler SnapshotScheduler, inspector SnapshotInspector) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:    logger,
		service:   service,
		scopes:    scopes,
		scheduler: scheduler,
		inspector: inspector,
		validate:  validator.New(),
	}
	h.csvPool.New = func() any { return new(bytes.Buffer) }
	return h
}

type noDataResponse struct {
	NoData bool   `json:"no_data"`
	Action string `json:"action"`
	Detail string `json:"detail"`
}

type scheduledResponse struct {
	TaskID string   `json:"task_id"`
	Days   []string `json:"days,omitempty"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	h.writeCSV(w, fmt.Sprintf("settlement-report-%s-%s.csv", report.From, report.To), func(buf *bytes.Buffer) error {
		return export.WriteReportCSV(buf, report)
	})
}

func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) (analytics.Report, bool) {
	q := parseRange(r)
	if err := validate(h.validate, q); err != nil {
		httpx.RespondError(w, err)
		return analytics.Report{}, false
	}
	bounds, err := days(h.service.Location(), q.From, q.To)
	if err != nil {
		httpx.RespondError(w, err)
		return analytics.Report{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	scope, err := h.resolveScope(ctx, r, q.BranchID)
	if err != nil {
		h.respondError(w, "resolve scope", err)
		return analytics.Report{}, false
	}
	report, err := h.service.Report(ctx, analytics.ReportFilter{From: bounds[0], To: bounds[1], Scope: scope})
	if err != nil {
		h.respondError(w, "build report", err)
		return analytics.Report{}, false
	}
	return report, true
}

func (h *Handler) handleRollup(w http.ResponseWriter, r *http.Request) {
	rollup, ok := h.loadRollup(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, rollup)
}

func (h *Handler) handleRollupCSV(w http.ResponseWriter, r *http.Request) {
	rollup, ok := h.loadRollup(w, r)
	if !ok {
		return
	}
	h.writeCSV(w, fmt.Sprintf("settlement-rollup-%s-%s-%s.csv", rollup.Bucketing, rollup.From, rollup.To), func(buf *bytes.Buffer) error {
		return export.WriteRollupCSV(buf, rollup)
	})
}

func (h *Handler) loadRollup(w http.ResponseWriter, r *http.Request) (analytics.Rollup, bool) {
	q := parseRollup(r)
	if err := validate(h.validate, q); err != nil {
		httpx.RespondError(w, err)
		return analytics.Rollup{}, false
	}
	bounds, err := days(h.service.Location(), q.From, q.To)
	if err != nil {
		httpx.RespondError(w, err)
		return analytics.Rollup{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	scope, err := h.resolveScope(ctx, r, q.BranchID)
	if err != nil {
		h.respondError(w, "resolve scope", err)
		return analytics.Rollup{}, false
	}
	rollup, err := h.service.Rollup(ctx, analytics.RollupFilter{
		From:      bounds[0],
		To:        bounds[1],
		Bucketing: settlement.Bucketing(q.Bucketing),
		Scope:     scope,
	})
	if errors.Is(err, settlement.ErrNoSnapshotData) {
		httpx.JSON(w, http.StatusOK, noDataResponse{NoData: true, Action: analytics.ActionRunAggregation, Detail: err.Error()})
		return analytics.Rollup{}, false
	}
	if err != nil {
		h.respondError(w, "build rollup", err)
		return analytics.Rollup{}, false
	}
	return rollup, true
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q, err := parseDashboard(r)
	if err == nil {
		err = validate(h.validate, q)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	scope, err := h.resolveScope(ctx, r, q.BranchID)
	if err != nil {
		h.respondError(w, "resolve scope", err)
		return
	}
	dash, err := h.service.Dashboard(ctx, analytics.DashboardFilter{
		Scope:     scope,
		Days:      q.Days,
		Bucketing: settlement.Bucketing(q.Bucketing),
	})
	if err != nil {
		h.respondError(w, "build dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dash)
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil || h.inspector == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	var req recomputeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := validate(h.validate, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	today := h.inspector.Today()
	if req.Day == "" {
		req.Day = today
	}
	if req.Day > today {
		httpx.RespondError(w, snapshots.ErrFutureDay)
		return
	}

	taskID, err := h.scheduler.EnqueueRecompute(r.Context(), req.Day)
	if err != nil {
		h.respondError(w, "enqueue recompute", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, scheduledResponse{TaskID: taskID, Days: []string{req.Day}})
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil || h.inspector == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	var req backfillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := validate(h.validate, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bounds, err := days(h.service.Location(), req.From, req.To)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	missing, err := h.inspector.Missing(r.Context(), bounds[0], bounds[1])
	if err != nil {
		h.respondError(w, "preview backfill", err)
		return
	}
	if len(missing) == 0 {
		httpx.JSON(w, http.StatusOK, scheduledResponse{})
		return
	}
	taskID, err := h.scheduler.EnqueueBackfill(r.Context(), req.From, req.To)
	if err != nil {
		h.respondError(w, "enqueue backfill", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, scheduledResponse{TaskID: taskID, Days: missing})
}

func (h *Handler) handleBranches(w http.ResponseWriter, r *http.Request) {
	if h.scopes == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"branches": map[string]string{}})
		return
	}
	names, err := h.scopes.Names(r.Context())
	if err != nil {
		h.respondError(w, "list branches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branches": names})
}

func (h *Handler) handleMissing(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	q := parseRange(r)
	if err := validate(h.validate, q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bounds, err := days(h.service.Location(), q.From, q.To)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	missing, err := h.inspector.Missing(r.Context(), bounds[0], bounds[1])
	if err != nil {
		h.respondError(w, "list missing snapshots", err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"from": q.From, "to": q.To, "missing": missing})
}

// resolveScope honours an explicit branch_id, then the viewer's home
// branch, then falls back to every branch.
func (h *Handler) resolveScope(ctx context.Context, r *http.Request, branchID string) (settlement.Scope, error) {
	switch branchID {
	case scopeAll:
		return settlement.AllBranches, nil
	case "":
	default:
		return settlement.ForBranch(branchID), nil
	}
	if h.scopes == nil {
		return settlement.AllBranches, nil
	}
	return h.scopes.DefaultScope(ctx, r.Header.Get(homeBranchHeader))
}

func (h *Handler) writeCSV(w http.ResponseWriter, filename string, fill func(*bytes.Buffer) error) {
	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := fill(buf); err != nil {
		h.respondError(w, "write csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("stream csv", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, settlement.ErrInvalidRange), errors.Is(err, settlement.ErrUnknownBucketing):
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) {
		h.logger.Error("analytics request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
