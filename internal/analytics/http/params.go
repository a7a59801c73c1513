package analytichttp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const (
	// scopeAll in branch_id forces the whole-system scope.
	scopeAll = "all"
	// homeBranchHeader carries the viewer's branch, set by the gateway.
	homeBranchHeader = "X-Branch-ID"
)

type rangeQuery struct {
	From     string `validate:"required,datetime=2006-01-02"`
	To       string `validate:"required,datetime=2006-01-02"`
	BranchID string `validate:"omitempty,max=64"`
}

type rollupQuery struct {
	rangeQuery
	Bucketing string `validate:"omitempty,oneof=day week month"`
}

type dashboardQuery struct {
	Days      int    `validate:"omitempty,min=1,max=366"`
	Bucketing string `validate:"omitempty,oneof=day week month"`
	BranchID  string `validate:"omitempty,max=64"`
}

type recomputeRequest struct {
	Day string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

type backfillRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

func parseRange(r *http.Request) rangeQuery {
	q := r.URL.Query()
	return rangeQuery{
		From:     strings.TrimSpace(q.Get("from")),
		To:       strings.TrimSpace(q.Get("to")),
		BranchID: strings.TrimSpace(q.Get("branch_id")),
	}
}

func parseRollup(r *http.Request) rollupQuery {
	return rollupQuery{
		rangeQuery: parseRange(r),
		Bucketing:  strings.TrimSpace(r.URL.Query().Get("bucketing")),
	}
}

func parseDashboard(r *http.Request) (dashboardQuery, error) {
	q := r.URL.Query()
	out := dashboardQuery{
		Bucketing: strings.TrimSpace(q.Get("bucketing")),
		BranchID:  strings.TrimSpace(q.Get("branch_id")),
	}
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return out, fmt.Errorf("%w: days must be a number", httpx.ErrValidation)
		}
		out.Days = days
	}
	return out, nil
}

func validate(v *validator.Validate, target any) error {
	if err := v.Struct(target); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

// days parses validated yyyy-mm-dd values in loc.
func days(loc *time.Location, values ...string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		t, err := time.ParseInLocation(settlement.DayLayout, v, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
		}
		out = append(out, t)
	}
	if len(out) == 2 && out[1].Before(out[0]) {
		return nil, fmt.Errorf("%w: to is before from", httpx.ErrValidation)
	}
	return out, nil
}
