package analytichttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/franchise-ops/franchise-ops/internal/platform/httpx"
)

// MountRoutes registers the analytics endpoints under /analytics.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "snapshot jobs are rate limited")
		}),
	)

	r.Route("/analytics", func(r chi.Router) {
		r.Get("/report", h.handleReport)
		r.Get("/report.csv", h.handleReportCSV)
		r.Get("/rollup", h.handleRollup)
		r.Get("/rollup.csv", h.handleRollupCSV)
		r.Get("/dashboard", h.handleDashboard)
		r.Get("/branches", h.handleBranches)
		r.Get("/snapshots/missing", h.handleMissing)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/snapshots/recompute", h.handleRecompute)
			gr.Post("/snapshots/backfill", h.handleBackfill)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if branch := strings.TrimSpace(r.Header.Get(homeBranchHeader)); branch != "" {
		return "branch:" + branch, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
