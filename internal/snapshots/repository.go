package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/franchise-ops/franchise-ops/internal/platform/db"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

// Store persists one DailySnapshot per calendar day.
type Store interface {
	Get(ctx context.Context, day string) (settlement.DailySnapshot, error)
	Upsert(ctx context.Context, snap settlement.DailySnapshot, computedAt time.Time) error
	ListRange(ctx context.Context, from, to string) ([]settlement.DailySnapshot, error)
	ComputedAt(ctx context.Context, from, to string) (map[string]time.Time, error)
}

// Repository is the Postgres Store. The payload column holds the snapshot
// JSON; totals are duplicated into columns for ad-hoc queries.
type Repository struct {
	db db.Querier
}

// NewRepository wires a pgx querier.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Get loads a single day. It returns ErrNotFound when the day was never
// computed.
func (r *Repository) Get(ctx context.Context, day string) (settlement.DailySnapshot, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM daily_snapshots WHERE day = $1::date`, day).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return settlement.DailySnapshot{}, fmt.Errorf("%w: %s", ErrNotFound, day)
	}
	if err != nil {
		return settlement.DailySnapshot{}, fmt.Errorf("snapshots: get %s: %w", day, err)
	}
	var snap settlement.DailySnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return settlement.DailySnapshot{}, fmt.Errorf("snapshots: decode %s: %w", day, err)
	}
	return snap, nil
}

// Upsert writes the whole day, replacing any previous row.
func (r *Repository) Upsert(ctx context.Context, snap settlement.DailySnapshot, computedAt time.Time) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshots: encode %s: %w", snap.Date, err)
	}
	const query = `INSERT INTO daily_snapshots (day, payload, total_settled_amount, total_order_count, computed_at)
VALUES ($1::date, $2, $3, $4, $5)
ON CONFLICT (day) DO UPDATE SET
	payload = EXCLUDED.payload,
	total_settled_amount = EXCLUDED.total_settled_amount,
	total_order_count = EXCLUDED.total_order_count,
	computed_at = EXCLUDED.computed_at`
	if _, err := r.db.Exec(ctx, query, snap.Date, payload, snap.TotalSettledAmount, snap.TotalOrderCount, computedAt.UTC()); err != nil {
		return fmt.Errorf("snapshots: upsert %s: %w", snap.Date, err)
	}
	return nil
}

// ListRange returns the stored days between from and to inclusive, oldest
// first. Rows that fail to decode are skipped.
func (r *Repository) ListRange(ctx context.Context, from, to string) ([]settlement.DailySnapshot, error) {
	rows, err := r.db.Query(ctx, `SELECT payload FROM daily_snapshots WHERE day BETWEEN $1::date AND $2::date ORDER BY day`, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshots: list %s..%s: %w", from, to, err)
	}
	defer rows.Close()

	var out []settlement.DailySnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("snapshots: scan: %w", err)
		}
		var snap settlement.DailySnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ComputedAt returns, per stored day in the inclusive range, the time the
// day's orders were read.
func (r *Repository) ComputedAt(ctx context.Context, from, to string) (map[string]time.Time, error) {
	rows, err := r.db.Query(ctx, `SELECT to_char(day, 'YYYY-MM-DD'), computed_at FROM daily_snapshots WHERE day BETWEEN $1::date AND $2::date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshots: computed at: %w", err)
	}
	defer rows.Close()

	stamps := make(map[string]time.Time)
	for rows.Next() {
		var (
			day string
			at  time.Time
		)
		if err := rows.Scan(&day, &at); err != nil {
			return nil, fmt.Errorf("snapshots: scan day: %w", err)
		}
		stamps[day] = at
	}
	return stamps, rows.Err()
}
