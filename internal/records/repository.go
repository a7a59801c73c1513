// Package records loads raw orders, expenses and purchases from Postgres.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/franchise-ops/franchise-ops/internal/platform/db"
	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const defaultRecentLimit = 10

// Repository is the read side of the operational tables.
type Repository interface {
	ListOrders(ctx context.Context, q OrderQuery) ([]settlement.Order, error)
	ListExpenses(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.Expense, error)
	ListPurchases(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.PurchaseEntry, error)
	RecentOrders(ctx context.Context, scope settlement.Scope, limit int) ([]settlement.Order, error)
	CountOrdersByStatus(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) (map[settlement.OrderStatus]int, error)
	CountCustomers(ctx context.Context, scope settlement.Scope) (int, error)
}

// PGRepository implements Repository on pgx.
type PGRepository struct {
	db     db.Querier
	logger *slog.Logger
}

// NewRepository wires a pgx querier. Decoding problems in JSON columns are
// logged and the affected field is left at its zero value.
func NewRepository(q db.Querier, logger *slog.Logger) *PGRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRepository{db: q, logger: logger.With(slog.String("repo", "records"))}
}

const orderColumns = `o.id::text, o.branch_id::text, COALESCE(o.branch_name, ''), o.order_date, o.status, o.items, o.summary, o.payment, o.transfer`

type orderRow struct {
	ID         string
	BranchID   string
	BranchName string
	OrderDate  time.Time
	Status     string
	Items      []byte
	Summary    []byte
	Payment    []byte
	Transfer   []byte
}

// ListOrders returns orders matching the query ordered by date.
func (r *PGRepository) ListOrders(ctx context.Context, q OrderQuery) ([]settlement.Order, error) {
	f := orderFilter(q)
	sql := `SELECT ` + orderColumns + ` FROM orders o` + f.where() + ` ORDER BY o.order_date, o.id`
	if q.Limit > 0 {
		sql += ` LIMIT ` + strconv.Itoa(q.Limit)
	}
	return r.queryOrders(ctx, sql, f.args...)
}

// RecentOrders returns the latest non-canceled orders for the scope.
func (r *PGRepository) RecentOrders(ctx context.Context, scope settlement.Scope, limit int) ([]settlement.Order, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	f := orderFilter(OrderQuery{Scope: scope})
	sql := `SELECT ` + orderColumns + ` FROM orders o` + f.where() + ` ORDER BY o.order_date DESC, o.id DESC LIMIT ` + strconv.Itoa(limit)
	return r.queryOrders(ctx, sql, f.args...)
}

func (r *PGRepository) queryOrders(ctx context.Context, sql string, args ...any) ([]settlement.Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("records: query orders: %w", err)
	}
	defer rows.Close()

	var orders []settlement.Order
	for rows.Next() {
		var row orderRow
		if err := rows.Scan(&row.ID, &row.BranchID, &row.BranchName, &row.OrderDate, &row.Status,
			&row.Items, &row.Summary, &row.Payment, &row.Transfer); err != nil {
			return nil, fmt.Errorf("records: scan order: %w", err)
		}
		orders = append(orders, r.decodeOrder(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: iterate orders: %w", err)
	}
	return orders, nil
}

func (r *PGRepository) decodeOrder(row orderRow) settlement.Order {
	o := settlement.Order{
		ID:        row.ID,
		Branch:    settlement.BranchRef{ID: row.BranchID, Name: row.BranchName},
		OrderDate: utc(row.OrderDate),
		Status:    settlement.OrderStatus(row.Status),
	}
	if !r.decode(row.ID, "items", row.Items, &o.Items) {
		o.Items = nil
	}
	var summary settlement.OrderSummary
	if r.decode(row.ID, "summary", row.Summary, &summary) {
		o.Summary = &summary
	}
	var payment settlement.Payment
	if r.decode(row.ID, "payment", row.Payment, &payment) {
		o.Payment = &payment
	}
	var transfer settlement.TransferInfo
	if r.decode(row.ID, "transfer", row.Transfer, &transfer) {
		o.Transfer = &transfer
	}
	return o
}

// decode unmarshals a JSON column. It reports false for NULL or malformed
// payloads; malformed payloads are logged.
func (r *PGRepository) decode(id, column string, raw []byte, dest any) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.logger.Warn("decode order column", slog.String("order_id", id), slog.String("column", column), slog.Any("error", err))
		return false
	}
	return true
}

// ListExpenses returns expenses created inside the range for the scope.
// Status filtering is left to the aggregator.
func (r *PGRepository) ListExpenses(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.Expense, error) {
	f := branchFilter("created_at", rng, scope)
	sql := `SELECT id::text, branch_id::text, COALESCE(branch_name, ''), created_at, COALESCE(amount, 0)::float8, COALESCE(status, '') FROM expenses` + f.where() + ` ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, fmt.Errorf("records: query expenses: %w", err)
	}
	defer rows.Close()

	var out []settlement.Expense
	for rows.Next() {
		var e settlement.Expense
		var status string
		if err := rows.Scan(&e.ID, &e.Branch.ID, &e.Branch.Name, &e.CreatedAt, &e.Amount, &status); err != nil {
			return nil, fmt.Errorf("records: scan expense: %w", err)
		}
		e.Status = settlement.ExpenseStatus(status)
		e.CreatedAt = utc(e.CreatedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: iterate expenses: %w", err)
	}
	return out, nil
}

// ListPurchases returns stock movements dated inside the range for the scope.
func (r *PGRepository) ListPurchases(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) ([]settlement.PurchaseEntry, error) {
	f := branchFilter("entry_date", rng, scope)
	sql := `SELECT id::text, entry_date, branch_id::text, COALESCE(branch_name, ''), COALESCE(supplier, ''), COALESCE(item_name, ''),
		COALESCE(quantity, 0)::float8, COALESCE(total_amount, 0)::float8, direction FROM purchase_entries` + f.where() + ` ORDER BY entry_date, id`
	rows, err := r.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, fmt.Errorf("records: query purchases: %w", err)
	}
	defer rows.Close()

	var out []settlement.PurchaseEntry
	for rows.Next() {
		var p settlement.PurchaseEntry
		var direction string
		if err := rows.Scan(&p.ID, &p.Date, &p.Branch.ID, &p.Branch.Name, &p.Supplier, &p.ItemName,
			&p.Quantity, &p.TotalAmount, &direction); err != nil {
			return nil, fmt.Errorf("records: scan purchase: %w", err)
		}
		p.Direction = settlement.Direction(direction)
		p.Date = utc(p.Date)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: iterate purchases: %w", err)
	}
	return out, nil
}

// CountOrdersByStatus counts orders per status, canceled included.
func (r *PGRepository) CountOrdersByStatus(ctx context.Context, rng settlement.DateRange, scope settlement.Scope) (map[settlement.OrderStatus]int, error) {
	f := orderFilter(OrderQuery{Range: rng, Scope: scope, IncludeCanceled: true})
	sql := `SELECT o.status, COUNT(*) FROM orders o` + f.where() + ` GROUP BY o.status`
	rows, err := r.db.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, fmt.Errorf("records: count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[settlement.OrderStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("records: scan order count: %w", err)
		}
		counts[settlement.OrderStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

// CountCustomers counts registered customers, limited to a branch's own
// customers for a single-branch scope.
func (r *PGRepository) CountCustomers(ctx context.Context, scope settlement.Scope) (int, error) {
	f := branchFilter("", settlement.DateRange{}, scope)
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("records: count customers: %w", err)
	}
	return int(n), nil
}
