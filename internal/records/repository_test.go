package records

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

func TestOrderFilterIncludesProcessBranchOfActiveTransfersOnly(t *testing.T) {
	rng, err := settlement.DaysBetween(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), time.UTC)
	require.NoError(t, err)

	f := orderFilter(OrderQuery{Range: rng, Scope: settlement.ForBranch("b1")})
	assert.Equal(t,
		" WHERE o.order_date >= $1 AND o.order_date < $2 AND (o.branch_id::text = $3"+
			" OR (o.transfer->'process_branch'->>'id' = $3"+
			" AND COALESCE((o.transfer->>'is_transferred')::boolean, false)"+
			" AND o.transfer->>'status' IN ($4, $5))) AND o.status <> $6",
		f.where())
	assert.Equal(t, []any{rng.Start, rng.End, "b1", "accepted", "completed", "canceled"}, f.args)
}

func TestOrderFilterStatusCountsKeepActiveTransferRule(t *testing.T) {
	f := orderFilter(OrderQuery{Scope: settlement.ForBranch("b1"), IncludeCanceled: true})
	assert.Contains(t, f.where(), "o.transfer->>'status' IN ($2, $3)")
	assert.NotContains(t, f.where(), "o.status <>")
	assert.Equal(t, []any{"b1", "accepted", "completed"}, f.args)
}

func TestOrderFilterAllBranchesWithCanceled(t *testing.T) {
	f := orderFilter(OrderQuery{Scope: settlement.AllBranches, IncludeCanceled: true})
	assert.Equal(t, "", f.where())
	assert.Empty(t, f.args)
}

func TestBranchFilter(t *testing.T) {
	rng := settlement.SingleDay(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), time.UTC)
	f := branchFilter("created_at", rng, settlement.ForBranch("b2"))
	assert.Equal(t, " WHERE created_at >= $1 AND created_at < $2 AND branch_id::text = $3", f.where())
}

func TestDecodeOrder(t *testing.T) {
	repo := NewRepository(nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	jakarta := time.FixedZone("WIB", 7*3600)
	o := repo.decodeOrder(orderRow{
		ID:         "o1",
		BranchID:   "b1",
		BranchName: "Kemang",
		OrderDate:  time.Date(2024, 5, 1, 8, 0, 0, 0, jakarta),
		Status:     "completed",
		Items:      []byte(`[{"product_id":"p1","name":"Latte","unit_price":25000,"quantity":2}]`),
		Summary:    []byte(`{"subtotal":50000,"total":50000}`),
		Payment:    []byte(`{"method":"qris","status":"paid"}`),
		Transfer:   []byte(`{"is_transferred":true,"status":"accepted","process_branch":{"id":"b2","name":"Depok"},"amount_split":{"order_branch_percent":40,"process_branch_percent":60}}`),
	})

	assert.Equal(t, time.UTC, o.OrderDate.Location())
	assert.Equal(t, 50000.0, o.Total())
	require.Len(t, o.Items, 1)
	assert.Equal(t, 50000.0, o.Items[0].Amount())
	assert.Equal(t, "qris", o.Payment.Method)
	assert.True(t, o.ActiveTransfer())
	assert.Equal(t, 60.0, o.Transfer.AmountSplit.ProcessBranchPercent)
}

func TestDecodeOrderMalformedColumnsAreZeroAndLogged(t *testing.T) {
	var logs bytes.Buffer
	repo := NewRepository(nil, slog.New(slog.NewTextHandler(&logs, nil)))
	o := repo.decodeOrder(orderRow{
		ID:       "bad",
		BranchID: "b1",
		Status:   "completed",
		Items:    []byte(`{"not":"a list"}`),
		Summary:  []byte(`{"total":"lots"}`),
		Payment:  nil,
		Transfer: []byte(`null`),
	})

	assert.Nil(t, o.Items)
	assert.Nil(t, o.Summary)
	assert.Nil(t, o.Payment)
	assert.Nil(t, o.Transfer)
	assert.Equal(t, 0.0, o.Total())
	assert.Contains(t, logs.String(), "column=items")
	assert.Contains(t, logs.String(), "column=summary")
	assert.NotContains(t, logs.String(), "column=transfer")
}
