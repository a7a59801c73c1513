// Package settlement computes branch-settled revenue and time-bucketed rollups
// from already-fetched order, expense and purchase records. Every function in
// this package is pure: no I/O, no shared state, deterministic output.
package settlement

import (
	"time"
)

// OrderStatus enumerates the order lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCanceled   OrderStatus = "canceled"
)

// PaymentStatus enumerates the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCompleted PaymentStatus = "completed"
	PaymentSplit     PaymentStatus = "split_payment"
)

// TransferStatus enumerates the lifecycle of an inter-branch transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// ExpenseStatus enumerates expense approval states.
type ExpenseStatus string

const (
	ExpenseApproved ExpenseStatus = "approved"
	ExpensePaid     ExpenseStatus = "paid"
	ExpensePending  ExpenseStatus = "pending"
	ExpenseRejected ExpenseStatus = "rejected"
)

// Direction flags a stock movement.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// UnknownPaymentMethod labels orders without a recorded payment method.
const UnknownPaymentMethod = "unknown"

// BranchRef identifies a branch. ID is the canonical key; Name is display only.
type BranchRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LineItem is a single product line on an order.
type LineItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  float64 `json:"quantity"`
}

// Amount returns the undiscounted line value.
func (l LineItem) Amount() float64 {
	return l.UnitPrice * l.Quantity
}

// OrderSummary holds the monetary totals of an order.
type OrderSummary struct {
	Subtotal    float64 `json:"subtotal"`
	Discount    float64 `json:"discount"`
	DeliveryFee float64 `json:"delivery_fee"`
	PointsUsed  float64 `json:"points_used"`
	Total       float64 `json:"total"`
}

// Payment describes how an order was paid.
type Payment struct {
	Method              string        `json:"method"`
	Status              PaymentStatus `json:"status"`
	IsSplit             bool          `json:"is_split,omitempty"`
	FirstPaymentMethod  string        `json:"first_payment_method,omitempty"`
	FirstPaymentAmount  float64       `json:"first_payment_amount,omitempty"`
	SecondPaymentMethod string        `json:"second_payment_method,omitempty"`
	SecondPaymentAmount float64       `json:"second_payment_amount,omitempty"`
}

// AmountSplit holds the revenue percentages of a transferred order. The two
// values are expected, not required, to sum to 100.
type AmountSplit struct {
	OrderBranchPercent   float64 `json:"order_branch_percent"`
	ProcessBranchPercent float64 `json:"process_branch_percent"`
}

// TransferInfo records an order handed to another branch for fulfilment.
type TransferInfo struct {
	IsTransferred bool           `json:"is_transferred"`
	Status        TransferStatus `json:"status"`
	ProcessBranch BranchRef      `json:"process_branch"`
	AmountSplit   *AmountSplit   `json:"amount_split,omitempty"`
}

// Order is a customer order as received by a branch.
type Order struct {
	ID        string        `json:"id"`
	Branch    BranchRef     `json:"branch"`
	OrderDate time.Time     `json:"order_date"`
	Status    OrderStatus   `json:"status"`
	Items     []LineItem    `json:"items,omitempty"`
	Summary   *OrderSummary `json:"summary,omitempty"`
	Payment   *Payment      `json:"payment,omitempty"`
	Transfer  *TransferInfo `json:"transfer,omitempty"`
}

// Total returns the order total, zero when the summary is missing.
func (o Order) Total() float64 {
	if o.Summary == nil {
		return 0
	}
	return o.Summary.Total
}

// Canceled reports whether the order is excluded from revenue.
func (o Order) Canceled() bool {
	return o.Status == OrderCanceled
}

// ActiveTransfer reports whether the order's split percentages apply.
func (o Order) ActiveTransfer() bool {
	t := o.Transfer
	if t == nil || !t.IsTransferred {
		return false
	}
	return t.Status == TransferAccepted || t.Status == TransferCompleted
}

// IsSplitPayment reports whether the order was paid in two parts.
func (o Order) IsSplitPayment() bool {
	if o.Payment == nil {
		return false
	}
	return o.Payment.Status == PaymentSplit || o.Payment.IsSplit
}

// Expense is a branch operating cost.
type Expense struct {
	ID        string        `json:"id"`
	Branch    BranchRef     `json:"branch"`
	CreatedAt time.Time     `json:"created_at"`
	Amount    float64       `json:"amount"`
	Status    ExpenseStatus `json:"status"`
}

// Counted reports whether the expense reduces net profit.
func (e Expense) Counted() bool {
	return e.Status == ExpenseApproved || e.Status == ExpensePaid
}

// PurchaseEntry is an inbound or outbound stock movement.
type PurchaseEntry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Branch      BranchRef `json:"branch"`
	Supplier    string    `json:"supplier"`
	ItemName    string    `json:"item_name"`
	Quantity    float64   `json:"quantity"`
	TotalAmount float64   `json:"total_amount"`
	Direction   Direction `json:"direction"`
}

// Scope is the reporting context. The zero value covers every branch.
type Scope struct {
	BranchID string `json:"branch_id,omitempty"`
}

// AllBranches is the whole-system scope.
var AllBranches = Scope{}

// ForBranch scopes reporting to a single branch.
func ForBranch(id string) Scope {
	return Scope{BranchID: id}
}

// IsAll reports whether the scope covers every branch.
func (s Scope) IsAll() bool {
	return s.BranchID == ""
}

// Matches reports whether a branch falls under the scope.
func (s Scope) Matches(branchID string) bool {
	return s.IsAll() || s.BranchID == branchID
}

// String renders the scope for cache keys and logs.
func (s Scope) String() string {
	if s.IsAll() {
		return "all"
	}
	return "branch:" + s.BranchID
}
