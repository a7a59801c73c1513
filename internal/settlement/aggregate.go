package settlement

import (
	"sort"
)

// BranchRevenue is the settled revenue earned by one branch.
type BranchRevenue struct {
	BranchID      string  `json:"branch_id"`
	BranchName    string  `json:"branch_name"`
	SettledAmount float64 `json:"settled_amount"`
	OrderCount    int     `json:"order_count"`
}

// ProductSales accumulates a product's scope-weighted sales.
type ProductSales struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  float64 `json:"quantity"`
	Amount    float64 `json:"amount"`
}

// PaymentMethodSales accumulates scope-weighted sales per payment method.
type PaymentMethodSales struct {
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	OrderCount int     `json:"order_count"`
}

// SplitPaymentStats summarises orders paid in two parts. Amounts are raw
// order values and are never branch-shared.
type SplitPaymentStats struct {
	TotalSplitPayments  int     `json:"total_split_payments"`
	TotalAmount         float64 `json:"total_amount"`
	FirstPaymentAmount  float64 `json:"first_payment_amount"`
	SecondPaymentAmount float64 `json:"second_payment_amount"`
}

// TransferFlow counts active transfers in one direction.
type TransferFlow struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// TransferStats splits a branch's active transfers by direction. Outgoing
// orders were received by the branch, incoming orders are processed by it.
type TransferStats struct {
	Outgoing TransferFlow `json:"outgoing"`
	Incoming TransferFlow `json:"incoming"`
}

// PurchaseGroup accumulates inbound stock movements under one key.
type PurchaseGroup struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Quantity float64 `json:"quantity"`
	Entries  int     `json:"entries"`
}

// PurchaseStats summarises inbound stock purchases.
type PurchaseStats struct {
	TotalAmount   float64                  `json:"total_amount"`
	TotalQuantity float64                  `json:"total_quantity"`
	EntryCount    int                      `json:"entry_count"`
	BySupplier    map[string]PurchaseGroup `json:"by_supplier"`
	ByItem        map[string]PurchaseGroup `json:"by_item"`
}

// Stats is the flat aggregate consumed by the report screen.
type Stats struct {
	Scope             Scope                         `json:"scope"`
	TotalSales        float64                       `json:"total_sales"`
	OrderCount        int                           `json:"order_count"`
	AverageOrderValue float64                       `json:"average_order_value"`
	TotalExpenses     float64                       `json:"total_expenses"`
	ExpenseCount      int                           `json:"expense_count"`
	NetProfit         float64                       `json:"net_profit"`
	Branches          map[string]BranchRevenue      `json:"branches"`
	Products          map[string]ProductSales       `json:"products"`
	PaymentMethods    map[string]PaymentMethodSales `json:"payment_methods"`
	DailySales        map[string]float64            `json:"daily_sales"`
	SplitPayments     SplitPaymentStats             `json:"split_payments"`
	Transfers         TransferStats                 `json:"transfers"`
	Purchases         PurchaseStats                 `json:"purchases"`
}

func newStats(scope Scope) Stats {
	return Stats{
		Scope:          scope,
		Branches:       make(map[string]BranchRevenue),
		Products:       make(map[string]ProductSales),
		PaymentMethods: make(map[string]PaymentMethodSales),
		DailySales:     make(map[string]float64),
		Purchases: PurchaseStats{
			BySupplier: make(map[string]PurchaseGroup),
			ByItem:     make(map[string]PurchaseGroup),
		},
	}
}

// Aggregate folds raw records into report statistics for the scope and range.
// Canceled orders, out-of-range records and records outside the scope are
// skipped; malformed records contribute zero.
func Aggregate(orders []Order, expenses []Expense, purchases []PurchaseEntry, rng DateRange, scope Scope) Stats {
	stats := newStats(scope)

	for _, o := range orders {
		if o.Canceled() || !rng.Contains(o.OrderDate) || !Relevant(o, scope) {
			continue
		}
		alloc := Allocate(o)
		stats.addBranch(o.Branch, alloc.OrderBranchShare)
		if alloc.Transferred() {
			stats.addBranch(o.Transfer.ProcessBranch, alloc.ProcessBranchShare)
		}

		total := o.Total()
		weight := total
		if !scope.IsAll() {
			weight = weightOf(alloc, scope)
		}
		if weight > 0 {
			factor := factorOf(total, weight)
			stats.TotalSales += weight
			stats.OrderCount++
			stats.DailySales[rng.DayKey(o.OrderDate)] += weight
			for _, item := range o.Items {
				stats.addProduct(item, factor)
			}
			stats.addPaymentMethod(o.Payment, weight)
		}

		if o.IsSplitPayment() {
			stats.SplitPayments.TotalSplitPayments++
			stats.SplitPayments.TotalAmount += total
			stats.SplitPayments.FirstPaymentAmount += o.Payment.FirstPaymentAmount
			stats.SplitPayments.SecondPaymentAmount += o.Payment.SecondPaymentAmount
		}

		if !scope.IsAll() && alloc.Transferred() {
			if alloc.OrderBranchID == scope.BranchID {
				stats.Transfers.Outgoing.Count++
				stats.Transfers.Outgoing.Amount += alloc.OrderBranchShare
			}
			if alloc.ProcessBranchID == scope.BranchID {
				stats.Transfers.Incoming.Count++
				stats.Transfers.Incoming.Amount += alloc.ProcessBranchShare
			}
		}
	}
	if stats.OrderCount > 0 {
		stats.AverageOrderValue = stats.TotalSales / float64(stats.OrderCount)
	}

	for _, e := range expenses {
		if !e.Counted() || !rng.Contains(e.CreatedAt) || !scope.Matches(e.Branch.ID) {
			continue
		}
		stats.TotalExpenses += e.Amount
		stats.ExpenseCount++
	}
	stats.NetProfit = stats.TotalSales - stats.TotalExpenses

	for _, p := range purchases {
		if p.Direction != DirectionIn || !rng.Contains(p.Date) || !scope.Matches(p.Branch.ID) {
			continue
		}
		stats.Purchases.add(p)
	}

	return stats
}

func (s *Stats) addBranch(ref BranchRef, amount float64) {
	entry := s.Branches[ref.ID]
	entry.BranchID = ref.ID
	if entry.BranchName == "" {
		entry.BranchName = ref.Name
	}
	entry.SettledAmount += amount
	entry.OrderCount++
	s.Branches[ref.ID] = entry
}

func (s *Stats) addProduct(item LineItem, factor float64) {
	key := item.ProductID
	if key == "" {
		key = item.Name
	}
	entry := s.Products[key]
	entry.ProductID = key
	if entry.Name == "" {
		entry.Name = item.Name
	}
	entry.Quantity += item.Quantity
	entry.Amount += item.Amount() * factor
	s.Products[key] = entry
}

func (s *Stats) addPaymentMethod(p *Payment, weight float64) {
	method := UnknownPaymentMethod
	if p != nil && p.Method != "" {
		method = p.Method
	}
	entry := s.PaymentMethods[method]
	entry.Method = method
	entry.Amount += weight
	entry.OrderCount++
	s.PaymentMethods[method] = entry
}

func (p *PurchaseStats) add(entry PurchaseEntry) {
	p.TotalAmount += entry.TotalAmount
	p.TotalQuantity += entry.Quantity
	p.EntryCount++
	addPurchase(p.BySupplier, groupKey(entry.Supplier), entry)
	addPurchase(p.ByItem, groupKey(entry.ItemName), entry)
}

func addPurchase(groups map[string]PurchaseGroup, key string, entry PurchaseEntry) {
	g := groups[key]
	g.Name = key
	g.Amount += entry.TotalAmount
	g.Quantity += entry.Quantity
	g.Entries++
	groups[key] = g
}

func groupKey(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

// BranchList returns branch revenue ordered by settled amount, largest first.
func (s Stats) BranchList() []BranchRevenue {
	list := make([]BranchRevenue, 0, len(s.Branches))
	for _, b := range s.Branches {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SettledAmount != list[j].SettledAmount {
			return list[i].SettledAmount > list[j].SettledAmount
		}
		return list[i].BranchID < list[j].BranchID
	})
	return list
}

// DayPoint is one calendar day of sales.
type DayPoint struct {
	Day   string  `json:"day"`
	Sales float64 `json:"sales"`
}

// DailySeries returns day buckets in chronological order.
func (s Stats) DailySeries() []DayPoint {
	points := make([]DayPoint, 0, len(s.DailySales))
	for day, sales := range s.DailySales {
		points = append(points, DayPoint{Day: day, Sales: sales})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })
	return points
}

// TopProducts returns up to n products ordered by amount.
func (s Stats) TopProducts(n int) []ProductSales {
	list := make([]ProductSales, 0, len(s.Products))
	for _, p := range s.Products {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Amount != list[j].Amount {
			return list[i].Amount > list[j].Amount
		}
		return list[i].ProductID < list[j].ProductID
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}
