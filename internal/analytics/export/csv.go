package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/franchise-ops/franchise-ops/internal/analytics"
)

// WriteReportCSV serialises a report as consecutive CSV sections separated
// by blank lines: summary, branches, daily sales, top products.
func WriteReportCSV(w io.Writer, report analytics.Report) error {
	writer := csv.NewWriter(w)
	stats := report.Stats
	rows := [][]string{
		{"Metric", "Value"},
		{"Scope", stats.Scope.String()},
		{"From", report.From},
		{"To", report.To},
		{"Total Sales", formatFloat(stats.TotalSales)},
		{"Orders", strconv.Itoa(stats.OrderCount)},
		{"Average Order Value", formatFloat(stats.AverageOrderValue)},
		{"Total Expenses", formatFloat(stats.TotalExpenses)},
		{"Net Profit", formatFloat(stats.NetProfit)},
		{"Split Payments", strconv.Itoa(stats.SplitPayments.TotalSplitPayments)},
		{"Outgoing Transfers", formatFloat(stats.Transfers.Outgoing.Amount)},
		{"Incoming Transfers", formatFloat(stats.Transfers.Incoming.Amount)},
		{"Purchases", formatFloat(stats.Purchases.TotalAmount)},
		nil,
		{"Branch ID", "Branch", "Settled Amount", "Orders"},
	}
	for _, b := range report.Branches {
		rows = append(rows, []string{b.BranchID, b.BranchName, formatFloat(b.SettledAmount), strconv.Itoa(b.OrderCount)})
	}
	rows = append(rows, nil, []string{"Day", "Sales"})
	for _, p := range report.Daily {
		rows = append(rows, []string{p.Day, formatFloat(p.Sales)})
	}
	rows = append(rows, nil, []string{"Product ID", "Product", "Quantity", "Amount"})
	for _, p := range report.TopProducts {
		rows = append(rows, []string{p.ProductID, p.Name, formatFloat(p.Quantity), formatFloat(p.Amount)})
	}
	return writeRows(writer, rows)
}

// WriteRollupCSV emits one row per bucket. For the whole-system scope each
// branch gets its own column, ordered by branch id.
func WriteRollupCSV(w io.Writer, rollup analytics.Rollup) error {
	writer := csv.NewWriter(w)
	branchIDs := rollupBranches(rollup)
	header := []string{"Bucket", "Start", "Sales", "Orders", "Days"}
	header = append(header, branchIDs...)
	rows := [][]string{header}
	for _, b := range rollup.Buckets {
		row := []string{b.Key, b.Start.Format("2006-01-02"), formatFloat(b.Sales), strconv.Itoa(b.OrderCount), strconv.Itoa(b.Days)}
		for _, id := range branchIDs {
			row = append(row, formatFloat(b.Branches[id].SettledAmount))
		}
		rows = append(rows, row)
	}
	return writeRows(writer, rows)
}

func rollupBranches(rollup analytics.Rollup) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, b := range rollup.Buckets {
		for id := range b.Branches {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func writeRows(writer *csv.Writer, rows [][]string) error {
	for _, row := range rows {
		if row == nil {
			row = []string{}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
