package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var reportHeader = []string{"period_start", "period_end", "entity_id", "cost_usd", "share_percent"}

// ReportName returns the file name of the report generated at t
func ReportName(t time.Time) string {
	return fmt.Sprintf("costs-%s.csv", t.UTC().Format("2006-01-02"))
}

// WriteCostReport writes one CSV row per entity in the window, highest
// spend first, followed by a total row
func WriteCostReport(w io.Writer, window models.CostWindow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	start := window.StartTime.UTC().Format(time.RFC3339)
	end := window.EndTime.UTC().Format(time.RFC3339)

	ids := make([]string, 0, len(window.PerEntityCost))
	for id := range window.PerEntityCost {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := window.PerEntityCost[ids[i]], window.PerEntityCost[ids[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ids[i] < ids[j]
	})

	hundred := decimal.NewFromInt(100)
	for _, id := range ids {
		cost := window.PerEntityCost[id]
		share := decimal.Zero
		if window.TotalCostUSD.IsPositive() {
			share = cost.Mul(hundred).Div(window.TotalCostUSD)
		}
		row := []string{start, end, id, cost.StringFixed(4), share.StringFixed(2)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	total := []string{start, end, "TOTAL", window.TotalCostUSD.StringFixed(4), "100.00"}
	if len(ids) == 0 {
		total[4] = "0.00"
	}
	if err := cw.Write(total); err != nil {
		return fmt.Errorf("failed to write report total: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
