package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/internal/service/dashboard"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// Re-export API payloads for CLI use
type (
	CostWindow         = models.CostWindow
	ErrorRecord        = models.ErrorRecord
	ErrorStats         = models.ErrorStats
	Alert              = models.Alert
	BudgetAlertsReport = dashboard.BudgetAlertsReport
	ForecastReport     = dashboard.ForecastReport
)

// ErrorList is the response of the error list endpoint
type ErrorList struct {
	Errors []ErrorRecord `json:"errors"`
	Count  int           `json:"count"`
}

// AlertList is the response of the alert list endpoint
type AlertList struct {
	Alerts []Alert `json:"alerts"`
	Count  int     `json:"count"`
}

func formatUSD(d decimal.Decimal) string {
	return "$" + humanize.FormatFloat("#,###.##", d.InexactFloat64())
}

func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

var hundredPercent = decimal.NewFromInt(100)
