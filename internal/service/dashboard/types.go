package dashboard

import (
	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// BudgetAlertsReport is the budget evaluation with severity counts
type BudgetAlertsReport struct {
	Alerts        []models.BudgetAlert `json:"alerts"`
	CriticalCount int                  `json:"criticalCount"`
	WarningCount  int                  `json:"warningCount"`
}

// CurrentSpend is month-to-date spend and calendar position
type CurrentSpend struct {
	Spend           decimal.Decimal `json:"spend"`
	DaysIntoMonth   int             `json:"daysIntoMonth"`
	DaysLeftInMonth int             `json:"daysLeftInMonth"`
}

// ForecastReport is a forecast with the current month position and the
// budget rating derived from it
type ForecastReport struct {
	models.ForecastResult
	Current CurrentSpend        `json:"current"`
	Budget  models.BudgetStatus `json:"budget"`
	Stale   bool                `json:"stale,omitempty"`
}

// ResourceReport is the resource slice pushed to live clients
type ResourceReport struct {
	Gateway   models.HealthStatus                `json:"gateway"`
	Agents    []models.Entity                    `json:"agents"`
	Resources map[string]models.ResourceSnapshot `json:"resources"`
}

// CostReport is the cost slice pushed to live clients
type CostReport struct {
	Daily  models.CostWindow  `json:"daily"`
	Budget BudgetAlertsReport `json:"budget"`
}

// Snapshot is the full state a client receives when it connects
type Snapshot struct {
	Agents    []models.Entity                    `json:"agents"`
	Costs     CostReport                         `json:"costs"`
	Forecast  ForecastReport                     `json:"forecast"`
	Gateway   models.HealthStatus                `json:"gateway"`
	Resources map[string]models.ResourceSnapshot `json:"resources"`
	Alerts    []models.Alert                     `json:"alerts"`
}
