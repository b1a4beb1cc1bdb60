package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BudgetScope is the granularity a budget alert applies to
type BudgetScope string

const (
	ScopeGlobal BudgetScope = "global"
	ScopeEntity BudgetScope = "entity"
)

// BudgetAlert is produced by a single budget evaluation pass. It is not
// persisted; the alert engine turns it into a tracked Alert.
type BudgetAlert struct {
	Scope            BudgetScope     `json:"scope"`
	EntityID         string          `json:"entityId,omitempty"`
	Period           Period          `json:"period"`
	Severity         Severity        `json:"severity"`
	ThresholdPercent int             `json:"thresholdPercent"`
	CurrentSpend     decimal.Decimal `json:"currentSpend"`
	BudgetLimit      decimal.Decimal `json:"budgetLimit"`
	Message          string          `json:"message"`
}

// AlertType is the closed set of tracked alert kinds
type AlertType string

const (
	AlertTypeBudgetDaily   AlertType = "budget_daily"
	AlertTypeBudgetMonthly AlertType = "budget_monthly"
	AlertTypeBudgetEntity  AlertType = "budget_entity"
	AlertTypeErrorSpike    AlertType = "error_spike"
	AlertTypeGatewayDown   AlertType = "gateway_down"
)

// AlertTypeForBudget maps a budget evaluation result to its tracked type
func AlertTypeForBudget(b BudgetAlert) AlertType {
	switch b.Scope {
	case ScopeEntity:
		return AlertTypeBudgetEntity
	case ScopeGlobal:
		if b.Period == PeriodDaily {
			return AlertTypeBudgetDaily
		}
	}
	return AlertTypeBudgetMonthly
}

// Alert is a lifecycle-tracked alert. It is mutated only by acknowledgement.
type Alert struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"createdAt"`
	Severity       Severity   `json:"severity"`
	Type           AlertType  `json:"type"`
	EntityID       string     `json:"entityId,omitempty"`
	Message        string     `json:"message"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
}
