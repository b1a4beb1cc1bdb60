package cost

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// DaysPerBudgetMonth divides the monthly budget into a daily limit
const DaysPerBudgetMonth = 30

// EntityWarningPercent is the share of the monthly budget a single entity
// may use before an entity-scoped warning is raised
const EntityWarningPercent = 75

var hundred = decimal.NewFromInt(100)

type budgetTier struct {
	percent  int
	severity models.Severity
}

// highest first; only the first tier crossed is reported
var budgetLadder = []budgetTier{
	{percent: 100, severity: models.SeverityCritical},
	{percent: 75, severity: models.SeverityWarning},
	{percent: 50, severity: models.SeverityWarning},
}

// Evaluate applies the threshold ladder to the daily and monthly rolling
// windows and checks each entity's share of the monthly budget. A budget
// of zero or less means no budget is configured and yields no alerts.
func Evaluate(samples []models.CostSample, monthlyBudget decimal.Decimal, now time.Time) []models.BudgetAlert {
	if !monthlyBudget.IsPositive() {
		return nil
	}

	var alerts []models.BudgetAlert

	dailyLimit := monthlyBudget.Div(decimal.NewFromInt(DaysPerBudgetMonth))
	daily := ComputeWindow(samples, models.PeriodDaily, now)
	if a, ok := evaluateScope(models.PeriodDaily, daily.TotalCostUSD, dailyLimit); ok {
		alerts = append(alerts, a)
	}

	monthly := ComputeWindow(samples, models.PeriodMonthly, now)
	if a, ok := evaluateScope(models.PeriodMonthly, monthly.TotalCostUSD, monthlyBudget); ok {
		alerts = append(alerts, a)
	}

	entityIDs := make([]string, 0, len(monthly.PerEntityCost))
	for id := range monthly.PerEntityCost {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	for _, id := range entityIDs {
		spend := monthly.PerEntityCost[id]
		if !reached(spend, monthlyBudget, EntityWarningPercent) {
			continue
		}
		alerts = append(alerts, models.BudgetAlert{
			Scope:            models.ScopeEntity,
			EntityID:         id,
			Period:           models.PeriodMonthly,
			Severity:         models.SeverityWarning,
			ThresholdPercent: EntityWarningPercent,
			CurrentSpend:     spend,
			BudgetLimit:      monthlyBudget,
			Message: fmt.Sprintf("Entity %s has spent $%s, %d%% or more of the $%s monthly budget",
				id, spend.StringFixed(2), EntityWarningPercent, monthlyBudget.StringFixed(2)),
		})
	}

	return alerts
}

func evaluateScope(period models.Period, spend, limit decimal.Decimal) (models.BudgetAlert, bool) {
	for _, tier := range budgetLadder {
		if !reached(spend, limit, tier.percent) {
			continue
		}
		return models.BudgetAlert{
			Scope:            models.ScopeGlobal,
			Period:           period,
			Severity:         tier.severity,
			ThresholdPercent: tier.percent,
			CurrentSpend:     spend,
			BudgetLimit:      limit,
			Message: fmt.Sprintf("%s spend $%s has reached %d%% of the $%s %s budget",
				periodLabel(period), spend.StringFixed(2), tier.percent, limit.StringFixed(2), period),
		}, true
	}
	return models.BudgetAlert{}, false
}

// reached reports spend/limit >= percent/100 without dividing
func reached(spend, limit decimal.Decimal, percent int) bool {
	return spend.Mul(hundred).GreaterThanOrEqual(limit.Mul(decimal.NewFromInt(int64(percent))))
}

func periodLabel(p models.Period) string {
	switch p {
	case models.PeriodDaily:
		return "Daily"
	case models.PeriodWeekly:
		return "Weekly"
	}
	return "Monthly"
}

// CountBySeverity returns the number of critical and warning alerts
func CountBySeverity(alerts []models.BudgetAlert) (critical, warning int) {
	for _, a := range alerts {
		switch a.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityWarning:
			warning++
		}
	}
	return critical, warning
}
