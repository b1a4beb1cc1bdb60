package forecast

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// CalendarMonth is the UTC calendar month containing an instant. Budget
// windows are rolling; projections use the calendar.
type CalendarMonth struct {
	Start       time.Time
	End         time.Time
	DayOfMonth  int
	DaysInMonth int
}

// MonthOf returns the calendar month containing t
func MonthOf(t time.Time) CalendarMonth {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return CalendarMonth{
		Start:       start,
		End:         end,
		DayOfMonth:  t.Day(),
		DaysInMonth: end.Add(-time.Nanosecond).Day(),
	}
}

// DaysLeft is the number of calendar days after today in the month
func (m CalendarMonth) DaysLeft() int {
	return m.DaysInMonth - m.DayOfMonth
}

// Contains reports whether t falls inside the month
func (m CalendarMonth) Contains(t time.Time) bool {
	return !t.Before(m.Start) && t.Before(m.End)
}

// Filter keeps the samples inside the month
func (m CalendarMonth) Filter(samples []models.CostSample) []models.CostSample {
	out := make([]models.CostSample, 0, len(samples))
	for _, s := range samples {
		if m.Contains(s.Timestamp) {
			out = append(out, s)
		}
	}
	return out
}

var overBudgetMargin = decimal.RequireFromString("1.1")

// BudgetStatus rates a month-end projection against the monthly budget. Red
// means more than 10% over, yellow means over. Without a budget the status
// is always green.
func BudgetStatus(result models.ForecastResult, monthlyBudget, spend decimal.Decimal) models.BudgetStatus {
	status := models.BudgetStatus{
		Monthly:     monthlyBudget,
		Remaining:   monthlyBudget.Sub(spend).Round(moneyPlaces),
		OnTrack:     true,
		StatusColor: models.StatusGreen,
	}

	if !monthlyBudget.IsPositive() {
		status.Remaining = decimal.Zero
		return status
	}

	projected := result.ProjectedMonthEnd
	switch {
	case projected.GreaterThan(monthlyBudget.Mul(overBudgetMargin)):
		status.StatusColor = models.StatusRed
		status.OnTrack = false
	case projected.GreaterThan(monthlyBudget):
		status.StatusColor = models.StatusYellow
		status.OnTrack = false
	}

	return status
}
