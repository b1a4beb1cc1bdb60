package cost

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// MoneyPlaces is the precision windows are rounded to
const MoneyPlaces = 4

// RollingWindowBounds returns the fixed-width look-back range ending at now.
// Rolling windows are not calendar-aware; see forecast.CalendarMonth for
// day-of-month math.
func RollingWindowBounds(period models.Period, now time.Time) (start, end time.Time) {
	return now.Add(-period.Duration()), now
}

// ComputeWindow sums the samples that fall inside the rolling window for
// period. Both bounds are inclusive. Entity totals are summed at full
// precision and rounded once, and the window total is the sum of the rounded
// entity totals so the two always agree.
func ComputeWindow(samples []models.CostSample, period models.Period, now time.Time) models.CostWindow {
	start, end := RollingWindowBounds(period, now)

	window := models.CostWindow{
		Period:        period,
		StartTime:     start,
		EndTime:       end,
		TotalCostUSD:  decimal.Zero,
		PerEntityCost: make(map[string]decimal.Decimal),
	}

	if !period.IsValid() {
		return window
	}

	raw := make(map[string]decimal.Decimal)
	for _, s := range samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		raw[s.EntityID] = raw[s.EntityID].Add(s.CostUSD)
		window.SampleCount++
	}

	for entityID, sum := range raw {
		rounded := sum.Round(MoneyPlaces)
		window.PerEntityCost[entityID] = rounded
		window.TotalCostUSD = window.TotalCostUSD.Add(rounded)
	}

	return window
}
