package forecast

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func at(ts time.Time, cost string) models.CostSample {
	return models.CostSample{Timestamp: ts, EntityID: "agent-1", CostUSD: decimal.RequireFromString(cost)}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixedEngine(now time.Time) *Engine {
	return New(WithTimeFunc(func() time.Time { return now }))
}

func TestVelocity_Empty(t *testing.T) {
	e := New()
	assert.True(t, e.Velocity(nil).IsZero())
}

func TestVelocity_SinglePoint(t *testing.T) {
	e := New()
	v := e.Velocity([]models.CostSample{at(base, "42.5")})
	assert.True(t, v.Equal(dec("42.5")), "got %s", v)
}

func TestVelocity_Averaging(t *testing.T) {
	e := New()
	samples := []models.CostSample{
		at(base, "10"),
		at(base.AddDate(0, 0, 1), "20"),
		at(base.AddDate(0, 0, 2), "30"),
	}
	assert.True(t, e.Velocity(samples).Equal(dec("20")))
}

func TestVelocity_BucketsByUTCDay(t *testing.T) {
	e := New()
	est := time.FixedZone("EST", -5*3600)

	// 23:00 EST on the 9th and 01:00 UTC on the 10th are the same UTC day
	samples := []models.CostSample{
		at(time.Date(2026, 3, 9, 23, 0, 0, 0, est), "10"),
		at(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), "5"),
		at(time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), "15"),
	}
	assert.True(t, e.Velocity(samples).Equal(dec("15")))
}

func TestVelocity_RoundsToFourPlaces(t *testing.T) {
	e := New()
	samples := []models.CostSample{
		at(base, "1"),
		at(base.AddDate(0, 0, 1), "1"),
		at(base.AddDate(0, 0, 2), "2"),
	}
	assert.Equal(t, "1.3333", e.Velocity(samples).String())
}

func TestForecast_Composition(t *testing.T) {
	e := New()
	sets := [][]models.CostSample{
		nil,
		{at(base, "3.3333")},
		{at(base, "1"), at(base.AddDate(0, 0, 1), "1"), at(base.AddDate(0, 0, 2), "2")},
		{at(base, "0.01"), at(base.Add(time.Hour), "7.77"), at(base.AddDate(0, 0, 4), "12.345")},
	}

	for _, samples := range sets {
		for _, days := range []int{7, 30} {
			want := e.Velocity(samples).Mul(decimal.NewFromInt(int64(days))).Round(2)
			assert.True(t, e.Forecast(samples, days).Equal(want))
		}
	}
	assert.True(t, e.Forecast(nil, 7).IsZero())
}

func TestTrend(t *testing.T) {
	e := New()

	tests := []struct {
		name     string
		costs    []string
		expected models.Trend
	}{
		{name: "empty", costs: nil, expected: models.TrendStable},
		{name: "single", costs: []string{"10"}, expected: models.TrendStable},
		{name: "exactly 5% is stable", costs: []string{"100", "105"}, expected: models.TrendStable},
		{name: "5.01% is up", costs: []string{"100", "105.01"}, expected: models.TrendUp},
		{name: "exactly -5% is stable", costs: []string{"100", "95"}, expected: models.TrendStable},
		{name: "-5.01% is down", costs: []string{"100", "94.99"}, expected: models.TrendDown},
		{name: "odd count extra goes to later half", costs: []string{"10", "10", "40"}, expected: models.TrendUp},
		{name: "zero baseline rising", costs: []string{"0", "1"}, expected: models.TrendUp},
		{name: "all zero", costs: []string{"0", "0"}, expected: models.TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var samples []models.CostSample
			for i, c := range tt.costs {
				samples = append(samples, at(base.Add(time.Duration(i)*time.Hour), c))
			}
			assert.Equal(t, tt.expected, e.Trend(samples))
		})
	}
}

func TestTrend_SortsByTime(t *testing.T) {
	e := New()
	// given newest first, still rising
	samples := []models.CostSample{
		at(base.Add(2*time.Hour), "50"),
		at(base.Add(time.Hour), "10"),
		at(base, "10"),
		at(base.Add(3*time.Hour), "50"),
	}
	assert.Equal(t, models.TrendUp, e.Trend(samples))
}

func TestVariance(t *testing.T) {
	e := New()

	assert.True(t, e.Variance(nil).IsZero())
	// one day bucket
	assert.True(t, e.Variance([]models.CostSample{at(base, "5"), at(base.Add(time.Hour), "9")}).IsZero())

	// daily totals 2, 4, 6: mean 4, population variance (4+0+4)/3
	samples := []models.CostSample{
		at(base, "2"),
		at(base.AddDate(0, 0, 1), "4"),
		at(base.AddDate(0, 0, 2), "6"),
	}
	assert.Equal(t, "2.6667", e.Variance(samples).Round(4).String())

	// daily totals 10, 20: population variance 25, not sample variance 50
	pair := []models.CostSample{at(base, "10"), at(base.AddDate(0, 0, 1), "20")}
	assert.True(t, e.Variance(pair).Equal(dec("25")))
}

func TestConfidenceLevel_Bounds(t *testing.T) {
	e := New()

	assert.True(t, e.ConfidenceLevel(nil).IsZero())
	assert.True(t, e.ConfidenceLevel([]models.CostSample{at(base, "0")}).IsZero())

	// no volatility and one sample: (1-0) * (0.5 + 0.01*0.5)
	assert.Equal(t, "0.51", e.ConfidenceLevel([]models.CostSample{at(base, "10")}).String())

	// very volatile series bottoms out at zero
	volatile := []models.CostSample{at(base, "0.01"), at(base.AddDate(0, 0, 1), "1000")}
	c := e.ConfidenceLevel(volatile)
	assert.True(t, c.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, c.LessThanOrEqual(decimal.NewFromInt(1)))
}

func TestConfidenceLevel_FullVolume(t *testing.T) {
	e := New()

	var samples []models.CostSample
	for i := 0; i < 150; i++ {
		samples = append(samples, at(base.Add(time.Duration(i)*time.Minute), "1"))
	}
	assert.True(t, e.ConfidenceLevel(samples).Equal(decimal.NewFromInt(1)))
}

func TestConfidenceLevel_MonotonicInSampleCount(t *testing.T) {
	e := New()
	pattern := []string{"4", "6", "5", "7", "3"}
	variance := dec("2")

	build := func(repeats int) []models.CostSample {
		var out []models.CostSample
		for r := 0; r < repeats; r++ {
			for i, c := range pattern {
				out = append(out, at(base.Add(time.Duration(r*len(pattern)+i)*time.Minute), c))
			}
		}
		return out
	}

	prev := decimal.Zero
	for repeats := 1; repeats <= 30; repeats++ {
		c := e.ConfidenceLevelWithVariance(build(repeats), variance)
		assert.True(t, c.GreaterThanOrEqual(prev), "confidence dropped at %d repeats: %s < %s", repeats, c, prev)
		prev = c
	}
}

func TestProjectedMonthEnd(t *testing.T) {
	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	e := fixedEngine(now)

	samples := []models.CostSample{
		at(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "10"),
		at(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), "20"),
	}

	// spend 30 + velocity 15 * (30 - 10)
	assert.True(t, e.ProjectedMonthEnd(samples, 10).Equal(dec("330")))

	// current day is the 12th: 30 + 15 * 18
	assert.True(t, e.ProjectedMonthEnd(samples, UseCurrentDay).Equal(dec("300")))

	assert.True(t, e.ProjectedMonthEnd(samples, 0).IsZero())
	assert.True(t, e.ProjectedMonthEnd(samples, -5).IsZero())
	assert.True(t, e.ProjectedMonthEnd(nil, 10).IsZero())

	// past day 30 nothing more is projected
	assert.True(t, e.ProjectedMonthEnd(samples, 31).Equal(dec("30")))
}

func TestGenerateForecast(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	e := fixedEngine(now)

	samples := []models.CostSample{
		at(time.Date(2026, 3, 17, 8, 0, 0, 0, time.UTC), "10"),
		at(time.Date(2026, 3, 18, 8, 0, 0, 0, time.UTC), "12"),
		at(time.Date(2026, 3, 19, 8, 0, 0, 0, time.UTC), "14"),
		at(time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC), "16"),
	}

	r := e.GenerateForecast(samples)

	assert.True(t, r.VelocityPerDay.Equal(dec("13")))
	assert.True(t, r.Forecast7d.Equal(dec("91")))
	assert.True(t, r.Forecast30d.Equal(dec("390")))
	// 52 spent + 13 * 10 remaining days
	assert.True(t, r.ProjectedMonthEnd.Equal(dec("182")))
	assert.Equal(t, models.TrendUp, r.Trend)
	assert.True(t, r.VarianceOfDailyCost.Equal(dec("5")))
	assert.True(t, r.ConfidenceLevel.Equal(e.ConfidenceLevel(samples)))
}

func TestGenerateForecast_Empty(t *testing.T) {
	e := fixedEngine(base)

	r := e.GenerateForecast(nil)
	assert.True(t, r.VelocityPerDay.IsZero())
	assert.True(t, r.Forecast7d.IsZero())
	assert.True(t, r.Forecast30d.IsZero())
	assert.True(t, r.ProjectedMonthEnd.IsZero())
	assert.Equal(t, models.TrendStable, r.Trend)
	assert.True(t, r.VarianceOfDailyCost.IsZero())
	assert.True(t, r.ConfidenceLevel.IsZero())
}

func TestMonthOf(t *testing.T) {
	m := MonthOf(time.Date(2028, 2, 10, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, 10, m.DayOfMonth)
	assert.Equal(t, 29, m.DaysInMonth, "leap year")
	assert.Equal(t, 19, m.DaysLeft())
	assert.True(t, m.Contains(time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, m.Contains(time.Date(2028, 3, 1, 0, 0, 0, 0, time.UTC)))

	// local time is converted to UTC first
	tokyo := time.FixedZone("JST", 9*3600)
	m = MonthOf(time.Date(2026, 4, 1, 5, 0, 0, 0, tokyo))
	assert.Equal(t, time.March, m.Start.Month())
	assert.Equal(t, 31, m.DayOfMonth)
	assert.Zero(t, m.DaysLeft())
}

func TestCalendarMonth_Filter(t *testing.T) {
	m := MonthOf(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	samples := []models.CostSample{
		at(time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC), "1"),
		at(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "2"),
		at(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC), "3"),
	}
	got := m.Filter(samples)
	require.Len(t, got, 2)
	assert.True(t, got[0].CostUSD.Equal(dec("2")))
}

func TestBudgetStatus(t *testing.T) {
	budget := dec("1000")

	tests := []struct {
		name      string
		projected string
		color     models.StatusColor
		onTrack   bool
	}{
		{name: "under budget", projected: "900", color: models.StatusGreen, onTrack: true},
		{name: "exactly budget", projected: "1000", color: models.StatusGreen, onTrack: true},
		{name: "over budget", projected: "1050", color: models.StatusYellow},
		{name: "exactly 110%", projected: "1100", color: models.StatusYellow},
		{name: "over 110%", projected: "1100.01", color: models.StatusRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := BudgetStatus(models.ForecastResult{ProjectedMonthEnd: dec(tt.projected)}, budget, dec("400"))
			assert.Equal(t, tt.color, s.StatusColor)
			assert.Equal(t, tt.onTrack, s.OnTrack)
			assert.True(t, s.Remaining.Equal(dec("600")))
			assert.True(t, s.Monthly.Equal(budget))
		})
	}
}

func TestBudgetStatus_NoBudget(t *testing.T) {
	s := BudgetStatus(models.ForecastResult{ProjectedMonthEnd: dec("5000")}, decimal.Zero, dec("400"))
	assert.Equal(t, models.StatusGreen, s.StatusColor)
	assert.True(t, s.OnTrack)
	assert.True(t, s.Remaining.IsZero())
}
