// Package forecast projects spend from irregular cost samples. Every method
// is pure apart from reading the clock and accepts an empty sample slice.
package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	velocityPlaces   = 4
	moneyPlaces      = 2
	confidencePlaces = 2

	// projections assume a 30 day month regardless of the calendar
	projectionMonthDays = 30

	// UseCurrentDay asks ProjectedMonthEnd to use today's day-of-month
	UseCurrentDay = -1

	fullConfidenceSamples = 100
)

// trendThreshold is the relative change between the two halves of a series
// that counts as a direction; exactly 5% is still stable
var trendThreshold = decimal.RequireFromString("0.05")

// Engine computes spend forecasts
type Engine struct {
	now func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		e.now = fn
	}
}

// New creates a forecast engine
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// dailyTotals sums cost per UTC calendar day
func dailyTotals(samples []models.CostSample) []decimal.Decimal {
	buckets := make(map[time.Time]decimal.Decimal)
	for _, s := range samples {
		ts := s.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		buckets[day] = buckets[day].Add(s.CostUSD)
	}

	totals := make([]decimal.Decimal, 0, len(buckets))
	for _, v := range buckets {
		totals = append(totals, v)
	}
	return totals
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, values...).Div(decimal.NewFromInt(int64(len(values))))
}

// Velocity is the mean spend per UTC calendar day
func (e *Engine) Velocity(samples []models.CostSample) decimal.Decimal {
	return mean(dailyTotals(samples)).Round(velocityPlaces)
}

// Forecast projects spend over the next days at the current velocity
func (e *Engine) Forecast(samples []models.CostSample, days int) decimal.Decimal {
	return e.forecastFrom(e.Velocity(samples), days)
}

func (e *Engine) forecastFrom(velocity decimal.Decimal, days int) decimal.Decimal {
	return velocity.Mul(decimal.NewFromInt(int64(days))).Round(moneyPlaces)
}

// Trend compares the mean sample cost of the earlier and later halves of the
// series. With an odd count the later half gets the extra sample.
func (e *Engine) Trend(samples []models.CostSample) models.Trend {
	if len(samples) < 2 {
		return models.TrendStable
	}

	sorted := make([]models.CostSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	mid := len(sorted) / 2
	first := mean(costs(sorted[:mid]))
	second := mean(costs(sorted[mid:]))

	if first.IsZero() {
		if second.IsPositive() {
			return models.TrendUp
		}
		return models.TrendStable
	}

	change := second.Sub(first).Div(first.Abs())
	switch {
	case change.GreaterThan(trendThreshold):
		return models.TrendUp
	case change.LessThan(trendThreshold.Neg()):
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

func costs(samples []models.CostSample) []decimal.Decimal {
	out := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		out[i] = s.CostUSD
	}
	return out
}

// Variance is the population variance of the per-day totals
func (e *Engine) Variance(samples []models.CostSample) decimal.Decimal {
	totals := dailyTotals(samples)
	if len(totals) < 2 {
		return decimal.Zero
	}

	m := mean(totals)
	sumSq := decimal.Zero
	for _, v := range totals {
		d := v.Sub(m)
		sumSq = sumSq.Add(d.Mul(d))
	}
	return sumSq.Div(decimal.NewFromInt(int64(len(totals))))
}

// ConfidenceLevel scores the forecast between 0 and 1
func (e *Engine) ConfidenceLevel(samples []models.CostSample) decimal.Decimal {
	return e.ConfidenceLevelWithVariance(samples, e.Variance(samples))
}

// ConfidenceLevelWithVariance scores the forecast using a precomputed
// variance. Volatility is the coefficient of variation of the daily totals
// against the mean raw sample cost; volume saturates at 100 samples.
func (e *Engine) ConfidenceLevelWithVariance(samples []models.CostSample, variance decimal.Decimal) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}

	m := mean(costs(samples)).InexactFloat64()
	if m <= 0 {
		return decimal.Zero
	}

	cv := math.Sqrt(math.Max(variance.InexactFloat64(), 0)) / m
	dataPoints := math.Min(float64(len(samples))/fullConfidenceSamples, 1)

	confidence := (1 - math.Min(cv, 1)) * (0.5 + dataPoints*0.5)
	confidence = math.Max(0, math.Min(1, confidence))

	return decimal.NewFromFloat(confidence).Round(confidencePlaces)
}

// ProjectedMonthEnd adds the spend expected over the rest of a 30 day month
// to the spend in samples. UseCurrentDay resolves to today's UTC
// day-of-month; any other value <= 0 projects nothing.
func (e *Engine) ProjectedMonthEnd(samples []models.CostSample, daysIntoMonth int) decimal.Decimal {
	return e.projectFrom(samples, e.Velocity(samples), daysIntoMonth)
}

func (e *Engine) projectFrom(samples []models.CostSample, velocity decimal.Decimal, daysIntoMonth int) decimal.Decimal {
	if daysIntoMonth == UseCurrentDay {
		daysIntoMonth = MonthOf(e.now()).DayOfMonth
	}
	if daysIntoMonth <= 0 {
		return decimal.Zero
	}

	remaining := projectionMonthDays - daysIntoMonth
	if remaining < 0 {
		remaining = 0
	}

	spend := decimal.Sum(decimal.Zero, costs(samples)...)
	return spend.Add(velocity.Mul(decimal.NewFromInt(int64(remaining)))).Round(moneyPlaces)
}

// GenerateForecast computes every figure once, sharing velocity and
// variance between the derived values
func (e *Engine) GenerateForecast(samples []models.CostSample) models.ForecastResult {
	velocity := e.Velocity(samples)
	variance := e.Variance(samples)

	return models.ForecastResult{
		VelocityPerDay:      velocity,
		Forecast7d:          e.forecastFrom(velocity, 7),
		Forecast30d:         e.forecastFrom(velocity, 30),
		ProjectedMonthEnd:   e.projectFrom(samples, velocity, UseCurrentDay),
		Trend:               e.Trend(samples),
		VarianceOfDailyCost: variance.Round(velocityPlaces),
		ConfidenceLevel:     e.ConfidenceLevelWithVariance(samples, variance),
	}
}
