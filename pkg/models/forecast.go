package models

import "github.com/shopspring/decimal"

// Trend classifies the direction of spend over a sample series
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ForecastResult is recomputed from a sample slice on every request
type ForecastResult struct {
	VelocityPerDay      decimal.Decimal `json:"velocityPerDay"`
	Forecast7d          decimal.Decimal `json:"forecast7d"`
	Forecast30d         decimal.Decimal `json:"forecast30d"`
	ProjectedMonthEnd   decimal.Decimal `json:"projectedMonthEnd"`
	Trend               Trend           `json:"trend"`
	VarianceOfDailyCost decimal.Decimal `json:"varianceOfDailyCost"`
	ConfidenceLevel     decimal.Decimal `json:"confidenceLevel"`
}

// StatusColor is the traffic-light rating of a projection against budget
type StatusColor string

const (
	StatusGreen  StatusColor = "green"
	StatusYellow StatusColor = "yellow"
	StatusRed    StatusColor = "red"
)

// BudgetStatus compares a month-end projection with the monthly budget
type BudgetStatus struct {
	Monthly     decimal.Decimal `json:"monthly"`
	Remaining   decimal.Decimal `json:"remaining"`
	OnTrack     bool            `json:"onTrack"`
	StatusColor StatusColor     `json:"statusColor"`
}
