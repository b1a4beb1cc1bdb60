package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Period
		wantErr  bool
	}{
		{name: "daily", input: "daily", expected: PeriodDaily},
		{name: "weekly mixed case", input: "Weekly", expected: PeriodWeekly},
		{name: "monthly with spaces", input: " monthly ", expected: PeriodMonthly},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown", input: "yearly", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeriod(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPeriod_Duration(t *testing.T) {
	assert.Equal(t, 24*time.Hour, PeriodDaily.Duration())
	assert.Equal(t, 7*24*time.Hour, PeriodWeekly.Duration())
	assert.Equal(t, 30*24*time.Hour, PeriodMonthly.Duration())
	assert.Zero(t, Period("hourly").Duration())
	assert.False(t, Period("hourly").IsValid())
}

func TestCostSample_Fingerprint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := CostSample{Timestamp: ts, EntityID: "agent-1", Provider: "openai", Model: "gpt", TokensIn: 10, TokensOut: 5, CostUSD: decimal.RequireFromString("0.12")}
	b := a

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	// same instant in another zone is the same sample
	b.Timestamp = ts.In(time.FixedZone("CET", 3600))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.CostUSD = decimal.RequireFromString("0.13")
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestAlertTypeForBudget(t *testing.T) {
	tests := []struct {
		name     string
		alert    BudgetAlert
		expected AlertType
	}{
		{name: "global daily", alert: BudgetAlert{Scope: ScopeGlobal, Period: PeriodDaily}, expected: AlertTypeBudgetDaily},
		{name: "global monthly", alert: BudgetAlert{Scope: ScopeGlobal, Period: PeriodMonthly}, expected: AlertTypeBudgetMonthly},
		{name: "entity", alert: BudgetAlert{Scope: ScopeEntity, EntityID: "a", Period: PeriodMonthly}, expected: AlertTypeBudgetEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AlertTypeForBudget(tt.alert))
		})
	}
}

func TestEntity_IsActive(t *testing.T) {
	assert.True(t, Entity{Status: "active"}.IsActive())
	assert.True(t, Entity{Status: "running"}.IsActive())
	assert.False(t, Entity{Status: "stopped"}.IsActive())
}
