package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CostSample is a single cost fact reported by the gateway. Samples are
// immutable once produced.
type CostSample struct {
	Timestamp time.Time       `json:"timestamp"`
	EntityID  string          `json:"entityId"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	TokensIn  uint64          `json:"tokensIn"`
	TokensOut uint64          `json:"tokensOut"`
	CostUSD   decimal.Decimal `json:"costUsd"`
}

// Fingerprint returns a stable identity for the sample so that re-polled
// samples are stored only once.
func (s CostSample) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%d|%s",
		s.Timestamp.UTC().UnixNano(), s.EntityID, s.Provider, s.Model,
		s.TokensIn, s.TokensOut, s.CostUSD.String())
	return hex.EncodeToString(h.Sum(nil))
}

// Period is a fixed-width look-back window
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Duration returns the fixed width of the period. Windows are rolling and
// not calendar-aware: monthly is always 30 days.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// IsValid reports whether p is a known period
func (p Period) IsValid() bool {
	return p.Duration() > 0
}

// ParsePeriod converts a string into a Period
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid period %q: must be daily, weekly or monthly", s)
	}
	return p, nil
}

// CostWindow is an aggregation of samples over a rolling window. It is
// derived on demand and never persisted.
type CostWindow struct {
	Period        Period                     `json:"period"`
	StartTime     time.Time                  `json:"startTime"`
	EndTime       time.Time                  `json:"endTime"`
	TotalCostUSD  decimal.Decimal            `json:"totalCostUsd"`
	SampleCount   int                        `json:"sampleCount"`
	PerEntityCost map[string]decimal.Decimal `json:"perEntityCost"`
}
