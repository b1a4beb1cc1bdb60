package gateway

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// costSamplesResponse is the body of GET /api/costs
type costSamplesResponse struct {
	Samples []wireSample `json:"samples"`
}

// wireSample accepts cost as a JSON number or string
type wireSample struct {
	Timestamp time.Time       `json:"timestamp"`
	EntityID  string          `json:"entityId"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	TokensIn  uint64          `json:"tokensIn"`
	TokensOut uint64          `json:"tokensOut"`
	CostUSD   decimal.Decimal `json:"costUsd"`
}

func (w wireSample) toModel() (models.CostSample, error) {
	if w.EntityID == "" {
		return models.CostSample{}, fmt.Errorf("sample without entityId")
	}
	if w.Timestamp.IsZero() {
		return models.CostSample{}, fmt.Errorf("sample for %s without timestamp", w.EntityID)
	}
	if w.CostUSD.IsNegative() {
		return models.CostSample{}, fmt.Errorf("sample for %s has negative cost", w.EntityID)
	}
	return models.CostSample{
		Timestamp: w.Timestamp.UTC(),
		EntityID:  w.EntityID,
		Provider:  w.Provider,
		Model:     w.Model,
		TokensIn:  w.TokensIn,
		TokensOut: w.TokensOut,
		CostUSD:   w.CostUSD,
	}, nil
}

// entitiesResponse is the body of GET /api/agents
type entitiesResponse struct {
	Agents []models.Entity `json:"agents"`
}
