package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// samplePayload is the sealed part of a stored sample
type samplePayload struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	TokensIn  uint64          `json:"tokens_in"`
	TokensOut uint64          `json:"tokens_out"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
}

// SampleStore persists cost samples with their payload encrypted at rest
type SampleStore struct {
	db     *DB
	sealer *Sealer
}

// NewSampleStore creates a new sample store
func NewSampleStore(db *DB, sealer *Sealer) *SampleStore {
	return &SampleStore{db: db, sealer: sealer}
}

// Append stores samples that are not already present and returns the ones
// that were new. Samples are identified by their fingerprint.
func (s *SampleStore) Append(ctx context.Context, samples []models.CostSample) ([]models.CostSample, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO samples (id, ts, entity_id, payload)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	var inserted []models.CostSample
	for _, sample := range samples {
		id := sample.Fingerprint()

		raw, err := json.Marshal(samplePayload{
			Provider:  sample.Provider,
			Model:     sample.Model,
			TokensIn:  sample.TokensIn,
			TokensOut: sample.TokensOut,
			CostUSD:   sample.CostUSD,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode sample: %w", err)
		}

		sealed, err := s.sealer.Seal(raw, id)
		if err != nil {
			return nil, err
		}

		res, err := stmt.ExecContext(ctx, id, sample.Timestamp.UTC().UnixNano(), sample.EntityID, sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sample: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, sample)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit samples: %w", err)
	}

	return inserted, nil
}

// Range returns samples with start <= timestamp <= end, oldest first. An
// empty entityID matches every entity; a zero start means no lower bound.
func (s *SampleStore) Range(ctx context.Context, start, end time.Time, entityID string) ([]models.CostSample, error) {
	query := `SELECT id, ts, entity_id, payload FROM samples WHERE ts <= ?`
	args := []interface{}{end.UTC().UnixNano()}

	if !start.IsZero() {
		query += " AND ts >= ?"
		args = append(args, start.UTC().UnixNano())
	}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.CostSample
	for rows.Next() {
		var (
			id, entity string
			ts         int64
			sealed     []byte
		)
		if err := rows.Scan(&id, &ts, &entity, &sealed); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}

		raw, err := s.sealer.Open(sealed, id)
		if err != nil {
			return nil, err
		}

		var p samplePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode sample %s: %w", id, err)
		}

		samples = append(samples, models.CostSample{
			Timestamp: time.Unix(0, ts).UTC(),
			EntityID:  entity,
			Provider:  p.Provider,
			Model:     p.Model,
			TokensIn:  p.TokensIn,
			TokensOut: p.TokensOut,
			CostUSD:   p.CostUSD,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}

	return samples, nil
}

// Count returns the number of stored samples
func (s *SampleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return n, nil
}
