package errtrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/storage"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// ErrorStore defines the interface for error record persistence
type ErrorStore interface {
	Create(ctx context.Context, rec *models.ErrorRecord) error
	Get(ctx context.Context, id string) (*models.ErrorRecord, error)
	IncrementRetryCount(ctx context.Context, id string) error
	MarkResolved(ctx context.Context, id, notes string, at time.Time) error
	ListSince(ctx context.Context, since time.Time, filter storage.ErrorRecordFilter) ([]*models.ErrorRecord, error)
	CountUnresolvedSince(ctx context.Context, since time.Time) (int, error)
}

// Tracker ingests classified errors and reports on them
type Tracker struct {
	store  ErrorStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the tracker
type Option func(*Tracker)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(t *Tracker) {
		t.now = fn
	}
}

// New creates an error tracker
func New(store ErrorStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordInput is a raw error reported by an agent or the gateway
type RecordInput struct {
	EntityID  string
	Code      string
	Message   string
	RequestID string
}

// Record classifies and stores an error
func (t *Tracker) Record(ctx context.Context, in RecordInput) (*models.ErrorRecord, error) {
	if in.EntityID == "" {
		return nil, &InvalidRecordError{Field: "entityId"}
	}

	rec := &models.ErrorRecord{
		Timestamp: t.now().UTC(),
		EntityID:  in.EntityID,
		ErrorType: Classify(in.Code, in.Message),
		ErrorCode: in.Code,
		Message:   in.Message,
		RequestID: in.RequestID,
	}

	if err := t.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record error: %w", err)
	}

	metrics.RecordErrorRecorded(string(rec.ErrorType))

	t.logger.InfoContext(logging.WithEntityID(ctx, rec.EntityID), "error recorded",
		slog.String("error_id", rec.ID),
		slog.String("error_type", string(rec.ErrorType)),
		slog.String("error_code", rec.ErrorCode))

	return rec, nil
}

// Get returns a single error record
func (t *Tracker) Get(ctx context.Context, id string) (*models.ErrorRecord, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, t.mapErr(id, err)
	}
	return rec, nil
}

// IncrementRetryCount notes another retry of the failed request
func (t *Tracker) IncrementRetryCount(ctx context.Context, id string) (*models.ErrorRecord, error) {
	if err := t.store.IncrementRetryCount(ctx, id); err != nil {
		return nil, t.mapErr(id, err)
	}
	return t.Get(ctx, id)
}

// MarkResolved closes an error record with optional notes
func (t *Tracker) MarkResolved(ctx context.Context, id, notes string) (*models.ErrorRecord, error) {
	if err := t.store.MarkResolved(ctx, id, notes, t.now()); err != nil {
		return nil, t.mapErr(id, err)
	}

	logging.Audit(ctx, "resolve_error", slog.String("error_id", id))
	return t.Get(ctx, id)
}

// List returns the errors of the last hoursBack hours, newest first
func (t *Tracker) List(ctx context.Context, hoursBack int, filter storage.ErrorRecordFilter) ([]*models.ErrorRecord, error) {
	records, err := t.store.ListSince(ctx, t.since(hoursBack), filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}
	return records, nil
}

// Stats summarizes the errors of the last hoursBack hours
func (t *Tracker) Stats(ctx context.Context, hoursBack int) (models.ErrorStats, error) {
	records, err := t.store.ListSince(ctx, t.since(hoursBack), storage.ErrorRecordFilter{})
	if err != nil {
		return models.ErrorStats{ErrorTypes: map[models.ErrorType]int{}}, fmt.Errorf("failed to load errors: %w", err)
	}
	return ComputeStats(records), nil
}

// UnresolvedSince counts unresolved errors newer than since
func (t *Tracker) UnresolvedSince(ctx context.Context, since time.Time) (int, error) {
	return t.store.CountUnresolvedSince(ctx, since)
}

func (t *Tracker) since(hoursBack int) time.Time {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	return t.now().Add(-time.Duration(hoursBack) * time.Hour)
}

func (t *Tracker) mapErr(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &RecordNotFoundError{ID: id}
	}
	return err
}

// ComputeStats aggregates a set of records. Averages are zero for an empty
// set; resolution time only counts records with a resolution timestamp.
func ComputeStats(records []*models.ErrorRecord) models.ErrorStats {
	stats := models.ErrorStats{ErrorTypes: make(map[models.ErrorType]int)}

	var (
		retries        int
		resolvedWithAt int
		resolutionSum  time.Duration
	)

	for _, r := range records {
		stats.TotalErrors++
		stats.ErrorTypes[r.ErrorType]++
		retries += r.RetryCount

		if !r.Resolved {
			stats.Unresolved++
			continue
		}
		stats.Resolved++
		if r.ResolvedAt != nil && !r.ResolvedAt.Before(r.Timestamp) {
			resolvedWithAt++
			resolutionSum += r.ResolvedAt.Sub(r.Timestamp)
		}
	}

	if stats.TotalErrors > 0 {
		stats.AvgRetries = round2(float64(retries) / float64(stats.TotalErrors))
		stats.ResolutionRatePercent = round2(float64(stats.Resolved) * 100 / float64(stats.TotalErrors))
	}
	if resolvedWithAt > 0 {
		stats.AvgResolutionTimeMs = (resolutionSum / time.Duration(resolvedWithAt)).Milliseconds()
	}

	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
