package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	DefaultLastKnownTTL   = 15 * time.Minute
	DefaultMaxConcurrency = 4

	keySamples  = "samples"
	keyEntities = "entities"
)

// Source wraps a Client so that callers never see gateway failures. A
// failed call is logged, counted and answered from the last value that
// call returned successfully, or an empty value if there is none.
type Source struct {
	client         Client
	cache          *ristretto.Cache[string, any]
	ttl            time.Duration
	maxConcurrency int
	logger         *slog.Logger
	now            func() time.Time
}

// SourceOption configures a Source
type SourceOption func(*Source)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithLastKnownTTL sets how long a successful response may be served after
// the gateway starts failing
func WithLastKnownTTL(ttl time.Duration) SourceOption {
	return func(s *Source) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxConcurrency bounds the resource snapshot fan-out
func WithMaxConcurrency(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = fn
	}
}

// NewSource creates a Source over client
func NewSource(client Client, opts ...SourceOption) (*Source, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create last-known cache: %w", err)
	}

	s := &Source{
		client:         client,
		cache:          cache,
		ttl:            DefaultLastKnownTTL,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close releases the cache
func (s *Source) Close() {
	s.cache.Close()
}

// CostSamples returns all cost samples the gateway reports
func (s *Source) CostSamples(ctx context.Context) []models.CostSample {
	start := s.now()
	samples, err := s.client.GetCostSamples(ctx, "")
	if err != nil {
		if cached, ok := lastKnown[[]models.CostSample](s, keySamples); ok {
			s.degraded(ctx, "GetCostSamples", start, err, true)
			return cached
		}
		s.degraded(ctx, "GetCostSamples", start, err, false)
		return []models.CostSample{}
	}

	metrics.RecordGatewayCall("GetCostSamples", "success", s.now().Sub(start))
	s.remember(keySamples, samples)
	return samples
}

// Entities returns the agents known to the gateway
func (s *Source) Entities(ctx context.Context) []models.Entity {
	start := s.now()
	entities, err := s.client.GetEntities(ctx)
	if err != nil {
		if cached, ok := lastKnown[[]models.Entity](s, keyEntities); ok {
			s.degraded(ctx, "GetEntities", start, err, true)
			return cached
		}
		s.degraded(ctx, "GetEntities", start, err, false)
		return []models.Entity{}
	}

	metrics.RecordGatewayCall("GetEntities", "success", s.now().Sub(start))
	s.remember(keyEntities, entities)
	return entities
}

// Health checks the gateway. Failure is reported as a down status, never
// as an error. Health is never served from cache.
func (s *Source) Health(ctx context.Context) models.HealthStatus {
	start := s.now()
	status, err := s.client.HealthCheck(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "gateway health check failed",
			slog.String("error", err.Error()))
		metrics.RecordGatewayCall("HealthCheck", "error", s.now().Sub(start))
		status.Status = models.GatewayDown
	} else {
		metrics.RecordGatewayCall("HealthCheck", "success", s.now().Sub(start))
	}

	metrics.SetGatewayUp(status.Status == models.GatewayUp)
	return status
}

// ResourceSnapshots fetches a snapshot for every entity with bounded
// concurrency. Entities whose snapshot cannot be fetched and has never been
// seen before are left out of the result.
func (s *Source) ResourceSnapshots(ctx context.Context, entities []models.Entity) map[string]models.ResourceSnapshot {
	var (
		mu        sync.Mutex
		snapshots = make(map[string]models.ResourceSnapshot, len(entities))
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.maxConcurrency)

	for _, entity := range entities {
		entityID := entity.ID
		if entityID == "" {
			continue
		}
		grp.Go(func() error {
			snap, ok := s.resourceSnapshot(gctx, entityID)
			if !ok {
				return nil
			}
			mu.Lock()
			snapshots[entityID] = snap
			mu.Unlock()
			return nil
		})
	}

	_ = grp.Wait()
	return snapshots
}

func (s *Source) resourceSnapshot(ctx context.Context, entityID string) (models.ResourceSnapshot, bool) {
	key := "resource:" + entityID
	start := s.now()

	snap, err := s.client.GetResourceSnapshot(ctx, entityID)
	if err != nil || snap == nil {
		if err == nil {
			err = ErrInvalidResponse
		}
		cached, ok := lastKnown[models.ResourceSnapshot](s, key)
		s.degraded(ctx, "GetResourceSnapshot", start, err, ok)
		return cached, ok
	}

	metrics.RecordGatewayCall("GetResourceSnapshot", "success", s.now().Sub(start))
	s.remember(key, *snap)
	return *snap, true
}

func (s *Source) remember(key string, value any) {
	s.cache.SetWithTTL(key, value, 1, s.ttl)
	s.cache.Wait()
}

func lastKnown[T any](s *Source, key string) (T, bool) {
	var zero T
	v, ok := s.cache.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (s *Source) degraded(ctx context.Context, operation string, start time.Time, err error, stale bool) {
	status := "error"
	if stale {
		status = "stale"
	}
	metrics.RecordGatewayCall(operation, status, s.now().Sub(start))

	s.logger.WarnContext(ctx, "gateway call failed",
		slog.String("operation", operation),
		slog.Bool("serving_last_known", stale),
		slog.Bool("retryable", IsRetryable(err)),
		slog.String("error", err.Error()))
}
