package cost

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	// DefaultPollInterval is how often samples are pulled from the gateway
	DefaultPollInterval = 30 * time.Second

	// budgetLookback covers the widest window the evaluator reads
	budgetLookback = 30 * 24 * time.Hour

	// lastKnownRetention bounds the last-known cache; it covers the rolling
	// windows and a full calendar month
	lastKnownRetention = 32 * 24 * time.Hour
)

// SampleStore defines the interface for cost sample persistence
type SampleStore interface {
	Append(ctx context.Context, samples []models.CostSample) ([]models.CostSample, error)
	Range(ctx context.Context, start, end time.Time, entityID string) ([]models.CostSample, error)
}

// SampleSource yields the samples currently reported by the gateway. It
// never fails; an unreachable gateway yields nothing new.
type SampleSource interface {
	CostSamples(ctx context.Context) []models.CostSample
}

// Tracker pulls cost samples into the store and serves windowed reads
type Tracker struct {
	store  SampleStore
	source SampleSource
	logger *slog.Logger

	pollInterval  time.Duration
	immediatePoll bool

	// For time mocking in tests
	now func() time.Time

	budgetMu      sync.RWMutex
	monthlyBudget decimal.Decimal

	// samples from successful reads, served when the store fails
	cacheMu     sync.RWMutex
	lastSamples []models.CostSample

	// Shutdown coordination
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	metrics *Metrics
}

// Metrics tracks cost tracker statistics
type Metrics struct {
	mu             sync.RWMutex
	PollsRun       int64
	SamplesStored  int64
	StaleReads     int64
	Errors         int64
	LastPollAt     time.Time
	LastPollStored int
}

// Option configures the cost tracker
type Option func(*Tracker)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithPollInterval sets how often samples are pulled
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.pollInterval = d
	}
}

// WithImmediatePoll controls whether the poll loop pulls as soon as it
// starts. Disable it when the caller has already polled.
func WithImmediatePoll(enabled bool) Option {
	return func(t *Tracker) {
		t.immediatePoll = enabled
	}
}

// WithMonthlyBudget sets the initial monthly budget
func WithMonthlyBudget(budget decimal.Decimal) Option {
	return func(t *Tracker) {
		t.monthlyBudget = budget
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(t *Tracker) {
		t.now = fn
	}
}

// New creates a new cost tracker
func New(store SampleStore, source SampleSource, opts ...Option) *Tracker {
	t := &Tracker{
		store:         store,
		source:        source,
		logger:        slog.Default(),
		pollInterval:  DefaultPollInterval,
		immediatePoll: true,
		now:           time.Now,
		monthlyBudget: decimal.Zero,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		metrics:       &Metrics{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins the poll loop. Unless disabled, the first poll runs immediately.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	stopCh, doneCh := t.stopCh, t.doneCh
	t.mu.Unlock()

	t.logger.Info("cost tracker starting",
		slog.Duration("poll_interval", t.pollInterval),
		slog.Bool("immediate_poll", t.immediatePoll))

	go t.run(ctx, stopCh, doneCh)
	return nil
}

// Stop gracefully stops the cost tracker
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	// capture channels under the lock so a concurrent Start cannot swap them
	stopCh := t.stopCh
	doneCh := t.doneCh
	t.mu.Unlock()

	t.logger.Info("cost tracker stopping")
	close(stopCh)
	<-doneCh

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.logger.Info("cost tracker stopped")
}

func (t *Tracker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	if t.immediatePoll {
		t.Poll(ctx)
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Poll(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Poll pulls the current samples from the gateway and stores the new ones.
// It returns the number of samples stored.
func (t *Tracker) Poll(ctx context.Context) int {
	samples := t.source.CostSamples(ctx)

	t.metrics.mu.Lock()
	t.metrics.PollsRun++
	t.metrics.LastPollAt = t.now()
	t.metrics.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}

	inserted, err := t.store.Append(ctx, samples)
	if err != nil {
		t.logger.Error("failed to store cost samples",
			slog.Int("count", len(samples)),
			slog.String("error", err.Error()))
		t.metrics.mu.Lock()
		t.metrics.Errors++
		t.metrics.mu.Unlock()
		return 0
	}

	for _, s := range inserted {
		metrics.RecordSampleIngested(s.Provider, s.CostUSD.InexactFloat64())
	}

	t.metrics.mu.Lock()
	t.metrics.SamplesStored += int64(len(inserted))
	t.metrics.LastPollStored = len(inserted)
	t.metrics.mu.Unlock()

	if len(inserted) > 0 {
		t.logger.Debug("stored cost samples",
			slog.Int("received", len(samples)),
			slog.Int("new", len(inserted)))
	}

	return len(inserted)
}

// Samples returns all stored samples from since until now. When the store
// cannot be read, the last-known samples for the window are served instead.
func (t *Tracker) Samples(ctx context.Context, since time.Time) []models.CostSample {
	now := t.now()

	samples, err := t.store.Range(ctx, since, now, "")
	if err != nil {
		t.logger.Warn("failed to read cost samples, serving last known",
			slog.String("error", err.Error()))
		t.metrics.mu.Lock()
		t.metrics.StaleReads++
		t.metrics.Errors++
		t.metrics.mu.Unlock()
		return t.cachedSince(since, now)
	}

	t.remember(since, now, samples)
	return samples
}

// remember folds a successful read of [since, now] into the last-known
// cache. The read replaces everything cached inside its range; older cached
// samples are kept until they fall out of retention.
func (t *Tracker) remember(since, now time.Time, samples []models.CostSample) {
	cutoff := now.Add(-lastKnownRetention)

	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	merged := make([]models.CostSample, 0, len(t.lastSamples)+len(samples))
	for _, s := range t.lastSamples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if s.Timestamp.Before(since) || s.Timestamp.After(now) {
			merged = append(merged, s)
		}
	}
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			merged = append(merged, s)
		}
	}
	t.lastSamples = merged
}

func (t *Tracker) cachedSince(since, now time.Time) []models.CostSample {
	if cutoff := now.Add(-lastKnownRetention); since.Before(cutoff) {
		since = cutoff
	}

	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()

	out := make([]models.CostSample, 0, len(t.lastSamples))
	for _, s := range t.lastSamples {
		if !s.Timestamp.Before(since) && !s.Timestamp.After(now) {
			out = append(out, s)
		}
	}
	return out
}

// GetCostSummary aggregates the rolling window for period
func (t *Tracker) GetCostSummary(ctx context.Context, period models.Period) models.CostWindow {
	now := t.now()
	start, _ := RollingWindowBounds(period, now)
	return ComputeWindow(t.Samples(ctx, start), period, now)
}

// GetBudgetAlerts evaluates the current budget against stored samples
func (t *Tracker) GetBudgetAlerts(ctx context.Context) []models.BudgetAlert {
	now := t.now()
	samples := t.Samples(ctx, now.Add(-budgetLookback))
	return Evaluate(samples, t.MonthlyBudget(), now)
}

// MonthlyBudget returns the configured monthly budget
func (t *Tracker) MonthlyBudget() decimal.Decimal {
	t.budgetMu.RLock()
	defer t.budgetMu.RUnlock()
	return t.monthlyBudget
}

// SetMonthlyBudget replaces the monthly budget, e.g. after a config reload
func (t *Tracker) SetMonthlyBudget(budget decimal.Decimal) {
	t.budgetMu.Lock()
	old := t.monthlyBudget
	t.monthlyBudget = budget
	t.budgetMu.Unlock()

	if !old.Equal(budget) {
		t.logger.Info("monthly budget updated",
			slog.String("old", old.StringFixed(2)),
			slog.String("new", budget.StringFixed(2)))
	}
}

// GetMetrics returns a snapshot of tracker statistics
func (t *Tracker) GetMetrics() Metrics {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()
	return Metrics{
		PollsRun:       t.metrics.PollsRun,
		SamplesStored:  t.metrics.SamplesStored,
		StaleReads:     t.metrics.StaleReads,
		Errors:         t.metrics.Errors,
		LastPollAt:     t.metrics.LastPollAt,
		LastPollStored: t.metrics.LastPollStored,
	}
}
