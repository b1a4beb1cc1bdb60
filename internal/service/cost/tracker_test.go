package cost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// mockSampleStore implements SampleStore for testing
type mockSampleStore struct {
	mu        sync.RWMutex
	samples   map[string]models.CostSample
	rangeErr  error
	appendErr error
}

func newMockSampleStore() *mockSampleStore {
	return &mockSampleStore{samples: make(map[string]models.CostSample)}
}

func (m *mockSampleStore) Append(ctx context.Context, samples []models.CostSample) ([]models.CostSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	var inserted []models.CostSample
	for _, s := range samples {
		id := s.Fingerprint()
		if _, ok := m.samples[id]; ok {
			continue
		}
		m.samples[id] = s
		inserted = append(inserted, s)
	}
	return inserted, nil
}

func (m *mockSampleStore) Range(ctx context.Context, start, end time.Time, entityID string) ([]models.CostSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rangeErr != nil {
		return nil, m.rangeErr
	}
	var out []models.CostSample
	for _, s := range m.samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		if entityID != "" && s.EntityID != entityID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSampleStore) setRangeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeErr = err
}

// mockSource implements SampleSource for testing
type mockSource struct {
	mu      sync.Mutex
	samples []models.CostSample
	calls   int
}

func (m *mockSource) CostSamples(ctx context.Context) []models.CostSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.samples
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestTracker_PollStoresNewSamples(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	source := &mockSource{samples: []models.CostSample{
		sample("agent-1", now.Add(-time.Hour), "1.00"),
		sample("agent-2", now.Add(-2*time.Hour), "2.00"),
	}}

	tracker := New(store, source, WithTimeFunc(func() time.Time { return now }))

	assert.Equal(t, 2, tracker.Poll(context.Background()))
	// re-polling the same page stores nothing
	assert.Equal(t, 0, tracker.Poll(context.Background()))

	m := tracker.GetMetrics()
	assert.Equal(t, int64(2), m.PollsRun)
	assert.Equal(t, int64(2), m.SamplesStored)
}

func TestTracker_PollStoreError(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	store.appendErr = errors.New("disk full")
	source := &mockSource{samples: []models.CostSample{sample("a", now, "1")}}

	tracker := New(store, source, WithTimeFunc(func() time.Time { return now }))

	assert.Equal(t, 0, tracker.Poll(context.Background()))
	assert.Equal(t, int64(1), tracker.GetMetrics().Errors)
}

func TestTracker_GetCostSummary(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	_, err := store.Append(context.Background(), []models.CostSample{
		sample("agent-1", now.Add(-time.Hour), "1.50"),
		sample("agent-1", now.Add(-3*24*time.Hour), "4.00"),
	})
	require.NoError(t, err)

	tracker := New(store, &mockSource{}, WithTimeFunc(func() time.Time { return now }))

	daily := tracker.GetCostSummary(context.Background(), models.PeriodDaily)
	assert.True(t, daily.TotalCostUSD.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 1, daily.SampleCount)

	weekly := tracker.GetCostSummary(context.Background(), models.PeriodWeekly)
	assert.True(t, weekly.TotalCostUSD.Equal(decimal.RequireFromString("5.5")))
	assert.Equal(t, 2, weekly.SampleCount)
}

func TestTracker_SamplesServesLastKnownOnStoreError(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	_, err := store.Append(context.Background(), []models.CostSample{
		sample("agent-1", now.Add(-time.Hour), "3.00"),
	})
	require.NoError(t, err)

	tracker := New(store, &mockSource{}, WithTimeFunc(func() time.Time { return now }))
	ctx := context.Background()

	before := tracker.GetCostSummary(ctx, models.PeriodMonthly)
	require.True(t, before.TotalCostUSD.Equal(decimal.NewFromInt(3)))

	store.setRangeErr(errors.New("database is locked"))

	after := tracker.GetCostSummary(ctx, models.PeriodDaily)
	assert.True(t, after.TotalCostUSD.Equal(decimal.NewFromInt(3)), "stale-but-valid value expected")
	assert.Equal(t, int64(1), tracker.GetMetrics().StaleReads)
}

func TestTracker_LastKnownFollowsLatestRead(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	_, err := store.Append(context.Background(), []models.CostSample{
		sample("agent-1", now.Add(-time.Hour), "3.00"),
	})
	require.NoError(t, err)

	clock := now
	tracker := New(store, &mockSource{}, WithTimeFunc(func() time.Time { return clock }))
	ctx := context.Background()

	first := tracker.GetCostSummary(ctx, models.PeriodMonthly)
	require.True(t, first.TotalCostUSD.Equal(decimal.NewFromInt(3)))

	clock = now.Add(time.Hour)
	_, err = store.Append(ctx, []models.CostSample{
		sample("agent-2", now.Add(30*time.Minute), "7.00"),
	})
	require.NoError(t, err)

	second := tracker.GetCostSummary(ctx, models.PeriodMonthly)
	require.True(t, second.TotalCostUSD.Equal(decimal.NewFromInt(10)))

	store.setRangeErr(errors.New("database is locked"))

	monthly := tracker.GetCostSummary(ctx, models.PeriodMonthly)
	assert.Equal(t, "10.00", monthly.TotalCostUSD.StringFixed(2))
	assert.Equal(t, 2, monthly.SampleCount)

	daily := tracker.GetCostSummary(ctx, models.PeriodDaily)
	assert.Equal(t, "10.00", daily.TotalCostUSD.StringFixed(2))
}

func TestTracker_LastKnownDropsDeletedAndExpiredSamples(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	old := sample("agent-1", now.Add(-29*24*time.Hour), "5.00")
	recent := sample("agent-1", now.Add(-time.Hour), "2.00")
	_, err := store.Append(context.Background(), []models.CostSample{old, recent})
	require.NoError(t, err)

	clock := now
	tracker := New(store, &mockSource{}, WithTimeFunc(func() time.Time { return clock }))
	ctx := context.Background()

	require.Len(t, tracker.Samples(ctx, now.Add(-budgetLookback)), 2)

	// a later read of the same range no longer sees the recent sample
	store.mu.Lock()
	delete(store.samples, recent.Fingerprint())
	store.mu.Unlock()
	require.Len(t, tracker.Samples(ctx, now.Add(-24*time.Hour)), 0)

	// four days on, the old sample is past retention
	clock = now.Add(4 * 24 * time.Hour)
	store.setRangeErr(errors.New("database is locked"))

	assert.Empty(t, tracker.Samples(ctx, clock.Add(-40*24*time.Hour)))
}

func TestTracker_GetBudgetAlerts(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := newMockSampleStore()
	var batch []models.CostSample
	for i := 0; i < 5; i++ {
		batch = append(batch, sample("agent-1", now.Add(-time.Duration(i+1)*time.Minute), "25.00"))
	}
	_, err := store.Append(context.Background(), batch)
	require.NoError(t, err)

	tracker := New(store, &mockSource{},
		WithTimeFunc(func() time.Time { return now }),
		WithMonthlyBudget(decimal.NewFromInt(3000)))

	alerts := tracker.GetBudgetAlerts(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, models.PeriodDaily, alerts[0].Period)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
}

func TestTracker_SetMonthlyBudget(t *testing.T) {
	tracker := New(newMockSampleStore(), &mockSource{})
	assert.True(t, tracker.MonthlyBudget().IsZero())

	tracker.SetMonthlyBudget(decimal.NewFromInt(1200))
	assert.True(t, tracker.MonthlyBudget().Equal(decimal.NewFromInt(1200)))
}

func TestTracker_StartStop(t *testing.T) {
	source := &mockSource{}
	tracker := New(newMockSampleStore(), source, WithPollInterval(10*time.Millisecond))

	require.NoError(t, tracker.Start(context.Background()))
	// second start is a no-op
	require.NoError(t, tracker.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return source.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	tracker.Stop()
	calls := source.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, source.callCount())

	// stop twice is safe
	tracker.Stop()
}

func TestTracker_StartWithoutImmediatePoll(t *testing.T) {
	source := &mockSource{}
	tracker := New(newMockSampleStore(), source,
		WithPollInterval(time.Hour),
		WithImmediatePoll(false))

	require.NoError(t, tracker.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()

	assert.Equal(t, 0, source.callCount())
}

func TestTracker_StartPollsImmediatelyByDefault(t *testing.T) {
	source := &mockSource{}
	tracker := New(newMockSampleStore(), source, WithPollInterval(time.Hour))

	require.NoError(t, tracker.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return source.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	tracker.Stop()
}

func TestTracker_StopOnContextCancel(t *testing.T) {
	tracker := New(newMockSampleStore(), &mockSource{}, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tracker.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		tracker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
