package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long acknowledged alerts are kept
const DefaultRetention = 7 * 24 * time.Hour

// Sweeper clears old acknowledged alerts on a cron schedule
type Sweeper struct {
	engine   *Engine
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper validates schedule and returns a stopped sweeper
func NewSweeper(engine *Engine, schedule string, maxAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     cron.New(),
		logger:   logger,
	}, nil
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule alert sweep: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("alert sweeper started",
		slog.String("schedule", s.schedule),
		slog.Duration("max_age", s.maxAge))
	return nil
}

// RunOnce clears old alerts immediately
func (s *Sweeper) RunOnce() int {
	removed := s.engine.ClearOldAlerts(s.maxAge)
	if removed > 0 {
		s.logger.Info("cleared acknowledged alerts", slog.Int("removed", removed))
	}
	return removed
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("alert sweeper stopped")
}

// NextRun returns the next scheduled sweep, or nil when not running
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
