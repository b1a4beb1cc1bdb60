// Package export uploads a daily cost report to a remote host on a schedule.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// DefaultSchedule runs the export shortly after midnight
const DefaultSchedule = "15 0 * * *"

// CostReader provides the window that goes into a report
type CostReader interface {
	GetCostSummary(ctx context.Context, period models.Period) models.CostWindow
}

// Uploader stores a finished report
type Uploader interface {
	Upload(ctx context.Context, remotePath string, r io.Reader) error
}

// Exporter builds the daily cost report and hands it to an uploader
type Exporter struct {
	costs     CostReader
	uploader  Uploader
	remoteDir string
	schedule  string
	timeout   time.Duration
	cron      *cron.Cron
	logger    *slog.Logger

	// For time mocking in tests
	now func() time.Time

	mu      sync.Mutex
	running bool
}

// Option configures the exporter
type Option func(*Exporter)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// WithSchedule sets the cron expression the export runs on
func WithSchedule(schedule string) Option {
	return func(e *Exporter) {
		e.schedule = schedule
	}
}

// WithRemoteDir sets the directory reports are written to
func WithRemoteDir(dir string) Option {
	return func(e *Exporter) {
		e.remoteDir = dir
	}
}

// WithTimeout bounds a single export run
func WithTimeout(d time.Duration) Option {
	return func(e *Exporter) {
		e.timeout = d
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(e *Exporter) {
		e.now = fn
	}
}

// New validates the schedule and returns a stopped exporter
func New(costs CostReader, uploader Uploader, opts ...Option) (*Exporter, error) {
	e := &Exporter{
		costs:     costs,
		uploader:  uploader,
		remoteDir: "reports",
		schedule:  DefaultSchedule,
		timeout:   2 * time.Minute,
		cron:      cron.New(),
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if _, err := cron.ParseStandard(e.schedule); err != nil {
		return nil, fmt.Errorf("invalid export schedule %q: %w", e.schedule, err)
	}

	return e, nil
}

// Start schedules the export
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	_, err := e.cron.AddFunc(e.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if _, err := e.RunOnce(ctx); err != nil {
			e.logger.Error("cost report export failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cost report export: %w", err)
	}
	e.cron.Start()
	e.running = true

	e.logger.Info("cost report exporter started",
		slog.String("schedule", e.schedule),
		slog.String("remote_dir", e.remoteDir))
	return nil
}

// Stop stops the schedule and waits for a running export to finish
func (e *Exporter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.running = false
	e.logger.Info("cost report exporter stopped")
}

// RunOnce builds the report for the last day and uploads it, returning the
// remote path written
func (e *Exporter) RunOnce(ctx context.Context) (string, error) {
	window := e.costs.GetCostSummary(ctx, models.PeriodDaily)

	var buf bytes.Buffer
	if err := WriteCostReport(&buf, window); err != nil {
		metrics.RecordReportExport("error")
		return "", err
	}

	remotePath := path.Join(e.remoteDir, ReportName(e.now()))
	if err := e.uploader.Upload(ctx, remotePath, &buf); err != nil {
		metrics.RecordReportExport("error")
		return "", fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}

	metrics.RecordReportExport("success")
	e.logger.Info("cost report exported",
		slog.String("path", remotePath),
		slog.Int("entities", len(window.PerEntityCost)),
		slog.String("total_usd", window.TotalCostUSD.StringFixed(2)))

	return remotePath, nil
}
