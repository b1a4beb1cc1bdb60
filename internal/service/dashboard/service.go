// Package dashboard composes the cost, forecast, error and alert services
// into the shapes served to API routes and live clients.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/internal/service/cost"
	"github.com/agentwatch/agentwatch/internal/service/forecast"
	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	// DefaultErrorSpikeThreshold is the number of unresolved errors in the
	// last hour that raises an error_spike alert
	DefaultErrorSpikeThreshold = 10

	errorSpikeWindow = time.Hour
)

// CostReader serves windowed cost reads
type CostReader interface {
	Samples(ctx context.Context, since time.Time) []models.CostSample
	GetCostSummary(ctx context.Context, period models.Period) models.CostWindow
	GetBudgetAlerts(ctx context.Context) []models.BudgetAlert
	MonthlyBudget() decimal.Decimal
}

// ErrorReader serves error statistics
type ErrorReader interface {
	Stats(ctx context.Context, hoursBack int) (models.ErrorStats, error)
	UnresolvedSince(ctx context.Context, since time.Time) (int, error)
}

// AlertEngine tracks alert lifecycle
type AlertEngine interface {
	CreateAlert(severity models.Severity, alertType models.AlertType, message, entityID string) (models.Alert, bool)
	GetActive() []models.Alert
}

// GatewaySource reads gateway state without failing
type GatewaySource interface {
	Entities(ctx context.Context) []models.Entity
	ResourceSnapshots(ctx context.Context, entities []models.Entity) map[string]models.ResourceSnapshot
	Health(ctx context.Context) models.HealthStatus
}

// Service is the read facade over all dashboard analytics
type Service struct {
	costs    CostReader
	errors   ErrorReader
	alerts   AlertEngine
	gateway  GatewaySource
	forecast *forecast.Engine
	logger   *slog.Logger

	errorSpikeThreshold int

	// For time mocking in tests
	now func() time.Time

	forecastMu   sync.RWMutex
	lastForecast *ForecastReport
}

// Option configures the service
type Option func(*Service)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithErrorSpikeThreshold sets the unresolved error count that raises an
// error_spike alert. Zero disables the alert.
func WithErrorSpikeThreshold(n int) Option {
	return func(s *Service) {
		s.errorSpikeThreshold = n
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// New creates the dashboard service
func New(costs CostReader, errors ErrorReader, alerts AlertEngine, gateway GatewaySource, opts ...Option) *Service {
	s := &Service{
		costs:               costs,
		errors:              errors,
		alerts:              alerts,
		gateway:             gateway,
		logger:              slog.Default(),
		errorSpikeThreshold: DefaultErrorSpikeThreshold,
		now:                 time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.forecast = forecast.New(forecast.WithTimeFunc(s.now))
	return s
}

// CostSummary aggregates the rolling window for period
func (s *Service) CostSummary(ctx context.Context, period models.Period) models.CostWindow {
	return s.costs.GetCostSummary(ctx, period)
}

// BudgetAlerts evaluates the budget and counts alerts by severity
func (s *Service) BudgetAlerts(ctx context.Context) BudgetAlertsReport {
	alerts := s.costs.GetBudgetAlerts(ctx)
	if alerts == nil {
		alerts = []models.BudgetAlert{}
	}
	critical, warning := cost.CountBySeverity(alerts)
	return BudgetAlertsReport{
		Alerts:        alerts,
		CriticalCount: critical,
		WarningCount:  warning,
	}
}

// Forecast projects spend from the month-to-date samples. If the samples
// cannot be read in time, the last computed forecast is served marked stale.
func (s *Service) Forecast(ctx context.Context) ForecastReport {
	now := s.now()
	month := forecast.MonthOf(now)

	samples := month.Filter(s.costs.Samples(ctx, month.Start))
	if ctx.Err() != nil {
		if last, ok := s.staleForecast(); ok {
			s.logger.Warn("forecast inputs unavailable, serving last result",
				slog.String("error", ctx.Err().Error()))
			return last
		}
	}

	result := s.forecast.GenerateForecast(samples)

	spend := decimal.Zero
	for _, sample := range samples {
		spend = spend.Add(sample.CostUSD)
	}
	spend = spend.Round(2)

	report := ForecastReport{
		ForecastResult: result,
		Current: CurrentSpend{
			Spend:           spend,
			DaysIntoMonth:   month.DayOfMonth,
			DaysLeftInMonth: month.DaysLeft(),
		},
		Budget: forecast.BudgetStatus(result, s.costs.MonthlyBudget(), spend),
	}

	s.forecastMu.Lock()
	s.lastForecast = &report
	s.forecastMu.Unlock()

	metrics.SetForecast(result.VelocityPerDay.InexactFloat64(), result.ConfidenceLevel.InexactFloat64())
	return report
}

func (s *Service) staleForecast() (ForecastReport, bool) {
	s.forecastMu.RLock()
	defer s.forecastMu.RUnlock()
	if s.lastForecast == nil {
		return ForecastReport{}, false
	}
	report := *s.lastForecast
	report.Stale = true
	return report, true
}

// ErrorStats summarizes errors over the last hoursBack hours
func (s *Service) ErrorStats(ctx context.Context, hoursBack int) (models.ErrorStats, error) {
	return s.errors.Stats(ctx, hoursBack)
}

// Costs is the cost slice pushed to live clients
func (s *Service) Costs(ctx context.Context) CostReport {
	return CostReport{
		Daily:  s.CostSummary(ctx, models.PeriodDaily),
		Budget: s.BudgetAlerts(ctx),
	}
}

// Resources is the resource slice pushed to live clients
func (s *Service) Resources(ctx context.Context) ResourceReport {
	agents := s.gateway.Entities(ctx)
	return ResourceReport{
		Gateway:   s.gateway.Health(ctx),
		Agents:    agents,
		Resources: s.gateway.ResourceSnapshots(ctx, agents),
	}
}

// ActiveAlerts returns unacknowledged alerts
func (s *Service) ActiveAlerts() []models.Alert {
	active := s.alerts.GetActive()
	if active == nil {
		return []models.Alert{}
	}
	return active
}

// EvaluateAlerts raises tracked alerts for budget breaches, error spikes and
// an unreachable gateway. It returns only alerts that were newly created;
// repeats inside the dedup window are absorbed by the alert engine.
func (s *Service) EvaluateAlerts(ctx context.Context) []models.Alert {
	var created []models.Alert

	raise := func(severity models.Severity, alertType models.AlertType, message, entityID string) bool {
		a, isNew := s.alerts.CreateAlert(severity, alertType, message, entityID)
		if isNew {
			created = append(created, a)
		}
		return isNew
	}

	for _, b := range s.costs.GetBudgetAlerts(ctx) {
		if raise(b.Severity, models.AlertTypeForBudget(b), b.Message, b.EntityID) {
			metrics.RecordBudgetAlert(string(b.Scope), string(b.Period), string(b.Severity))
		}
	}

	if s.errorSpikeThreshold > 0 {
		n, err := s.errors.UnresolvedSince(ctx, s.now().Add(-errorSpikeWindow))
		if err != nil {
			s.logger.Warn("failed to count recent errors",
				slog.String("error", err.Error()))
		} else if n >= s.errorSpikeThreshold {
			raise(models.SeverityWarning, models.AlertTypeErrorSpike,
				fmt.Sprintf("%d unresolved errors in the last hour", n), "")
		}
	}

	if health := s.gateway.Health(ctx); health.Status != models.GatewayUp {
		raise(models.SeverityCritical, models.AlertTypeGatewayDown, "Gateway is unreachable", "")
	}

	if len(created) > 0 {
		s.logger.Info("alerts raised", slog.Int("count", len(created)))
	}
	return created
}

// Snapshot gathers the full state sent to a newly connected client
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	resources := s.Resources(ctx)
	return Snapshot{
		Agents:    resources.Agents,
		Costs:     s.Costs(ctx),
		Forecast:  s.Forecast(ctx),
		Gateway:   resources.Gateway,
		Resources: resources.Resources,
		Alerts:    s.ActiveAlerts(),
	}
}
