package alert

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentwatch/agentwatch/internal/metrics"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// DefaultDedupWindow collapses repeated alerts for the same key
const DefaultDedupWindow = 60 * time.Second

type alertKey struct {
	alertType models.AlertType
	entityID  string
}

// Engine tracks alert lifecycle: creation with deduplication, then
// acknowledgement. All state is guarded by a single mutex so the dedup
// check and the insert are one atomic step.
type Engine struct {
	mu     sync.Mutex
	alerts map[string]*models.Alert
	latest map[alertKey]string

	dedupWindow time.Duration
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// Option configures the engine
type Option func(*Engine)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDedupWindow sets the deduplication window
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.dedupWindow = d
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(e *Engine) {
		e.now = fn
	}
}

// New creates an alert engine
func New(opts ...Option) *Engine {
	e := &Engine{
		alerts:      make(map[string]*models.Alert),
		latest:      make(map[alertKey]string),
		dedupWindow: DefaultDedupWindow,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateAlert records a new alert unless one with the same type and entity
// was created within the dedup window, in which case that alert is returned
// unchanged. The bool reports whether a new alert was created.
func (e *Engine) CreateAlert(severity models.Severity, alertType models.AlertType, message, entityID string) (models.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	key := alertKey{alertType: alertType, entityID: entityID}

	if id, ok := e.latest[key]; ok {
		if existing, ok := e.alerts[id]; ok && now.Sub(existing.CreatedAt) < e.dedupWindow {
			metrics.RecordAlertDeduplicated(string(alertType))
			return copyAlert(existing), false
		}
	}

	a := &models.Alert{
		ID:        e.newID(),
		CreatedAt: now,
		Severity:  severity,
		Type:      alertType,
		EntityID:  entityID,
		Message:   message,
	}
	e.alerts[a.ID] = a
	e.latest[key] = a.ID

	metrics.RecordAlertCreated(string(alertType), string(severity))
	metrics.SetActiveAlerts(e.activeCountLocked())

	e.logger.Warn("alert created",
		slog.String("alert_id", a.ID),
		slog.String("type", string(alertType)),
		slog.String("severity", string(severity)),
		slog.String("entity_id", entityID),
		slog.String("message", message))

	return copyAlert(a), true
}

// Acknowledge marks an alert as seen. It reports false only when the alert
// does not exist; acknowledging twice keeps the first acknowledgement.
func (e *Engine) Acknowledge(id, by string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.alerts[id]
	if !ok {
		return false
	}
	if a.Acknowledged {
		return true
	}

	at := e.now()
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by

	metrics.SetActiveAlerts(e.activeCountLocked())

	e.logger.Info("alert acknowledged",
		slog.String("alert_id", id),
		slog.String("by", by))

	return true
}

// Get returns a single alert
func (e *Engine) Get(id string) (models.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return copyAlert(a), true
}

// GetActive returns unacknowledged alerts, oldest first
func (e *Engine) GetActive() []models.Alert {
	return e.list(func(a *models.Alert) bool { return !a.Acknowledged })
}

// All returns every tracked alert, oldest first
func (e *Engine) All() []models.Alert {
	return e.list(func(*models.Alert) bool { return true })
}

func (e *Engine) list(keep func(*models.Alert) bool) []models.Alert {
	e.mu.Lock()
	out := make([]models.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ClearOldAlerts deletes acknowledged alerts older than maxAge and returns
// how many were removed. Unacknowledged alerts are kept regardless of age.
func (e *Engine) ClearOldAlerts(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-maxAge)
	removed := 0
	for id, a := range e.alerts {
		if !a.Acknowledged || !a.CreatedAt.Before(cutoff) {
			continue
		}
		delete(e.alerts, id)
		key := alertKey{alertType: a.Type, entityID: a.EntityID}
		if e.latest[key] == id {
			delete(e.latest, key)
		}
		removed++
	}
	return removed
}

func (e *Engine) activeCountLocked() int {
	n := 0
	for _, a := range e.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

func copyAlert(a *models.Alert) models.Alert {
	cp := *a
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		cp.AcknowledgedAt = &at
	}
	return cp
}
