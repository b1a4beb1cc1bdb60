package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Gateway collaborator metrics
var (
	// GatewayCallsTotal counts gateway calls by operation and status
	// status is "success", "error" or "stale" (served from last-known cache)
	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_gateway_calls_total",
			Help: "Total number of gateway calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// GatewayResponseTime tracks gateway response times by operation
	GatewayResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwatch_gateway_response_time_seconds",
			Help:    "Response time of gateway calls by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	// GatewayUp is 1 when the last health check succeeded
	GatewayUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_gateway_up",
			Help: "Whether the gateway answered the last health check (1=up, 0=down)",
		},
	)

	// SamplesIngested counts cost samples newly persisted
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwatch_samples_ingested_total",
			Help: "Total number of cost samples persisted from the gateway",
		},
	)

	// CostAccrued tracks total cost ingested by provider
	CostAccrued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_cost_accrued_usd",
			Help: "Total cost ingested in USD by provider",
		},
		[]string{"provider"},
	)
)

// Analytics metrics
var (
	// BudgetAlerts counts budget breaches raised as alerts by scope, period and severity
	BudgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_budget_alerts_total",
			Help: "Total number of budget breaches raised as alerts by scope, period and severity",
		},
		[]string{"scope", "period", "severity"},
	)

	// AlertsCreated counts tracked alerts created by type and severity
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_alerts_created_total",
			Help: "Total number of tracked alerts created by type and severity",
		},
		[]string{"type", "severity"},
	)

	// AlertsDeduplicated counts createAlert calls collapsed into an existing alert
	AlertsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_alerts_deduplicated_total",
			Help: "Total number of alert creations collapsed by the dedup window",
		},
		[]string{"type"},
	)

	// AlertsActive tracks unacknowledged alerts
	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_alerts_active",
			Help: "Number of unacknowledged alerts",
		},
	)

	// ForecastVelocity is the latest daily spend velocity in USD
	ForecastVelocity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_forecast_velocity_usd_per_day",
			Help: "Latest computed mean spend per UTC day",
		},
	)

	// ForecastConfidence is the latest forecast confidence level (0-1)
	ForecastConfidence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_forecast_confidence",
			Help: "Latest computed forecast confidence level",
		},
	)

	// ErrorsRecorded counts ingested errors by classified type
	ErrorsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_errors_recorded_total",
			Help: "Total number of recorded errors by classified type",
		},
		[]string{"error_type"},
	)
)

// Realtime broadcast metrics
var (
	// RealtimeConnections tracks open live-update connections
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_realtime_connections",
			Help: "Number of open live-update connections",
		},
	)

	// RealtimeMessagesSent counts messages queued to clients by type
	RealtimeMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_realtime_messages_sent_total",
			Help: "Total number of live-update messages queued by type",
		},
		[]string{"type"},
	)

	// RealtimeMessagesDropped counts messages a slow client could not accept
	RealtimeMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_realtime_messages_dropped_total",
			Help: "Total number of live-update messages dropped because a client queue was full",
		},
		[]string{"type"},
	)

	// BroadcastDuration tracks how long each timer's recompute+fan-out takes
	BroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwatch_broadcast_duration_seconds",
			Help:    "Duration of a broadcast cycle by topic",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// ReportExports counts scheduled report uploads by status
	ReportExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_report_exports_total",
			Help: "Total number of scheduled cost report uploads by status",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGatewayCall records a gateway call and its latency
func RecordGatewayCall(operation, status string, duration time.Duration) {
	GatewayCallsTotal.WithLabelValues(operation, status).Inc()
	GatewayResponseTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetGatewayUp sets the gateway health gauge
func SetGatewayUp(up bool) {
	if up {
		GatewayUp.Set(1)
		return
	}
	GatewayUp.Set(0)
}

// RecordSampleIngested increments ingestion counters for one new sample
func RecordSampleIngested(provider string, amount float64) {
	SamplesIngested.Inc()
	CostAccrued.WithLabelValues(provider).Add(amount)
}

// RecordBudgetAlert counts a newly raised budget alert
func RecordBudgetAlert(scope, period, severity string) {
	BudgetAlerts.WithLabelValues(scope, period, severity).Inc()
}

// RecordAlertCreated increments the created alert counter
func RecordAlertCreated(alertType, severity string) {
	AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

// RecordAlertDeduplicated increments the dedup counter
func RecordAlertDeduplicated(alertType string) {
	AlertsDeduplicated.WithLabelValues(alertType).Inc()
}

// SetActiveAlerts sets the active alert gauge
func SetActiveAlerts(n int) {
	AlertsActive.Set(float64(n))
}

// SetForecast publishes the latest velocity and confidence
func SetForecast(velocity, confidence float64) {
	ForecastVelocity.Set(velocity)
	ForecastConfidence.Set(confidence)
}

// RecordErrorRecorded increments the error ingestion counter
func RecordErrorRecorded(errorType string) {
	ErrorsRecorded.WithLabelValues(errorType).Inc()
}

// SetRealtimeConnections sets the open connection gauge
func SetRealtimeConnections(n int) {
	RealtimeConnections.Set(float64(n))
}

// RecordMessageSent increments the sent counter for a message type
func RecordMessageSent(msgType string) {
	RealtimeMessagesSent.WithLabelValues(msgType).Inc()
}

// RecordMessageDropped increments the dropped counter for a message type
func RecordMessageDropped(msgType string) {
	RealtimeMessagesDropped.WithLabelValues(msgType).Inc()
}

// RecordBroadcast records how long a broadcast cycle took
func RecordBroadcast(topic string, duration time.Duration) {
	BroadcastDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordReportExport increments the export counter
func RecordReportExport(status string) {
	ReportExports.WithLabelValues(status).Inc()
}
