package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/agentwatch/agentwatch/internal/logging"
	"github.com/agentwatch/agentwatch/internal/service/errtrack"
	"github.com/agentwatch/agentwatch/internal/storage"
	"github.com/agentwatch/agentwatch/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordErrorRequest reports an error observed by an agent
type RecordErrorRequest struct {
	EntityID  string `json:"entityId" binding:"required,max=128"`
	Code      string `json:"code" binding:"max=64"`
	Message   string `json:"message" binding:"max=4096"`
	RequestID string `json:"requestId" binding:"max=128"`
}

// ResolveErrorRequest closes an error record
type ResolveErrorRequest struct {
	Notes string `json:"notes" binding:"max=2000"`
}

// AcknowledgeAlertRequest acknowledges an alert
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy" binding:"required,max=128"`
}

// ListErrorsQuery defines query parameters for listing errors
type ListErrorsQuery struct {
	Hours      int    `form:"hours" binding:"min=0,max=8760"`
	EntityID   string `form:"entity_id"`
	ErrorType  string `form:"error_type"`
	Unresolved bool   `form:"unresolved"`
	Limit      int    `form:"limit" binding:"min=0,max=1000"`
}

// ErrorListResponse wraps a list of error records
type ErrorListResponse struct {
	Errors []*models.ErrorRecord `json:"errors"`
	Count  int                   `json:"count"`
}

// AlertListResponse wraps a list of alerts
type AlertListResponse struct {
	Alerts []models.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.broadcaster != nil {
		response.Services["realtime"] = strconv.Itoa(s.broadcaster.Hub().Count()) + " connections"
	}

	// Return 503 if not ready (e.g., before the first gateway poll)
	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Cost handlers

func (s *Server) handleGetCostSummary(c *gin.Context) {
	period := models.PeriodDaily
	if raw := c.Query("period"); raw != "" {
		p, err := models.ParsePeriod(raw)
		if err != nil {
			s.badRequest(c, err.Error())
			return
		}
		period = p
	}

	c.JSON(http.StatusOK, s.dashboard.CostSummary(c.Request.Context(), period))
}

func (s *Server) handleGetBudgetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.dashboard.BudgetAlerts(c.Request.Context()))
}

func (s *Server) handleGetForecast(c *gin.Context) {
	c.JSON(http.StatusOK, s.dashboard.Forecast(c.Request.Context()))
}

// Error handlers

func (s *Server) handleGetErrorStats(c *gin.Context) {
	hours, ok := s.hoursParam(c)
	if !ok {
		return
	}

	stats, err := s.dashboard.ErrorStats(c.Request.Context(), hours)
	if err != nil {
		s.internalError(c, "failed to compute error stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListErrors(c *gin.Context) {
	var query ListErrorsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		s.badRequest(c, sanitizeValidationError(err))
		return
	}

	filter := storage.ErrorRecordFilter{
		EntityID:   query.EntityID,
		ErrorType:  models.ErrorType(query.ErrorType),
		Unresolved: query.Unresolved,
		Limit:      query.Limit,
	}

	records, err := s.errors.List(c.Request.Context(), query.Hours, filter)
	if err != nil {
		s.internalError(c, "failed to list errors", err)
		return
	}
	if records == nil {
		records = []*models.ErrorRecord{}
	}

	c.JSON(http.StatusOK, ErrorListResponse{Errors: records, Count: len(records)})
}

func (s *Server) handleRecordError(c *gin.Context) {
	var req RecordErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, sanitizeValidationError(err))
		return
	}

	rec, err := s.errors.Record(c.Request.Context(), errtrack.RecordInput{
		EntityID:  req.EntityID,
		Code:      req.Code,
		Message:   req.Message,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.errtrackError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleGetError(c *gin.Context) {
	rec, err := s.errors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.errtrackError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRetryError(c *gin.Context) {
	rec, err := s.errors.IncrementRetryCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.errtrackError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleResolveError(c *gin.Context) {
	var req ResolveErrorRequest
	// Body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, sanitizeValidationError(err))
			return
		}
	}

	rec, err := s.errors.MarkResolved(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		s.errtrackError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Alert handlers

func (s *Server) handleListAlerts(c *gin.Context) {
	var alerts []models.Alert
	if c.Query("all") == "true" {
		alerts = s.alerts.All()
	} else {
		alerts = s.alerts.GetActive()
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	c.JSON(http.StatusOK, AlertListResponse{Alerts: alerts, Count: len(alerts)})
}

func (s *Server) handleAcknowledgeAlert(c *gin.Context) {
	var req AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, sanitizeValidationError(err))
		return
	}

	id := c.Param("id")
	if !s.alerts.Acknowledge(id, req.AcknowledgedBy) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     fmt.Sprintf("alert not found: %s", id),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	logging.Audit(c.Request.Context(), "acknowledge_alert",
		"alert_id", id,
		"acknowledged_by", req.AcknowledgedBy)

	a, _ := s.alerts.Get(id)
	c.JSON(http.StatusOK, a)
}

// Helpers

func (s *Server) hoursParam(c *gin.Context) (int, bool) {
	raw := c.Query("hours")
	if raw == "" {
		return 0, true
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		s.badRequest(c, fmt.Sprintf("invalid hours: must be a valid integer, got %q", raw))
		return 0, false
	}
	if hours < 0 {
		s.badRequest(c, fmt.Sprintf("invalid hours: must be non-negative, got %d", hours))
		return 0, false
	}
	return hours, true
}

func (s *Server) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     message,
		RequestID: c.GetString("request_id"),
	})
}

func (s *Server) internalError(c *gin.Context, message string, err error) {
	logging.Logger(c.Request.Context()).Error(message, "error", err.Error())
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:     message,
		RequestID: c.GetString("request_id"),
	})
}

func (s *Server) errtrackError(c *gin.Context, err error) {
	var notFound *errtrack.RecordNotFoundError
	var invalid *errtrack.InvalidRecordError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     err.Error(),
			RequestID: c.GetString("request_id"),
		})
	case errors.As(err, &invalid):
		s.badRequest(c, err.Error())
	default:
		s.internalError(c, "error tracking failed", err)
	}
}

// sanitizeValidationError converts internal field names to JSON field names
// in validation error messages
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		jsonFieldName := toCamelCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", jsonFieldName))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", jsonFieldName, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", jsonFieldName, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", jsonFieldName, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toCamelCase converts a Go field name to its camelCase JSON name
func toCamelCase(s string) string {
	fieldMappings := map[string]string{
		"EntityID":  "entityId",
		"RequestID": "requestId",
	}
	if mapped, ok := fieldMappings[s]; ok {
		return mapped
	}
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}
