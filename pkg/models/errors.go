package models

import "time"

// ErrorType is the fixed taxonomy for classified gateway/agent errors
type ErrorType string

const (
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeAuth         ErrorType = "auth_error"
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	ErrorTypeServer       ErrorType = "server_error"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConnection   ErrorType = "connection_error"
	ErrorTypeDNS          ErrorType = "dns_error"
	ErrorTypeAPI          ErrorType = "api_error"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// AllErrorTypes lists every ErrorType in classification precedence order
var AllErrorTypes = []ErrorType{
	ErrorTypeRateLimit,
	ErrorTypeAuth,
	ErrorTypeInvalidInput,
	ErrorTypeServer,
	ErrorTypeTimeout,
	ErrorTypeNotFound,
	ErrorTypeConnection,
	ErrorTypeDNS,
	ErrorTypeAPI,
	ErrorTypeUnknown,
}

// ErrorRecord is a single observed error and its resolution state
type ErrorRecord struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	EntityID        string     `json:"entityId"`
	ErrorType       ErrorType  `json:"errorType"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	Message         string     `json:"message"`
	RequestID       string     `json:"requestId,omitempty"`
	RetryCount      int        `json:"retryCount"`
	Resolved        bool       `json:"resolved"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// ErrorStats summarizes errors over a look-back period
type ErrorStats struct {
	TotalErrors           int               `json:"totalErrors"`
	Resolved              int               `json:"resolved"`
	Unresolved            int               `json:"unresolved"`
	ErrorTypes            map[ErrorType]int `json:"errorTypes"`
	AvgRetries            float64           `json:"avgRetries"`
	AvgResolutionTimeMs   int64             `json:"avgResolutionTimeMs"`
	ResolutionRatePercent float64           `json:"resolutionRatePercent"`
}
