package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the gateway client
var (
	ErrRateLimited     = errors.New("gateway rate limit exceeded")
	ErrAuth            = errors.New("gateway authentication failed")
	ErrNotFound        = errors.New("gateway resource not found")
	ErrUnavailable     = errors.New("gateway unavailable")
	ErrInvalidResponse = errors.New("invalid gateway response")
)

// GatewayError wraps an error with gateway call context
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Operation, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(operation string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// IsRateLimitError checks if the error is a rate limit error
func IsRateLimitError(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsAuthError checks if the error is an authentication error
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusForbidden
	}
	return false
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	if IsRateLimitError(err) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode >= 500 && ge.StatusCode < 600
	}
	return false
}
