package models

import (
	"fmt"
	"net/http"
	"time"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeParse           = "PARSE_FAILED"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInternal        = "INTERNAL_ERROR"

	// Upstream action API failures.
	ErrCodeUpstreamRateLimited = "UPSTREAM_RATE_LIMITED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PicketError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type PicketError struct {
	Code    string
	Message string
	Err     error // wrapped original error

	// RetryAfter is set for upstream rate limiting.
	RetryAfter time.Duration
}

func (e *PicketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PicketError) Unwrap() error {
	return e.Err
}

// NewPicketError creates a new PicketError.
func NewPicketError(code, message string, err error) *PicketError {
	return &PicketError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *PicketError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// HTTPStatusForCode maps an error code to the HTTP status returned by the API.
func HTTPStatusForCode(code string) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeParse:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeFetchFailed, ErrCodeNavigation, ErrCodeUpstreamRateLimited, ErrCodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
