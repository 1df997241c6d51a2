package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes used across all packages
const (
	// Generic errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeStorageFailed     ErrorCode = "STORAGE_FAILED"

	// User errors
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"

	// 2FA errors
	ErrCode2FARequired ErrorCode = "TWO_FA_REQUIRED"
	ErrCode2FAInvalid  ErrorCode = "TWO_FA_INVALID"
	ErrCode2FAExpired  ErrorCode = "TWO_FA_EXPIRED"

	// Validation errors
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidFormat   ErrorCode = "INVALID_FORMAT"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeMissingRequired, ErrCodeInvalidFormat:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCode2FARequired, ErrCode2FAInvalid, ErrCode2FAExpired:
		return http.StatusUnauthorized

	// 404 Not Found
	case ErrCodeNotFound, ErrCodeUserNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeConflict:
		return http.StatusConflict

	// 429 Too Many Requests
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 500 Internal Server Error (default)
	case ErrCodeInternal, ErrCodeStorageFailed:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for frequently used errors

// NotFound creates a "not found" error
func NotFound(resourceType, identifier string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// MissingRequired creates a "missing required" error
func MissingRequired(field string) *Error {
	return Newf(ErrCodeMissingRequired, "%s is required", field)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// StorageFailed wraps a persistence failure. Failing to record a security
// state change must abort the current request, so these map to 500.
func StorageFailed(err error, message string) *Error {
	return Wrap(err, ErrCodeStorageFailed, message)
}

// RateLimitExceeded creates a "rate limit exceeded" error
func RateLimitExceeded(retryAfter string) *Error {
	err := New(ErrCodeRateLimitExceeded, "too many attempts, please try again later")
	if retryAfter != "" {
		err.WithDetail("retry_after", retryAfter)
	}
	return err
}
