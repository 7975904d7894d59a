// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every failure surfaced to a caller is an AppError carrying a single human-readable message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal      = "INTERNAL_ERROR"
	CodeStorage       = "STORAGE_ERROR"
	CodeDataIntegrity = "DATA_INTEGRITY"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Contention on the period lock
	CodeLockHeld    = "LOCK_HELD"
	CodeLockTimeout = "LOCK_TIMEOUT"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"

	CodeRateLimited = "RATE_LIMITED"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (period, voucher number, field errors)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewLockHeld is returned when another submission holds the period lock.
// Callers should retry; nothing was written.
func NewLockHeld(period string) *AppError {
	return &AppError{
		Code:       CodeLockHeld,
		Message:    fmt.Sprintf("Ledger for period %s is busy with another submission. Please try again.", period),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"period": period},
	}
}

// NewLockTimeout is returned by waiting lock variants after their deadline passes.
func NewLockTimeout(period string, waited any) *AppError {
	return &AppError{
		Code:       CodeLockTimeout,
		Message:    fmt.Sprintf("Timed out waiting for the ledger lock of period %s. Possible deadlock.", period),
		HTTPStatus: http.StatusLocked,
		Details:    map[string]any{"period": period, "waited": waited},
	}
}

// NewDataIntegrity reports a malformed ledger. The operation is aborted, never repaired.
func NewDataIntegrity(message string) *AppError {
	return &AppError{
		Code:       CodeDataIntegrity,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewStorage wraps a blob store failure (network, auth, quota). Not retried.
func NewStorage(op string, err error) *AppError {
	return &AppError{
		Code:       CodeStorage,
		Message:    "Storage is unavailable",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"op": op},
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// NewRateLimited is returned when a caller submits faster than allowed.
func NewRateLimited(retryAfter string) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "Too many submissions. Please slow down.",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]any{"retry_after": retryAfter},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func hasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsLockHeld checks if error is CodeLockHeld
func IsLockHeld(err error) bool { return hasCode(err, CodeLockHeld) }

// IsLockTimeout checks if error is CodeLockTimeout
func IsLockTimeout(err error) bool { return hasCode(err, CodeLockTimeout) }

// IsContention reports whether the caller should simply retry later.
func IsContention(err error) bool { return IsLockHeld(err) || IsLockTimeout(err) }

// IsDataIntegrity checks if error is CodeDataIntegrity
func IsDataIntegrity(err error) bool { return hasCode(err, CodeDataIntegrity) }

// IsValidation checks if error is CodeValidation
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsStorage checks if error is CodeStorage
func IsStorage(err error) bool { return hasCode(err, CodeStorage) }
