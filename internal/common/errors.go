package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API callers.
const (
	CodeValidation   = "VALIDATION"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeTransport    = "TRANSPORT"
	CodeDecode       = "DECODE_FAILURE"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL"
	CodeConfig       = "CONFIG_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
	// Status carries the draft's current lifecycle state on conflicts.
	Status string
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("state conflict")
	ErrTransport    = errors.New("transport failure")
	ErrDecode       = errors.New("decode failure")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NewValidationError(message string) *AppError {
	return NewAppError(CodeValidation, message, ErrValidation)
}

func NewValidationErrorf(format string, args ...any) *AppError {
	return NewValidationError(fmt.Sprintf(format, args...))
}

func NewNotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, message, ErrNotFound)
}

// NewConflictError reports an operation that is not allowed in the current state.
func NewConflictError(message, currentStatus string) *AppError {
	e := NewAppError(CodeConflict, message, ErrConflict)
	e.Status = currentStatus
	return e
}

// NewTransportError wraps a failed call to a remote collaborator.
func NewTransportError(message string, cause error) *AppError {
	if cause == nil {
		return NewAppError(CodeTransport, message, ErrTransport)
	}
	return NewAppError(CodeTransport, message, fmt.Errorf("%w: %w", ErrTransport, cause))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorCode returns the API code of err, defaulting to INTERNAL.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	}
	return CodeInternal
}

// ConflictStatus extracts the current status attached to a conflict error.
func ConflictStatus(err error) (string, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == CodeConflict && appErr.Status != "" {
		return appErr.Status, true
	}
	return "", false
}

// HTTPStatus maps an error onto the response status code.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeValidation, CodeConfig:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTransport:
		return http.StatusBadGateway
	case CodeUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// FromHTTPStatus rebuilds a typed error from an API error response.
func FromHTTPStatus(status int, code, message, currentStatus string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusBadRequest || code == CodeValidation:
		return NewValidationError(message)
	case status == http.StatusNotFound:
		return NewNotFoundError(message)
	case status == http.StatusConflict:
		return NewConflictError(message, currentStatus)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAppError(CodeUnauthorized, message, ErrUnauthorized)
	}
	return NewTransportError(fmt.Sprintf("status %d: %s", status, message), nil)
}
