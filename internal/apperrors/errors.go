// Package apperrors defines the typed errors handlers return and how they map
// onto HTTP status codes and the error envelope.
package apperrors

import (
	"errors"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeScheduleNotFound  ErrorCode = "SCHEDULE_NOT_FOUND"
	ErrorCodeInvalidSchedule   ErrorCode = "INVALID_SCHEDULE"
	ErrorCodeSoundNotFound     ErrorCode = "SOUND_NOT_FOUND"
	ErrorCodeInvalidSound      ErrorCode = "INVALID_SOUND"
	ErrorCodeDeviceBusy        ErrorCode = "DEVICE_BUSY"
	ErrorCodeDeviceOffline     ErrorCode = "DEVICE_OFFLINE"
	ErrorCodeLibraryEmpty      ErrorCode = "LIBRARY_EMPTY"
	ErrorCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
)

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	if err.StatusCode >= 400 && err.StatusCode < 500 {
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusBadRequest, details)
}

// NewNotFoundError reports a missing record; idField names the id in details.
func NewNotFoundError(code ErrorCode, message, idField, id string) *AppError {
	return NewAppError(code, message, http.StatusNotFound, map[string]any{idField: id})
}

func NewConflictError(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, http.StatusConflict, details)
}

// NewUnavailableError reports a dependency the request needs but cannot reach.
func NewUnavailableError(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, http.StatusServiceUnavailable, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil)
}

// EnsureAppError converts an arbitrary error into an AppError. Wrapped
// AppErrors keep their code and status.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
