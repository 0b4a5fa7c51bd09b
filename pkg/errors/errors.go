package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"roomrelay/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Relay protocol codes, carried in websocket error frames.
	ErrCodeDecode             ErrorCode = "DECODE_ERROR"
	ErrCodeUnknownType        ErrorCode = "UNKNOWN_TYPE"
	ErrCodeRoomNotFound       ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeNoActiveStream     ErrorCode = "NO_ACTIVE_STREAM"
	ErrCodeNotInRoom          ErrorCode = "NOT_IN_ROOM"
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

func NewDecodeError(err error) *AppError {
	return WrapError(err, ErrCodeDecode, "malformed frame", http.StatusBadRequest)
}

func NewUnknownTypeError() *AppError {
	return NewAppError(ErrCodeUnknownType, "unknown type", http.StatusBadRequest)
}

// FromDomain maps a relay domain error to an AppError. Errors that are
// already AppErrors are returned as is; anything unrecognized becomes an
// internal error.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrRoomNotFound):
		return WrapError(err, ErrCodeRoomNotFound, "room not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrNoActiveStream):
		return WrapError(err, ErrCodeNoActiveStream, "room has no active stream", http.StatusConflict)
	case stderrors.Is(err, domain.ErrNotInRoom):
		return WrapError(err, ErrCodeNotInRoom, "connection is not in a room", http.StatusConflict)
	case stderrors.Is(err, domain.ErrUnauthorized):
		return WrapError(err, ErrCodeUnauthorized, "not allowed for this connection", http.StatusForbidden)
	case stderrors.Is(err, domain.ErrPersistenceFailure):
		return WrapError(err, ErrCodePersistenceFailure, "comment was not persisted", http.StatusServiceUnavailable)
	case stderrors.Is(err, domain.ErrRoomExists):
		return WrapError(err, ErrCodeConflict, "room already exists", http.StatusConflict)
	case stderrors.Is(err, domain.ErrAlreadyBound):
		return WrapError(err, ErrCodeConflict, "connection is already bound to a room", http.StatusConflict)
	case stderrors.Is(err, domain.ErrUserExists):
		return WrapError(err, ErrCodeConflict, "user already exists", http.StatusConflict)
	case stderrors.Is(err, domain.ErrUserNotFound):
		return WrapError(err, ErrCodeNotFound, "user not found", http.StatusNotFound)
	case stderrors.Is(err, domain.ErrInvalidCredentials):
		return WrapError(err, ErrCodeUnauthorized, "invalid credentials", http.StatusUnauthorized)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
