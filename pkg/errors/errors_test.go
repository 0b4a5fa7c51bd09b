package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"roomrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Equal(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.True(t, errors.Is(err, originalErr))
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestNewUnknownTypeError(t *testing.T) {
	err := NewUnknownTypeError()
	assert.Equal(t, ErrCodeUnknownType, err.Code)
	assert.Equal(t, "unknown type", err.Message)
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("handler: %w", appErr)
	assert.Same(t, appErr, GetAppError(wrapped))

	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"room not found", domain.ErrRoomNotFound, ErrCodeRoomNotFound, http.StatusNotFound},
		{"no active stream", domain.ErrNoActiveStream, ErrCodeNoActiveStream, http.StatusConflict},
		{"not in room", domain.ErrNotInRoom, ErrCodeNotInRoom, http.StatusConflict},
		{"unauthorized", domain.ErrUnauthorized, ErrCodeUnauthorized, http.StatusForbidden},
		{"persistence", fmt.Errorf("%w: redis down", domain.ErrPersistenceFailure), ErrCodePersistenceFailure, http.StatusServiceUnavailable},
		{"user exists", domain.ErrUserExists, ErrCodeConflict, http.StatusConflict},
		{"bad credentials", domain.ErrInvalidCredentials, ErrCodeUnauthorized, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.True(t, errors.Is(appErr, tt.err))
		})
	}

	t.Run("passes app errors through", func(t *testing.T) {
		appErr := NewDecodeError(errors.New("bad json"))
		assert.Same(t, appErr, FromDomain(appErr))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, FromDomain(nil))
	})
}
