package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorString(t *testing.T) {
	err := NewError(ErrRateLimited, "too many requests")
	assert.Equal(t, "[RATE_LIMITED] too many requests", err.Error())

	wrapped := NewError(ErrAllProvidersFailed, "all providers failed").
		WithCause(fmt.Errorf("upstream 503"))
	assert.Contains(t, wrapped.Error(), "ALL_PROVIDERS_FAILED")
	assert.Contains(t, wrapped.Error(), "upstream 503")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("credential rejected")
	err := NewError(ErrAuthentication, "auth failed").WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	var typed *Error
	assert.True(t, errors.As(err, &typed))
	assert.Equal(t, ErrAuthentication, typed.Code)
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrCloudAI, "boom").
		WithHTTPStatus(503).
		WithRetryable(true).
		WithProvider("azure_vision")

	assert.Equal(t, 503, err.HTTPStatus)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "azure_vision", err.Provider)
}

func TestGetErrorCode_NonTyped(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
