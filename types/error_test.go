package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	t.Parallel()

	err := NewError(ErrNotFound, "memory ep_1 not found")
	require.Equal(t, "[NOT_FOUND] memory ep_1 not found", err.Error())

	wrapped := NewError(ErrStoreUnavailable, "query failed").
		WithCause(errors.New("connection reset")).
		WithRetryable(true)
	require.Contains(t, wrapped.Error(), "STORE_UNAVAILABLE")
	require.Contains(t, wrapped.Error(), "connection reset")
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewError(ErrEmbeddingFailure, "embed failed").WithCause(cause)
	require.ErrorIs(t, err, cause)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, IsRetryable(NewError(ErrStoreUnavailable, "x").WithRetryable(true)))
	require.False(t, IsRetryable(NewError(ErrDimensionMismatch, "x")))
	require.False(t, IsRetryable(errors.New("plain")))

	// Retryable marker survives wrapping.
	wrapped := fmt.Errorf("outer: %w", NewError(ErrEmbeddingFailure, "x").WithRetryable(true))
	require.True(t, IsRetryable(wrapped))
}

func TestGetErrorCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrBudgetViolation, GetErrorCode(NewError(ErrBudgetViolation, "x")))
	require.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	require.True(t, IsNotFound(NewError(ErrNotFound, "x")))
	require.False(t, IsNotFound(NewError(ErrInvalidInput, "x")))
}
