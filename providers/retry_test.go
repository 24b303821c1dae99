package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wsyeabsera/clear-ai-sub003/types"
)

func newTestRetryer(t *testing.T, attempts int) (*Retryer, *[]time.Duration) {
	t.Helper()
	r := NewRetryer(RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, zap.NewNop())
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryer_RetriesTransient(t *testing.T) {
	t.Parallel()

	r, slept := newTestRetryer(t, 3)

	calls := 0
	err := r.Do(context.Background(), "embed", func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrEmbeddingFailure, "timeout").WithRetryable(true)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	// Exponential backoff: 100ms then 200ms.
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestRetryer_FailsFastOnNonRetryable(t *testing.T) {
	t.Parallel()

	r, slept := newTestRetryer(t, 3)

	calls := 0
	err := r.Do(context.Background(), "query", func() error {
		calls++
		return types.NewError(types.ErrDimensionMismatch, "got 768 want 1536")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, *slept)
	require.Equal(t, types.ErrDimensionMismatch, types.GetErrorCode(err))
}

func TestRetryer_Exhaustion(t *testing.T) {
	t.Parallel()

	r, _ := newTestRetryer(t, 3)

	calls := 0
	transient := types.NewError(types.ErrStoreUnavailable, "reset").WithRetryable(true)
	err := r.Do(context.Background(), "search", func() error {
		calls++
		return transient
	})
	require.Equal(t, 3, calls)
	require.ErrorIs(t, err, transient)
}

func TestRetryer_ContextCancelled(t *testing.T) {
	t.Parallel()

	r := NewRetryer(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, "embed", func() error {
		calls++
		cancel()
		return types.NewError(types.ErrEmbeddingFailure, "x").WithRetryable(true)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryer_PlainErrorsNotRetried(t *testing.T) {
	t.Parallel()

	r, _ := newTestRetryer(t, 3)
	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errors.New("plain failure")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
