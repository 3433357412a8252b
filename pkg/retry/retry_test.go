package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moltlabs/dispenser/pkg/retry"
)

type statusErr int

func (e statusErr) Error() string   { return "http error" }
func (e statusErr) StatusCode() int { return int(e) }

func fastConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestDispenser_Retry_Do(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("succeeds on a later attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := retry.Do(ctx, fastConfig(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := retry.Do(ctx, fastConfig(), func() error {
			attempts++
			return errors.New("timeout")
		})
		require.Error(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("non-retryable errors return immediately", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		rejection := errors.New("already distributed")
		err := retry.Do(ctx, fastConfig(), func() error {
			attempts++
			return rejection
		})
		require.ErrorIs(t, err, rejection)
		require.Equal(t, 1, attempts)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := retry.Do(ctx, fastConfig(), func() error {
			attempts++
			cancel()
			return errors.New("timeout")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, attempts)
	})
}

func TestDispenser_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, retry.IsRetryable(nil))
	require.False(t, retry.IsRetryable(context.Canceled))
	require.False(t, retry.IsRetryable(context.DeadlineExceeded))
	require.False(t, retry.IsRetryable(errors.New("unauthorized")))

	require.True(t, retry.IsRetryable(errors.New("connection reset by peer")))
	require.True(t, retry.IsRetryable(errors.New("Blockhash not found")))
	require.True(t, retry.IsRetryable(errors.New("node is behind by 150 slots")))

	require.True(t, retry.IsRetryable(statusErr(503)))
	require.True(t, retry.IsRetryable(statusErr(429)))
	require.False(t, retry.IsRetryable(statusErr(409)))
	require.False(t, retry.IsRetryable(statusErr(403)))
}
