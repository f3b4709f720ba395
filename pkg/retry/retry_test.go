package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRateLimited = errors.New("rate limited")

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	t.Run("Should stop after MaxAttempts", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return errRateLimited
		})
		require.ErrorIs(t, err, errRateLimited)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should not retry errors rejected by RetryIf", func(t *testing.T) {
		cfg := fastConfig()
		cfg.RetryIf = func(err error) bool { return errors.Is(err, errRateLimited) }
		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			return errors.New("bad request")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should succeed on a later attempt", func(t *testing.T) {
		cfg := fastConfig()
		retries := 0
		cfg.OnRetry = func(int, error) { retries++ }
		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			if calls < 2 {
				return errRateLimited
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, retries)
	})

	t.Run("Should not retry a cancelled operation", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should honor a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, fastConfig(), func() error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}

func TestBackoff(t *testing.T) {
	t.Run("Should grow exponentially up to MaxDelay", func(t *testing.T) {
		cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

		assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1))
		assert.Equal(t, 200*time.Millisecond, cfg.Backoff(2))
		assert.Equal(t, 800*time.Millisecond, cfg.Backoff(4))
		assert.Equal(t, time.Second, cfg.Backoff(5))
	})

	t.Run("Should keep jitter within the fraction", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			d := jitter(time.Second, 0.1)
			assert.GreaterOrEqual(t, d, 900*time.Millisecond)
			assert.LessOrEqual(t, d, 1100*time.Millisecond)
		}
		assert.Equal(t, time.Second, jitter(time.Second, 0))
	})
}
