package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	backoffs := []time.Duration{}
	p := Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			backoffs = append(backoffs, backoff)
		},
	}
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Backoff doubles between attempts.
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, backoffs)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return fmt.Errorf("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDoPermanentShortCircuits(t *testing.T) {
	cause := fmt.Errorf("bad credentials")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func() error {
		calls++
		return &Permanent{Err: cause}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, cause, err)
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{MaxAttempts: 5, InitialBackoff: time.Hour}, func() error {
		cancel()
		return fmt.Errorf("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
