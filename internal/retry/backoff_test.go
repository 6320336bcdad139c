package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("database is locked")

func fastBackoff(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		maxAttempts  int
		failures     int
		wantAttempts int
		wantErr      bool
	}{
		{"first attempt succeeds", 3, 0, 1, false},
		{"succeeds after retries", 3, 2, 3, false},
		{"gives up after max attempts", 3, 5, 3, true},
		{"single attempt", 1, 1, 1, true},
		{"zero attempts still runs once", 0, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(fastBackoff(tt.maxAttempts))

			attempts := 0
			err := b.Retry(context.Background(), func() error {
				attempts++
				if attempts <= tt.failures {
					return errTransient
				}
				return nil
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				assert.ErrorIs(t, err, errTransient)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryWithPredicate_StopsOnPermanentError(t *testing.T) {
	b := NewBackoff(fastBackoff(5))
	permanent := errors.New("no such table")

	attempts := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return errTransient
		}
		return permanent
	}, func(err error) bool { return errors.Is(err, errTransient) })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 2, attempts)
}

func TestRetry_OnRetryHook(t *testing.T) {
	cfg := fastBackoff(3)
	var seen []int
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		seen = append(seen, attempt)
		assert.ErrorIs(t, err, errTransient)
		assert.Positive(t, delay)
	}

	err := NewBackoff(cfg).Retry(context.Background(), func() error { return errTransient })
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen, "no hook after the final attempt")
}

func TestRetry_ContextCancelled(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Retry(ctx, func() error {
			attempts++
			return errTransient
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.LessOrEqual(t, attempts, 1)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancellation")
	}
}

func TestDelay(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5), "capped at MaxDelay")
	assert.Equal(t, time.Second, b.Delay(60))
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	})

	for i := 0; i < 200; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
	for i := 0; i < 200; i++ {
		assert.LessOrEqual(t, b.Delay(10), time.Second)
	}
}

func TestNewBackoff_Normalizes(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 0.5})
	assert.Equal(t, 1, b.config.MaxAttempts)
	assert.Equal(t, 1.0, b.config.Multiplier)
	assert.Equal(t, time.Second, b.config.MaxDelay)
}

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
	assert.LessOrEqual(t, cfg.InitialDelay, cfg.MaxDelay)
}
