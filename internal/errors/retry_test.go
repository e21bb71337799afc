package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS02: Retry succeeds on transient error
func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice with transient errors then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return Timeout("store upsert", nil)
		}
		return nil
	}

	// When: retrying with default config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond // Speed up test

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails transiently
	attempts := 0
	fn := func() error {
		attempts++
		return StoreUnavailable("store down", nil)
	}

	// When: retrying with limited retries
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(context.Background(), cfg, fn)

	// Then: fails with wrapped error
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	// Given: a function that fails with a data error
	attempts := 0
	fn := func() error {
		attempts++
		return ParseError("malformed document", nil)
	}

	// When: retrying with a generous budget
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: no retry happened and the original error comes back unwrapped
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, CodeParseFailed, GetCode(err))
}

func TestRetry_PlainErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return errors.New("unclassified")
	}

	err := Retry(context.Background(), DefaultRetryConfig(), fn)

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a function that takes time and fails transiently
	fn := func() error {
		time.Sleep(100 * time.Millisecond)
		return Timeout("embed", nil)
	}

	// When: context is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 200 * time.Millisecond

	start := time.Now()
	err := Retry(ctx, cfg, fn)
	elapsed := time.Since(start)

	// Then: returns context error quickly
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRetry_RespectsContextDeadline(t *testing.T) {
	// Given: a context with deadline
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	fn := func() error {
		return Timeout("store", nil)
	}

	cfg := RetryConfig{
		MaxRetries:   10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	// When: retrying
	err := Retry(ctx, cfg, fn)

	// Then: fails with deadline error
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	// Given: a function that records timing
	var timestamps []time.Time
	attempts := 0
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		attempts++
		if attempts < 3 {
			return Timeout("store", nil)
		}
		return nil
	}

	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	// When: retrying
	err := Retry(context.Background(), cfg, fn)

	// Then: delays grow exponentially (50ms, 100ms)
	require.NoError(t, err)
	require.Len(t, timestamps, 3)

	gap1 := timestamps[1].Sub(timestamps[0])
	gap2 := timestamps[2].Sub(timestamps[1])

	assert.GreaterOrEqual(t, gap1, 50*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 100*time.Millisecond)
}

func TestStageRetryConfig_MatchesStageBudget(t *testing.T) {
	cfg := StageRetryConfig()

	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	// 0.5s * 4.0 = 2s second delay
	assert.Equal(t, 4.0, cfg.Multiplier)
}

func TestRetryWithResult_ReturnsValueOnSuccess(t *testing.T) {
	// Given: a function that fails once then returns a value
	attempts := 0
	fn := func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", EmbedUnavailable("warming up", nil)
		}
		return "embedded", nil
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond

	// When: retrying
	result, err := RetryWithResult(context.Background(), cfg, fn)

	// Then: value comes through
	require.NoError(t, err)
	assert.Equal(t, "embedded", result)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithResult_ReturnsZeroValueOnExhaustion(t *testing.T) {
	fn := func() (int, error) {
		return 42, StoreUnavailable("still down", nil)
	}

	cfg := RetryConfig{
		MaxRetries:   1,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}

	result, err := RetryWithResult(context.Background(), cfg, fn)

	assert.Error(t, err)
	assert.Equal(t, 0, result)
	assert.Contains(t, err.Error(), "after 1 retries")
}
