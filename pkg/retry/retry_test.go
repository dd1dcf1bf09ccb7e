package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "igharvest/pkg/errors"
	"igharvest/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
		delays[d] = true
	}
	assert.Greater(t, len(delays), 1)
}

func TestWithRetriesDoublesFromBase(t *testing.T) {
	cfg := WithRetries(3, time.Second, nil)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Backoff.NextDelay(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff.NextDelay(2))
	assert.Equal(t, 4*time.Second, cfg.Backoff.NextDelay(3))

	assert.Equal(t, 1, WithRetries(-2, time.Second, nil).MaxAttempts)
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     AlwaysRetry,
		OnRetry:     func(attempt int, err error, d time.Duration) { retried = append(retried, attempt) },
	}

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, cfg)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	var retried int
	tl := logger.NewTestLogger()
	cause := errors.New("persistent error")
	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     AlwaysRetry,
		OnRetry:     func(int, error, time.Duration) { retried++ },
		Logger:      tl,
	}

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return cause
	}, cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retried, "no wait after the final attempt")
	assert.True(t, tl.HasMessage("max retry attempts exceeded"))
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authErr := &errs.Error{Type: errs.ErrorTypeAuth, Message: "authentication required", Code: 401}

	err := Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return authErr
	}, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
	})

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("retry me")
	}, &Config{
		MaxAttempts: 10,
		Backoff:     &ConstantBackoff{Delay: time.Second},
		RetryIf:     AlwaysRetry,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &errs.Error{Type: errs.ErrorTypeRateLimit}, true},
		{"network", &errs.Error{Type: errs.ErrorTypeNetwork}, true},
		{"not found", &errs.Error{Type: errs.ErrorTypeNotFound}, false},
		{"challenge", errs.ErrChallengeRequired, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"unknown", errors.New("eof"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryIf(tt.err))
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("temporary error")
		}
		return "success", nil
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     AlwaysRetry,
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 2, attempts)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Wait(ctx, 0), context.Canceled)
}
