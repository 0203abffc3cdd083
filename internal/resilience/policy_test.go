package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	p := DefaultPolicy("scraper", "status")
	p.NetworkBase = time.Millisecond
	p.ResetBase = 2 * time.Millisecond
	p.RateLimitBase = 3 * time.Millisecond
	p.ServerBase = time.Millisecond
	p.MaxDelay = 50 * time.Millisecond
	return p
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy("scraper", "status")

	timeout := errors.New("i/o timeout")
	reset := fmt.Errorf("read: %w", syscall.ECONNRESET)
	limited := &StatusError{StatusCode: 429}
	server := &StatusError{StatusCode: 502}

	assert.Equal(t, time.Second, p.Delay(1, timeout))
	assert.Equal(t, 2*time.Second, p.Delay(2, timeout))
	assert.Equal(t, 3*time.Second, p.Delay(1, reset))
	assert.Equal(t, 6*time.Second, p.Delay(2, reset))
	assert.Greater(t, p.Delay(1, reset), p.Delay(1, timeout))
	assert.Equal(t, 5*time.Second, p.Delay(1, limited))
	assert.Equal(t, 10*time.Second, p.Delay(2, limited))
	assert.Equal(t, time.Second, p.Delay(1, server))
}

func TestPolicy_DelayHonorsRetryAfter(t *testing.T) {
	p := DefaultPolicy("scraper", "status")
	err := &StatusError{StatusCode: 429, RetryAfter: 20 * time.Second}
	assert.Equal(t, 20*time.Second, p.Delay(1, err))
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := DefaultPolicy("scraper", "status")
	p.MaxDelay = 4 * time.Second
	assert.Equal(t, 4*time.Second, p.Delay(5, &StatusError{StatusCode: 429}))
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	val, err := Execute(context.Background(), fastPolicy(), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{StatusCode: 503}
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustedReturnsClassified(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, &StatusError{StatusCode: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryRateLimited, ce.Category)
	assert.Equal(t, 3, ce.Attempts)
	assert.Contains(t, err.Error(), "rate limit exceeded, wait and retry")
}

func TestExecute_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	err := ExecuteErr(context.Background(), fastPolicy(), func(_ context.Context) error {
		calls++
		return &StatusError{StatusCode: 400, Body: "bad query"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryClient, ce.Category)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestExecute_ZeroRetries(t *testing.T) {
	p := fastPolicy()
	p.MaxRetries = 0
	calls := 0
	_ = ExecuteErr(context.Background(), p, func(_ context.Context) error {
		calls++
		return &StatusError{StatusCode: 500}
	})
	assert.Equal(t, 1, calls)
}

func TestExecute_CustomClassifier(t *testing.T) {
	p := fastPolicy()
	p.Classify = func(error) Category { return CategoryClient }
	calls := 0
	err := ExecuteErr(context.Background(), p, func(_ context.Context) error {
		calls++
		return &StatusError{StatusCode: 503}
	})
	assert.Equal(t, 1, calls)

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryClient, ce.Category)
}

func TestExecute_RedactsSecrets(t *testing.T) {
	p := fastPolicy()
	p.MaxRetries = 0
	p.Secrets = []string{"topsecretkey"}
	err := ExecuteErr(context.Background(), p, func(_ context.Context) error {
		return errors.New("GET https://api.test/jobs?api_key=topsecretkey failed")
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "topsecretkey")
}

func TestExecute_DoesNotDoubleWrap(t *testing.T) {
	inner := &ClassifiedError{Category: CategoryServer, Service: "scraper", Operation: "page", Attempts: 3, Err: errors.New("x"), detail: "x"}
	p := fastPolicy()
	p.MaxRetries = 0
	err := ExecuteErr(context.Background(), p, func(_ context.Context) error { return inner })
	assert.Same(t, inner, err)
}

func TestExecute_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ExecuteErr(ctx, fastPolicy(), func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)

	var ce *ClassifiedError
	assert.False(t, errors.As(err, &ce))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig("scraper", 4, 100, 300, 500, 200)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, p.NetworkBase)
	assert.Equal(t, 300*time.Millisecond, p.ResetBase)
	assert.Equal(t, 500*time.Millisecond, p.RateLimitBase)
	assert.Equal(t, 200*time.Millisecond, p.ServerBase)

	d := PolicyFromConfig("scraper", -1, 0, 0, 0, 0)
	assert.Equal(t, 2, d.MaxRetries)
	assert.Equal(t, time.Second, d.NetworkBase)
	assert.Equal(t, 3*time.Second, d.ResetBase)
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(3, 10)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.ResetTimeout)
}
