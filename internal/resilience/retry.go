package resilience

import (
	"context"
	"time"
)

// retrier is the attempt loop behind Execute.
type retrier struct {
	// attempts is the total number of calls, the first one included.
	attempts    int
	shouldRetry func(err error) bool
	// backoff is the delay before call attempt+1; attempt is 1-based.
	backoff func(attempt int, err error) time.Duration
	onRetry func(attempt int, err error)
}

// retry calls fn until it succeeds, returns an error r will not retry, or
// runs out of attempts. It also reports how many calls were made. A
// cancelled ctx ends the loop with the last error.
func retry[T any](ctx context.Context, r retrier, fn func(ctx context.Context) (T, error)) (T, int, error) {
	if r.attempts < 1 {
		r.attempts = 1
	}

	var zero T
	var lastErr error
	calls := 0
	for attempt := 1; attempt <= r.attempts; attempt++ {
		calls++
		val, err := fn(ctx)
		if err == nil {
			return val, calls, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == r.attempts {
			break
		}
		if r.shouldRetry != nil && !r.shouldRetry(err) {
			break
		}

		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		var delay time.Duration
		if r.backoff != nil {
			delay = r.backoff(attempt, err)
		}
		if !sleepCtx(ctx, delay) {
			break
		}
	}
	return zero, calls, lastErr
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
