package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Policy describes how one outbound operation is retried.
type Policy struct {
	Service   string
	Operation string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Base delays per category; the nth retry waits base * 2^(n-1).
	NetworkBase   time.Duration
	ResetBase     time.Duration
	RateLimitBase time.Duration
	ServerBase    time.Duration
	MaxDelay      time.Duration

	// Classify optionally overrides the default classifier.
	Classify func(error) Category

	// Secrets are scrubbed from logged and returned error text.
	Secrets []string
}

// DefaultPolicy returns the policy used for remote service calls: two
// retries, with dropped connections backing off longer than timeouts.
func DefaultPolicy(service, operation string) Policy {
	return Policy{
		Service:       service,
		Operation:     operation,
		MaxRetries:    2,
		NetworkBase:   time.Second,
		ResetBase:     3 * time.Second,
		RateLimitBase: 5 * time.Second,
		ServerBase:    time.Second,
		MaxDelay:      time.Minute,
	}
}

// For returns a copy of p bound to another operation.
func (p Policy) For(operation string) Policy {
	p.Operation = operation
	return p
}

func (p Policy) classify(err error) Category {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return Classify(err)
}

// Delay returns how long to wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int, err error) time.Duration {
	def := DefaultPolicy(p.Service, p.Operation)
	var base time.Duration
	switch p.classify(err) {
	case CategoryRateLimited:
		base = orDefault(p.RateLimitBase, def.RateLimitBase)
	case CategoryServer:
		base = orDefault(p.ServerBase, def.ServerBase)
	default:
		if IsConnectionReset(err) {
			base = orDefault(p.ResetBase, def.ResetBase)
		} else {
			base = orDefault(p.NetworkBase, def.NetworkBase)
		}
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base << (attempt - 1)
	maxDelay := orDefault(p.MaxDelay, def.MaxDelay)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}

	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > delay {
		delay = min(se.RetryAfter, maxDelay)
	}
	return delay
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Execute runs fn under p. Retryable categories are retried up to
// p.MaxRetries times; the final failure is returned as a *ClassifiedError.
// Context cancellation stops retries and is returned unwrapped.
func Execute[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	log := zap.L().With(
		zap.String("service", p.Service),
		zap.String("operation", p.Operation),
	)

	r := retrier{
		attempts:    maxRetries + 1,
		shouldRetry: func(err error) bool { return p.classify(err).Retryable() },
		backoff:     p.Delay,
		onRetry: func(attempt int, err error) {
			log.Warn("retrying operation",
				zap.Int("attempt", attempt),
				zap.String("category", string(p.classify(err))),
				zap.Duration("delay", p.Delay(attempt, err)),
				zap.String("error", Redact(err.Error(), p.Secrets...)),
			)
		},
	}

	val, attempts, err := retry(ctx, r, fn)
	if err == nil {
		return val, nil
	}
	if ctx.Err() != nil {
		return val, err
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return val, err
	}
	ce = &ClassifiedError{
		Category:  p.classify(err),
		Service:   p.Service,
		Operation: p.Operation,
		Attempts:  attempts,
		Err:       err,
		detail:    Redact(err.Error(), p.Secrets...),
	}
	log.Error("operation failed",
		zap.Int("attempts", attempts),
		zap.String("category", string(ce.Category)),
		zap.String("error", ce.detail),
	)
	return val, ce
}

// ExecuteErr is Execute for calls without a result value.
func ExecuteErr(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
