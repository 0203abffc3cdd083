// Package resilience classifies remote failures and retries, backs off, and
// short-circuits outbound calls accordingly.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets one probe at a time through.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if n, ok := circuitStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open. It classifies as a server failure.
var ErrCircuitOpen = NewTransientError(eris.New("circuit breaker is open"), 503)

// CircuitBreakerConfig controls when a breaker opens and how it recovers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of tripping failures that opens the
	// circuit. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of successful probes needed to close
	// the circuit again. Default 1.
	HalfOpenMaxProbes int

	// ShouldTrip reports whether err counts against the remote. The default
	// counts retryable categories and ignores context cancellation.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns the defaults used for the scrape
// service.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

func defaultShouldTrip(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err).Retryable()
}

// CircuitBreaker guards one remote service. The zero value is not usable;
// build one with NewCircuitBreaker.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	probesOK int

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named service.
// Non-positive config values take the defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = defaultShouldTrip
	}
	return &CircuitBreaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Guard runs fn through cb. While the circuit is open, or while another
// half-open probe is in flight, it returns ErrCircuitOpen without calling
// fn. A nil cb runs fn directly.
func Guard[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.settle(probe, err)
	return val, err
}

// State returns the current position. An open circuit whose timeout has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if !cb.cooled() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	tripped := err != nil && cb.cfg.ShouldTrip(err)
	switch {
	case cb.state == CircuitHalfOpen && tripped:
		cb.moveTo(CircuitOpen)
	case cb.state == CircuitHalfOpen && probe:
		cb.probesOK++
		if cb.probesOK >= cb.cfg.HalfOpenMaxProbes {
			cb.moveTo(CircuitClosed)
		}
	case cb.state == CircuitClosed && tripped:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.moveTo(CircuitOpen)
		}
	case cb.state == CircuitClosed:
		cb.failures = 0
	}
}

// moveTo changes state and resets the counters that belong to it. Callers
// hold mu.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	failures := cb.failures

	cb.state = to
	cb.probesOK = 0
	switch to {
	case CircuitOpen:
		cb.openedAt = cb.nowFunc()
	case CircuitClosed:
		cb.failures = 0
	}

	if from != to {
		zap.L().Info("circuit breaker state change",
			zap.String("service", cb.name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("failures", failures),
		)
	}
}
