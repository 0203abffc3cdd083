package resilience

import (
	"time"
)

// PolicyFromConfig converts config values to a Policy. Non-positive values
// keep the defaults; maxRetries may be zero to disable retries.
func PolicyFromConfig(service string, maxRetries, networkBaseMs, resetBaseMs, rateLimitBaseMs, serverBaseMs int) Policy {
	p := DefaultPolicy(service, "")
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if networkBaseMs > 0 {
		p.NetworkBase = time.Duration(networkBaseMs) * time.Millisecond
	}
	if resetBaseMs > 0 {
		p.ResetBase = time.Duration(resetBaseMs) * time.Millisecond
	}
	if rateLimitBaseMs > 0 {
		p.RateLimitBase = time.Duration(rateLimitBaseMs) * time.Millisecond
	}
	if serverBaseMs > 0 {
		p.ServerBase = time.Duration(serverBaseMs) * time.Millisecond
	}
	return p
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
