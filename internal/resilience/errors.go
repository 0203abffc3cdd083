package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Category is the failure class of one outbound call.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryRateLimited Category = "rate_limited"
	CategoryServer      Category = "server"
	CategoryClient      Category = "client"
	CategoryUnknown     Category = "unknown"
)

// Retryable reports whether a call failing with this category may be retried.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimited, CategoryServer:
		return true
	default:
		return false
	}
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// NewStatusError builds a StatusError from a response, parsing Retry-After
// when given in seconds.
func NewStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		var secs int
		if _, err := fmt.Sscanf(ra, "%d", &secs); err == nil && secs > 0 {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}

var (
	resetPatterns = []string{
		"connection reset by peer",
		"broken pipe",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	networkPatterns = []string{
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"connection refused",
		"timeout awaiting response headers",
	}
	rateLimitPatterns = []string{
		"rate limit",
		"too many requests",
		"quota exceeded",
	}
)

// Classify maps an error to its failure category. A ClassifiedError keeps
// the category it already carries.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	var se *StatusError
	if errors.As(err, &se) {
		return categoryForStatus(se.StatusCode)
	}

	var te *TransientError
	if errors.As(err, &te) {
		switch {
		case te.StatusCode == http.StatusTooManyRequests:
			return CategoryRateLimited
		case te.StatusCode >= 500:
			return CategoryServer
		default:
			return CategoryNetwork
		}
	}

	if errors.Is(err, context.Canceled) {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryNetwork
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitPatterns) {
		return CategoryRateLimited
	}
	if containsAny(msg, resetPatterns) || containsAny(msg, networkPatterns) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// IsConnectionReset reports whether err is a dropped connection rather than
// a timeout. Resets wait longer before the next attempt.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), resetPatterns)
}

func categoryForStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests:
		return CategoryRateLimited
	case code == http.StatusRequestTimeout:
		return CategoryNetwork
	case code == http.StatusNotImplemented:
		return CategoryClient
	case code >= 500:
		return CategoryServer
	case code >= 400:
		return CategoryClient
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ClassifiedError is the terminal failure of an executed call. Its message
// names the category so callers can show an actionable hint.
type ClassifiedError struct {
	Category  Category
	Service   string
	Operation string
	Attempts  int
	Err       error

	detail string // redacted form of Err
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s %s: %s (after %d attempt(s)): %s",
		e.Service, e.Operation, e.UserMessage(), e.Attempts, e.detail)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// UserMessage is the category hint without any remote detail.
func (e *ClassifiedError) UserMessage() string {
	switch e.Category {
	case CategoryNetwork:
		return "network error, check connectivity and retry"
	case CategoryRateLimited:
		return "rate limit exceeded, wait and retry"
	case CategoryServer:
		return "remote service error, retry later"
	case CategoryClient:
		return "invalid input"
	default:
		return "unexpected error"
	}
}

// IsRateLimited reports whether err ended as a rate-limit failure.
func IsRateLimited(err error) bool {
	return Classify(err) == CategoryRateLimited
}
