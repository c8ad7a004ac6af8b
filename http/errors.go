package http

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for HTTP operations.
var (
	// ErrCircuitOpen is returned when a host failed too often and is skipped for a while.
	ErrCircuitOpen = errors.New("http: circuit breaker is open")
	// ErrTooLarge indicates a response body above Config.MaxBodyBytes.
	ErrTooLarge = errors.New("http: response body too large")
)

// RateLimitError indicates the server rate limited the request (429 or 503).
type RateLimitError struct {
	StatusCode int
	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http: rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("http: rate limited (status %d)", e.StatusCode)
}

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http: GET %s: status %d", e.URL, e.StatusCode)
}

// IsTransientHTTPError reports whether err is worth retrying: rate limits,
// 5xx responses and network failures. Other 4xx responses are permanent.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	return !errors.Is(err, ErrTooLarge)
}
