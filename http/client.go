// Package http fetches remote assets (channel profile pictures, banners,
// user-supplied branding images) with per-host pacing, retries and a
// circuit breaker.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"ytzim/internal/cache"
	"ytzim/internal/retry"
)

// Config holds HTTP client configuration.
type Config struct {
	// Timeout for individual HTTP requests.
	Timeout time.Duration
	// Retry configures retries of transient failures.
	Retry retry.Config
	// UserAgent is sent with every request.
	UserAgent string
	// RequestsPerSecond paces requests per host. Negative disables pacing.
	RequestsPerSecond float64
	// MaxBodyBytes caps a downloaded body.
	MaxBodyBytes int64
	// CircuitBreaker configures the per-host circuit breaker.
	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns defaults suited to image downloads.
func DefaultConfig() *Config {
	return &Config{
		Timeout:           30 * time.Second,
		Retry:             retry.DefaultConfig(),
		UserAgent:         "ytzim/1.0",
		RequestsPerSecond: DefaultHostRPS,
		MaxBodyBytes:      20 << 20,
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
	}
}

// Client downloads remote assets.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// New creates a client with the given configuration. Nil uses DefaultConfig.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		base: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RequestsPerSecond),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get fetches url, retrying transient failures.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	host := hostOf(url)
	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, fmt.Errorf("%w: %s", err, host)
	}

	var resp *Response
	err := retry.Do(ctx, c.config.Retry, c.isRetryable, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx, url); err != nil {
			return err
		}
		r, err := c.get(ctx, url)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	c.rateLimiter.RecordSuccess(url)
	c.circuitBreaker.RecordSuccess(host)
	return resp, nil
}

// Download fetches url into dst. The file is replaced atomically, so an
// interrupted download never leaves a truncated image behind.
func (c *Client) Download(ctx context.Context, url, dst string) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := cache.WriteFile(dst, resp.Body); err != nil {
		return fmt.Errorf("http: save %s: %w", dst, err)
	}
	log.Debug().Str("url", url).Str("path", dst).Int("bytes", len(resp.Body)).Msg("http: downloaded")
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		retryAfter := c.rateLimiter.RecordRateLimitError(url, parseRetryAfter(resp.Header))
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}

	limit := c.config.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("http: read %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: body}
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, url)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) isRetryable(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	return IsTransientHTTPError(err)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}

// IsNotFound reports whether err is a 404 or 410 response.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone)
}
