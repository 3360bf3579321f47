// Package fetch performs single logical HTTP retrievals against the
// rate-limited upstream data services, with bounded retries, a fixed
// inter-attempt delay and a circuit breaker. Exhausting the attempt budget
// is not an error: callers receive ok=false and treat the request as
// "no data available".
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mzy2240/cloudside/internal/common"
	"github.com/mzy2240/cloudside/internal/metrics"
)

// errorMarkers are body prefixes the upstream services use to signal a
// rejected request inside a 200 response.
var errorMarkers = []string{"ERROR"}

var (
	errStatus      = errors.New("unexpected status code")
	errErrorBody   = errors.New("error-marked response body")
	errRateLimited = errors.New("rate limited")
)

// Options configures a Client.
type Options struct {
	// MaxAttempts bounds the number of tries per logical fetch.
	MaxAttempts int
	// RetryDelay is the fixed wait between failed attempts.
	RetryDelay time.Duration
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Client is a retrying fetcher. The circuit breaker sits inside the retry
// loop: while the circuit is open, attempts fail fast without touching the
// network but still consume the per-request budget and delay, which keeps
// overall pressure on the upstream service bounded.
type Client struct {
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	retryDelay  time.Duration
	metrics     *metrics.Collector
}

// NewClient creates a Client around the shared HTTP client.
func NewClient(hc *http.Client, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-fetch",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		http:        hc,
		breaker:     cb,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		metrics:     opts.Metrics,
	}
}

// Fetch retrieves uri and returns the body text. ok is false when every
// attempt failed; the body is then empty and the caller must treat the
// result as missing data, not as a pipeline failure.
func (c *Client) Fetch(ctx context.Context, uri string) (string, bool) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, err := c.attempt(ctx, uri)
		if err == nil {
			c.count("ok")
			return body, true
		}

		log.Printf("ERROR: fetch %s failed (attempt %d/%d): %v", uri, attempt, c.maxAttempts, err)
		c.count(outcome(err))

		if ctx.Err() != nil {
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("INFO: fetch %s canceled: %v", uri, ctx.Err())
			return "", false
		case <-timer.C:
		}
	}

	log.Printf("INFO: exhausted attempts for %s, returning empty data", uri)
	if c.metrics != nil {
		c.metrics.FetchExhaustedTotal.Inc()
	}
	return "", false
}

func (c *Client) attempt(ctx context.Context, uri string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errRateLimited
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	})
	if err != nil {
		return "", err
	}

	body, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected result type from circuit breaker")
	}

	// Upstream rejections arrive as 200 responses with an error-prefixed
	// body; they are retried like transport failures.
	if common.HasAnyPrefix(body, errorMarkers...) {
		return "", fmt.Errorf("%w: %q", errErrorBody, firstLine(body))
	}
	return body, nil
}

func (c *Client) count(outcome string) {
	if c.metrics != nil {
		c.metrics.FetchAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, errErrorBody):
		return "rejected"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	default:
		return "transport"
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || i > 80 {
			return s[:i]
		}
	}
	return s
}
