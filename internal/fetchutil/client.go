// Package fetchutil provides the shared transfer plumbing used by every
// fetcher: a standard HTTP client, bounded-retry GET with a circuit
// breaker, and size-validated file staging.
package fetchutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// NewBreaker returns a circuit breaker tripping after consecutive
// remote failures, shared across a fetcher's calls to one host.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Get fetches url with exponential backoff on transient statuses.
// Client errors other than rate limiting are terminal.
func Get(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, url string) ([]byte, error) {
	var body []byte
	operation := func() error {
		result, err := cb.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
			}
			return io.ReadAll(resp.Body)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// Head returns the Content-Length reported for url, or zero when the
// server does not report one.
func Head(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, url string) (int64, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp.ContentLength, nil
	})
	if err != nil {
		return 0, err
	}
	size := result.(int64)
	if size < 0 {
		size = 0
	}
	return size, nil
}
