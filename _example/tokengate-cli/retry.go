package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry configuration
const (
	maxRetries         = 3
	initialRetryDelay  = 1 * time.Second
	maxRetryDelay      = 10 * time.Second
	retryDelayMultiple = 2.0
)

// isRetryableError checks if an error is retryable
func isRetryableError(err error, resp *http.Response) bool {
	if err != nil {
		// Network errors, timeouts, connection errors are retryable
		return true
	}

	if resp == nil {
		return false
	}

	// Retry on 5xx server errors and 429 Too Many Requests
	statusCode := resp.StatusCode
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// retryableHTTPRequest executes an HTTP request with retry logic using exponential backoff
func retryableHTTPRequest(
	ctx context.Context,
	client *http.Client,
	req *http.Request,
) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = retryDelayMultiple
	b.RandomizationFactor = 0

	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attempts++
		reqClone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			reqClone.Body = body
		}

		resp, err := client.Do(reqClone)
		if !isRetryableError(err, resp) {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}

		// Close response body before retry to prevent resource leak
		resp.Body.Close()
		return nil, fmt.Errorf("server returned %s", resp.Status)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxRetries+1),
	)
	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
	}
	return resp, nil
}
