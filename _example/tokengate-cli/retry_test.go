package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		want       bool
	}{
		{"network error", errors.New("connection refused"), 0, true},
		{"500 internal server error", nil, http.StatusInternalServerError, true},
		{"502 bad gateway", nil, http.StatusBadGateway, true},
		{"503 service unavailable", nil, http.StatusServiceUnavailable, true},
		{"429 too many requests", nil, http.StatusTooManyRequests, true},
		{"200 OK", nil, http.StatusOK, false},
		{"401 invalid token", nil, http.StatusUnauthorized, false},
		{"403 insufficient scope", nil, http.StatusForbidden, false},
		{"no response", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode != 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			if got := isRetryableError(tt.err, resp); got != tt.want {
				t.Errorf("isRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// countingServer answers with statuses in order, repeating the last one.
func countingServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n > len(statuses) {
			n = len(statuses)
		}
		w.WriteHeader(statuses[n-1])
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestRetryableHTTPRequest(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCode  int
		wantCalls int32
	}{
		{"success", []int{http.StatusOK}, http.StatusOK, 1},
		{"recovers after 503s", []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK}, http.StatusOK, 3},
		{"no retry on 401", []int{http.StatusUnauthorized}, http.StatusUnauthorized, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := countingServer(t, tt.statuses...)
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			if err != nil {
				t.Fatalf("Failed to create request: %v", err)
			}

			resp, err := retryableHTTPRequest(context.Background(), httpClient, req)
			if err != nil {
				t.Fatalf("retryableHTTPRequest() error = %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, resp.StatusCode)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("Expected %d attempts, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestRetryableHTTPRequest_ReplaysBody(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = buf.ReadFrom(r.Body)
		mu.Lock()
		bodies = append(bodies, buf.String())
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := retryableHTTPRequest(context.Background(), httpClient, req)
	if err != nil {
		t.Fatalf("retryableHTTPRequest() error = %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"message":"hi"}` {
		t.Errorf("Expected the body to be sent twice unchanged, got %q", bodies)
	}
}

func TestRetryableHTTPRequest_ExponentialBackoff(t *testing.T) {
	var timestamps []time.Time
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		timestamps = append(timestamps, time.Now())
		n := len(timestamps)
		mu.Unlock()

		if n <= maxRetries {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := retryableHTTPRequest(context.Background(), httpClient, req)
	if err != nil {
		t.Fatalf("retryableHTTPRequest() error = %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(timestamps) != maxRetries+1 {
		t.Fatalf("Expected %d attempts, got %d", maxRetries+1, len(timestamps))
	}

	delay1 := timestamps[1].Sub(timestamps[0])
	delay2 := timestamps[2].Sub(timestamps[1])
	if delay2 < delay1*15/10 {
		t.Errorf("Expected exponential backoff: delay2 (%v) should be >= 1.5x delay1 (%v)", delay2, delay1)
	}
}

func TestRetryableHTTPRequest_ContextTimeout(t *testing.T) {
	server, _ := countingServer(t, http.StatusInternalServerError)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if _, err := retryableHTTPRequest(ctx, httpClient, req); err == nil {
		t.Error("Expected timeout error, got nil")
	}
}
