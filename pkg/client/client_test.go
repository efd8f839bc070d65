package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"
)

// mockTransport is a scripted UpstreamTransport with call counting.
type mockTransport struct {
	mu      sync.Mutex
	calls   int
	results []mockResult // consumed in order; the last one repeats
	delay   time.Duration
}

type mockResult struct {
	resp *Response
	err  error
}

func (m *mockTransport) Do(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error) {
	m.mu.Lock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	result := m.results[idx]
	m.calls++
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return result.resp, result.err
}

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func okResponse(body string) *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: quotaHeaders(100, 100, time.Minute),
		Body:    []byte(body),
	}
}

func statusResponse(status int) *Response {
	return &Response{
		Status:  status,
		Headers: quotaHeaders(95, 100, time.Minute),
		Body:    []byte(`{"error": "upstream failure"}`),
	}
}

func quotaHeaders(remaining, limit int, resetIn time.Duration) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(resetIn).Unix(), 10))
	return h
}

func newTestClient(t *testing.T, transport UpstreamTransport) *Client {
	t.Helper()
	return newTestClientCfg(t, transport, func(cfg *Config) {})
}

func newTestClientCfg(t *testing.T, transport UpstreamTransport, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig("jira", "http://upstream.test", "sprint-report-test/1.0")
	cfg.Transport = transport
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	cfg.MinRequestSpacing = time.Millisecond
	mutate(&cfg)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("jira", "https://jira.example.com", "sprint-report/1.0"),
			expectError: false,
		},
		{
			name: "missing service",
			config: Config{
				BaseURL:          "https://jira.example.com",
				UserAgent:        "sprint-report/1.0",
				RetryMaxAttempts: 3,
			},
			expectError: true,
		},
		{
			name: "missing user agent",
			config: Config{
				Service:          "jira",
				BaseURL:          "https://jira.example.com",
				RetryMaxAttempts: 3,
			},
			expectError: true,
		},
		{
			name: "missing base URL and transport",
			config: Config{
				Service:          "jira",
				UserAgent:        "sprint-report/1.0",
				RetryMaxAttempts: 3,
			},
			expectError: true,
		},
		{
			name: "zero retry attempts",
			config: Config{
				Service:   "jira",
				BaseURL:   "https://jira.example.com",
				UserAgent: "sprint-report/1.0",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRequest_CacheMissThenHit(t *testing.T) {
	transport := &mockTransport{results: []mockResult{
		{resp: okResponse(`{"x":1}`)},
	}}
	c := newTestClient(t, transport)
	ctx := context.Background()

	opts := RequestOptions{Params: map[string]any{"id": 42}}
	cacheOpts := CacheOptions{UseCache: true, TTL: time.Minute}

	// Miss: transport called once.
	body, err := c.Request(ctx, "/svc/42", opts, cacheOpts)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(body) != `{"x":1}` {
		t.Errorf("Body = %q, want %q", body, `{"x":1}`)
	}
	if transport.callCount() != 1 {
		t.Errorf("Transport calls = %d, want 1", transport.callCount())
	}

	// Hit within the TTL window: zero additional transport calls.
	body, err = c.Request(ctx, "/svc/42", opts, cacheOpts)
	if err != nil {
		t.Fatalf("Second Request() error = %v", err)
	}
	if string(body) != `{"x":1}` {
		t.Errorf("Cached body = %q, want %q", body, `{"x":1}`)
	}
	if transport.callCount() != 1 {
		t.Errorf("Transport calls after cache hit = %d, want 1", transport.callCount())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestRequest_NoCacheForWrites(t *testing.T) {
	transport := &mockTransport{results: []mockResult{
		{resp: okResponse(`{"created":true}`)},
	}}
	c := newTestClient(t, transport)
	ctx := context.Background()

	opts := RequestOptions{Method: http.MethodPost, Body: []byte(`{}`)}
	cacheOpts := CacheOptions{UseCache: true, TTL: time.Minute}

	for i := 0; i < 2; i++ {
		if _, err := c.Request(ctx, "/issues", opts, cacheOpts); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
	}

	if transport.callCount() != 2 {
		t.Errorf("Transport calls = %d, want 2 (POST never cached)", transport.callCount())
	}
}

func TestRequest_RetryBounds(t *testing.T) {
	// Transport that always returns 503.
	transport := &mockTransport{results: []mockResult{
		{resp: statusResponse(http.StatusServiceUnavailable)},
	}}
	c := newTestClient(t, transport)

	_, err := c.Request(context.Background(), "/search", RequestOptions{}, CacheOptions{})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Error type = %T, want *APIError", err)
	}
	if apiErr.Kind != KindGeneric {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, KindGeneric)
	}
	if !apiErr.Retryable {
		t.Error("Retryable = false, want true for 503")
	}
	if apiErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", apiErr.Attempts)
	}
	if transport.callCount() != 3 {
		t.Errorf("Transport calls = %d, want exactly retryMaxAttempts (3)", transport.callCount())
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted in chain, got %v", err)
	}
}

func TestRequest_NoRetryOnAuthError(t *testing.T) {
	transport := &mockTransport{results: []mockResult{
		{resp: &Response{Status: http.StatusForbidden, Headers: http.Header{}, Body: []byte(`{}`)}},
	}}
	c := newTestClient(t, transport)

	_, err := c.Request(context.Background(), "/private", RequestOptions{}, CacheOptions{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Error type = %T, want *APIError", err)
	}
	if apiErr.Kind != KindAuth {
		t.Errorf("Kind = %q, want %q", apiErr.Kind, KindAuth)
	}
	if transport.callCount() != 1 {
		t.Errorf("Transport calls = %d, want exactly 1 (no retry on 403)", transport.callCount())
	}
}

func TestRequest_RetryThenSucceed(t *testing.T) {
	transport := &mockTransport{results: []mockResult{
		{resp: statusResponse(http.StatusInternalServerError)},
		{err: io.EOF},
		{resp: okResponse(`{"ok":true}`)},
	}}
	c := newTestClient(t, transport)

	body, err := c.Request(context.Background(), "/flaky", RequestOptions{}, CacheOptions{})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("Body = %q, want %q", body, `{"ok":true}`)
	}
	if transport.callCount() != 3 {
		t.Errorf("Transport calls = %d, want 3", transport.callCount())
	}
}

func TestRequest_RateLimitFailFast(t *testing.T) {
	// First response reports an exhausted window resetting 2s out.
	exhausted := &Response{
		Status:  http.StatusOK,
		Headers: quotaHeaders(0, 100, 2*time.Second),
		Body:    []byte(`{}`),
	}
	transport := &mockTransport{results: []mockResult{{resp: exhausted}}}
	c := newTestClient(t, transport)
	ctx := context.Background()

	if _, err := c.Request(ctx, "/first", RequestOptions{}, CacheOptions{}); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if !c.RateLimitState().Exhausted() {
		t.Fatal("Tracker not Exhausted after zero-remaining response")
	}

	start := time.Now()
	_, err := c.Request(ctx, "/second", RequestOptions{}, CacheOptions{})
	elapsed := time.Since(start)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindRateLimit {
		t.Fatalf("Error = %v, want rate_limit APIError", err)
	}
	if apiErr.RetryAfter <= 0 {
		t.Error("RetryAfter hint missing from rate limit error")
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("Fail-fast took %v, want immediate rejection", elapsed)
	}
	if transport.callCount() != 1 {
		t.Errorf("Transport calls = %d, want 1 (second request never sent)", transport.callCount())
	}
}

func TestRequest_RateLimitWaitMode(t *testing.T) {
	exhausted := &Response{
		Status:  http.StatusOK,
		Headers: quotaHeaders(0, 100, 2*time.Second),
		Body:    []byte(`{}`),
	}
	transport := &mockTransport{results: []mockResult{
		{resp: exhausted},
		{resp: okResponse(`{}`)},
	}}
	c := newTestClientCfg(t, transport, func(cfg *Config) {
		cfg.WaitForRateLimit = true
	})
	ctx := context.Background()

	if _, err := c.Request(ctx, "/first", RequestOptions{}, CacheOptions{}); err != nil {
		t.Fatalf("First request failed: %v", err)
	}

	start := time.Now()
	if _, err := c.Request(ctx, "/second", RequestOptions{}, CacheOptions{}); err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	elapsed := time.Since(start)

	// Reset headers carry second granularity; the wait must still be
	// close to the advertised window, never silently skipped.
	if elapsed < 900*time.Millisecond {
		t.Errorf("Wait mode blocked %v, want at least ~1s until reset", elapsed)
	}
}

func TestRequest_DeadlineBoundsRetries(t *testing.T) {
	transport := &mockTransport{results: []mockResult{
		{resp: statusResponse(http.StatusServiceUnavailable)},
	}}
	c := newTestClientCfg(t, transport, func(cfg *Config) {
		cfg.RetryBaseDelay = 200 * time.Millisecond
		cfg.RetryMaxDelay = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Request(ctx, "/slow", RequestOptions{}, CacheOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Error = %v, want DeadlineExceeded from backoff", err)
	}
	// The deadline fires during the first backoff, before the budget.
	if transport.callCount() >= 3 {
		t.Errorf("Transport calls = %d, want retries cut short by deadline", transport.callCount())
	}
}

func TestRequest_CoalescesConcurrentFetches(t *testing.T) {
	transport := &mockTransport{
		results: []mockResult{{resp: okResponse(`{"x":1}`)}},
		delay:   50 * time.Millisecond,
	}
	c := newTestClient(t, transport)

	opts := RequestOptions{Params: map[string]any{"id": 1}}
	cacheOpts := CacheOptions{UseCache: true, TTL: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Request(context.Background(), "/same", opts, cacheOpts); err != nil {
				t.Errorf("Request() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if transport.callCount() != 1 {
		t.Errorf("Transport calls = %d, want 1 for coalesced identical requests", transport.callCount())
	}
}

func TestHealthCheck_L1Only(t *testing.T) {
	c := newTestClient(t, &mockTransport{results: []mockResult{{resp: okResponse(`{}`)}}})

	status := c.HealthCheck(context.Background())
	if !status.Healthy {
		t.Errorf("HealthCheck() = %+v, want healthy in L1-only mode", status)
	}
	if status.Error != "" {
		t.Errorf("Error = %q, want empty", status.Error)
	}
}

func TestDeletePattern_InvalidatesCachedResponse(t *testing.T) {
	transport := &mockTransport{results: []mockResult{{resp: okResponse(`{"x":1}`)}}}
	c := newTestClient(t, transport)
	ctx := context.Background()

	opts := RequestOptions{Params: map[string]any{"id": 7}}
	cacheOpts := CacheOptions{UseCache: true, TTL: time.Minute}

	if _, err := c.Request(ctx, "/boards", opts, cacheOpts); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if _, err := c.DeletePattern(ctx, "sprint:jira:*"); err != nil {
		t.Fatalf("DeletePattern() error = %v", err)
	}

	// Invalidation forces the next request back to the transport.
	if _, err := c.Request(ctx, "/boards", opts, cacheOpts); err != nil {
		t.Fatalf("Request() after invalidation error = %v", err)
	}
	if transport.callCount() != 2 {
		t.Errorf("Transport calls = %d, want 2 after invalidation", transport.callCount())
	}
}
