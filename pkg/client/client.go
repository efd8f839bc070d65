// Package client provides the resilient upstream client for sprint-report:
// two-tier caching, rate-limit-aware throttling, retry with backoff and
// error classification, orchestrated in front of an UpstreamTransport.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snehaldangroshiya/sprint-report/pkg/cache"
	"github.com/snehaldangroshiya/sprint-report/pkg/logging"
	"github.com/snehaldangroshiya/sprint-report/pkg/ratelimit"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprint_api_requests_total",
		Help: "Total upstream requests by endpoint and outcome",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sprint_api_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprint_api_errors_total",
		Help: "Total classified upstream errors by kind",
	}, []string{"kind"})
)

// Config holds the client configuration.
type Config struct {
	// Service is the logical upstream name (e.g. "jira", "github").
	// Namespaces cache keys so multiple clients share one Redis.
	Service string

	// BaseURL of the upstream API. Required unless Transport is set.
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Transport overrides the default HTTP transport (tests, adapters).
	Transport UpstreamTransport

	// Redis client for the shared cache tier. Nil degrades to L1-only.
	Redis *redis.Client

	// Caching
	L1MaxEntries int
	L1DefaultTTL time.Duration // TTL used when CacheOptions.TTL is zero

	// Retry
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Rate limiting
	MinRequestSpacing time.Duration
	WaitForRateLimit  bool // block until reset instead of failing fast

	// RequestTimeout is the per-attempt transport timeout.
	RequestTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(service, baseURL, userAgent string) Config {
	return Config{
		Service:           service,
		BaseURL:           baseURL,
		UserAgent:         userAgent,
		L1MaxEntries:      cache.DefaultL1MaxEntries,
		L1DefaultTTL:      5 * time.Minute,
		RetryMaxAttempts:  3,
		RetryBaseDelay:    500 * time.Millisecond,
		RetryMaxDelay:     30 * time.Second,
		MinRequestSpacing: ratelimit.DefaultMinSpacing,
		WaitForRateLimit:  false,
		RequestTimeout:    30 * time.Second,
	}
}

// CacheOptions controls caching for a single request.
type CacheOptions struct {
	// UseCache enables the cache for this request. Only idempotent reads
	// (GET) are ever cached regardless of this flag.
	UseCache bool

	// TTL for the write-through entry. Zero falls back to L1DefaultTTL.
	// This layer never infers TTLs from response content.
	TTL time.Duration
}

// HealthStatus is the result of a health check.
type HealthStatus struct {
	Healthy        bool   `json:"healthy"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Client is the resilient upstream client. Request flow: cache check →
// rate-limit check → transport call with retry → classification on failure,
// write-through on success. All diagnostics go to the logger and Prometheus;
// nothing is ever mixed into returned payloads.
type Client struct {
	transport UpstreamTransport
	cache     *cache.TieredCache
	tracker   *ratelimit.Tracker
	retry     RetryPolicy
	config    Config
	logger    zerolog.Logger

	// group coalesces concurrent identical cacheable requests so one
	// upstream call feeds all waiters.
	group singleflight.Group
}

// New creates a resilient client.
func New(cfg Config) (*Client, error) {
	if cfg.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Transport == nil && cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required when no transport is provided")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return nil, fmt.Errorf("retry max attempts must be positive (got %d)", cfg.RetryMaxAttempts)
	}

	logger := logging.NewLogger("upstream-client").With().
		Str("service", cfg.Service).Logger()

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.BaseURL, cfg.UserAgent, cfg.RequestTimeout)
	}

	tieredCache := cache.NewTiered(cache.TieredConfig{
		L1MaxEntries: cfg.L1MaxEntries,
		Redis:        cfg.Redis,
		Logger:       logger,
	})

	tracker := ratelimit.NewTracker(ratelimit.Config{
		MinSpacing:   cfg.MinRequestSpacing,
		WaitForReset: cfg.WaitForRateLimit,
		Logger:       logger,
	})

	return &Client{
		transport: transport,
		cache:     tieredCache,
		tracker:   tracker,
		retry: RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Request performs one upstream call with caching, rate limiting, retry and
// error classification. The returned bytes are the raw upstream payload;
// typed decoding is the caller's responsibility.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions, cacheOpts CacheOptions) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	cacheable := method == http.MethodGet && cacheOpts.UseCache
	if !cacheable {
		return c.fetch(ctx, endpoint, method, opts, cacheable, "", 0)
	}

	key := cache.Key(c.config.Service, endpoint, method, opts.Params)
	if value, ok := c.cache.Get(ctx, key); ok {
		// Cache hit short-circuits everything: no network call, no
		// rate-limit check.
		c.logger.Debug().Str("endpoint", endpoint).Str("key", key).Msg("Cache hit")
		requestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
		return value, nil
	}

	ttl := cacheOpts.TTL
	if ttl <= 0 {
		ttl = c.config.L1DefaultTTL
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, endpoint, method, opts, cacheable, key, ttl)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// fetch runs the rate-limited, retried transport call and handles
// classification and write-through.
func (c *Client) fetch(ctx context.Context, endpoint, method string, opts RequestOptions, cacheable bool, key string, ttl time.Duration) ([]byte, error) {
	var lastErr *APIError

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		// Rate limit is consulted before every attempt, not just the first.
		if err := c.tracker.CheckAndWait(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrExhausted) {
				state := c.tracker.State()
				apiErr := &APIError{
					Kind:       KindRateLimit,
					StatusCode: http.StatusTooManyRequests,
					Endpoint:   endpoint,
					Method:     method,
					Attempts:   attempt - 1,
					Retryable:  true,
					RetryAfter: state.TimeUntilReset(),
					Message:    "local rate limit exhausted",
					Err:        err,
				}
				errorsTotal.WithLabelValues(string(KindRateLimit)).Inc()
				requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
				return nil, apiErr
			}
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := c.transport.Do(ctx, endpoint, opts)

		if err == nil && resp != nil {
			// Quota headers are authoritative even on failed responses.
			if hdrErr := c.tracker.UpdateFromHeaders(resp.Headers); hdrErr != nil {
				c.logger.Warn().Err(hdrErr).Msg("Failed to update rate limit from headers")
			}

			if resp.Status < 400 {
				requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.Status)).Inc()
				if attempt > 1 {
					c.logger.Info().
						Str("endpoint", endpoint).
						Int("attempt", attempt).
						Msg("Request succeeded after retry")
				}
				if cacheable {
					c.cache.Set(ctx, key, resp.Body, ttl)
				}
				return resp.Body, nil
			}

			lastErr = Classify(endpoint, method, resp.Status, resp.Headers, nil)
			requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.Status)).Inc()
		} else {
			lastErr = Classify(endpoint, method, 0, nil, err)
			requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		}

		errorsTotal.WithLabelValues(string(lastErr.Kind)).Inc()
		lastErr.Attempts = attempt

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", lastErr.StatusCode).
			Str("kind", string(lastErr.Kind)).
			Int("attempt", attempt).
			Msg("Upstream request failed")

		if !c.retry.ShouldRetry(lastErr, attempt) {
			break
		}

		delay := c.retry.DelayFor(attempt)
		if lastErr.RetryAfter > delay {
			delay = lastErr.RetryAfter
		}
		retriesTotal.WithLabelValues(string(lastErr.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(lastErr.Kind)).Observe(delay.Seconds())

		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		// The caller's deadline bounds the whole request, backoff included.
		if err := sleepBackoff(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry backoff: %w", err)
		}
	}

	if lastErr.Attempts >= c.retry.MaxAttempts && lastErr.Retryable {
		retryExhaustedTotal.WithLabelValues(string(lastErr.Kind)).Inc()
		lastErr.Err = errors.Join(ErrRetryExhausted, lastErr.Err)
	}

	return nil, lastErr
}

// GetMany reads multiple cache keys in one batched shared-tier round trip.
func (c *Client) GetMany(ctx context.Context, keys []string) map[string][]byte {
	return c.cache.GetMany(ctx, keys)
}

// SetMany writes multiple cache entries in one batched shared-tier round trip.
func (c *Client) SetMany(ctx context.Context, items []cache.SetItem) {
	c.cache.SetMany(ctx, items)
}

// DeletePattern invalidates all cache keys matching the glob pattern.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return c.cache.DeletePattern(ctx, pattern)
}

// Stats returns a snapshot of this client's cache counters.
func (c *Client) Stats() cache.Stats {
	return c.cache.Stats()
}

// RateLimitState returns a copy of the tracked quota state.
func (c *Client) RateLimitState() ratelimit.State {
	return c.tracker.State()
}

// Cache exposes the underlying tiered cache (warmers, tests).
func (c *Client) Cache() *cache.TieredCache {
	return c.cache
}

// HealthCheck verifies shared-tier connectivity and reports timing.
// An L1-only client is healthy by definition.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.cache.Ping(ctx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return HealthStatus{
			Healthy:        false,
			ResponseTimeMs: elapsed,
			Error:          err.Error(),
		}
	}
	return HealthStatus{
		Healthy:        true,
		ResponseTimeMs: elapsed,
	}
}
