package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprint_api_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sprint_api_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sprint_api_retry_exhausted_total",
		Help: "Total number of requests that exhausted their retry budget",
	}, []string{"kind"})
)

// RetryPolicy bounds and paces retries: exponential backoff with jitter,
// capped delay, capped attempt count.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default policy: 3 attempts, 500ms base,
// 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry reports whether the given classified failure may be retried
// after attemptNumber attempts. Only network failures without a response,
// 5xx and 429 qualify; other 4xx never do.
func (p RetryPolicy) ShouldRetry(apiErr *APIError, attemptNumber int) bool {
	if attemptNumber >= p.MaxAttempts {
		return false
	}
	return apiErr.Retryable
}

// DelayFor computes the backoff before the retry following attemptNumber:
// min(base * 2^(attempt-1) + jitter, max) with jitter uniform in
// [0, 10% of the exponential term]. Jitter desynchronizes retries across
// clients hitting the same upstream.
func (p RetryPolicy) DelayFor(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	exponential := p.BaseDelay << uint(attemptNumber-1)
	if exponential > p.MaxDelay || exponential <= 0 {
		// Overflow or past the cap either way.
		return p.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(exponential)/10 + 1))
	delay := exponential + jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// sleepBackoff waits for the computed delay while respecting the caller's
// deadline: a cancelled context aborts the retry loop even mid-backoff.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
