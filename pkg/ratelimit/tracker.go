package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sprint_ratelimit_remaining",
		Help: "Remaining upstream quota in the current rate limit window",
	})

	rateLimitRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprint_ratelimit_rejects_total",
		Help: "Total requests rejected immediately while quota was exhausted",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sprint_ratelimit_waits_total",
		Help: "Total requests that blocked waiting for the quota window to reset",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sprint_ratelimit_wait_seconds",
		Help:    "Time spent waiting on rate limit resets and request spacing",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrExhausted is returned by CheckAndWait in fail-fast mode while the
// upstream quota is spent.
var ErrExhausted = errors.New("rate limit exhausted")

// Config holds tracker configuration.
type Config struct {
	// MinSpacing is the minimum interval between consecutive requests
	// (default DefaultMinSpacing). Enforced regardless of quota state.
	MinSpacing time.Duration

	// WaitForReset selects the behavior while Exhausted: block until the
	// window resets (true) or fail fast with ErrExhausted (false).
	WaitForReset bool

	// Logger for rate limit diagnostics.
	Logger zerolog.Logger
}

// Tracker owns the rate-limit state for one client instance. Unlike cache
// entries, this state is deliberately process-local: each client observes
// the headers of its own responses and paces itself.
type Tracker struct {
	mu          sync.Mutex
	state       State
	lastRequest time.Time

	minSpacing   time.Duration
	waitForReset bool
	logger       zerolog.Logger
}

// NewTracker creates a rate limit tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.MinSpacing <= 0 {
		cfg.MinSpacing = DefaultMinSpacing
	}
	return &Tracker{
		minSpacing:   cfg.MinSpacing,
		waitForReset: cfg.WaitForReset,
		logger:       cfg.Logger,
	}
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Exhausted reports whether the tracked quota is spent.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Exhausted()
}

// UpdateFromHeaders refreshes the state from upstream response headers.
// Recognized headers: X-RateLimit-Remaining, X-RateLimit-Limit and
// X-RateLimit-Reset (epoch seconds), with Retry-After (delta seconds) as a
// fallback reset source. Responses without rate limit headers leave the
// state untouched.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
	}

	now := time.Now()
	state := State{
		Remaining:  remaining,
		LastUpdate: now,
	}

	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			state.Limit = limit
		}
	}

	switch {
	case headers.Get("X-RateLimit-Reset") != "":
		resetEpoch, err := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
		}
		state.ResetAt = time.Unix(resetEpoch, 0)
	case headers.Get("Retry-After") != "":
		if seconds, err := strconv.Atoi(headers.Get("Retry-After")); err == nil {
			state.ResetAt = now.Add(time.Duration(seconds) * time.Second)
		}
	}

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	quotaRemaining.Set(float64(remaining))

	logEvent := t.logger.Debug()
	if state.Exhausted() {
		logEvent = t.logger.Warn()
	}
	logEvent.
		Int("remaining", state.Remaining).
		Int("limit", state.Limit).
		Time("reset_at", state.ResetAt).
		Msg("Rate limit state updated")

	return nil
}

// CheckAndWait gates one outgoing request. While the quota is Exhausted it
// either returns ErrExhausted immediately or blocks until the window resets,
// per configuration. It then enforces the minimum inter-request spacing.
// Both waits respect context cancellation.
func (t *Tracker) CheckAndWait(ctx context.Context) error {
	t.mu.Lock()
	exhausted := t.state.Exhausted()
	waitForReset := t.state.TimeUntilReset()
	t.mu.Unlock()

	if exhausted {
		if !t.waitForReset {
			t.logger.Warn().
				Dur("reset_in", waitForReset).
				Msg("Rate limit exhausted - rejecting request")
			rateLimitRejectsTotal.Inc()
			return fmt.Errorf("%w: resets in %s", ErrExhausted, waitForReset)
		}

		t.logger.Info().
			Dur("reset_in", waitForReset).
			Msg("Rate limit exhausted - waiting for reset")
		rateLimitWaitsTotal.Inc()
		rateLimitWaitSeconds.Observe(waitForReset.Seconds())

		if err := sleepCtx(ctx, waitForReset); err != nil {
			return err
		}
	}

	return t.enforceSpacing(ctx)
}

// enforceSpacing sleeps until MinSpacing has elapsed since the previous
// request and records the new request time.
func (t *Tracker) enforceSpacing(ctx context.Context) error {
	t.mu.Lock()
	wait := t.minSpacing - time.Since(t.lastRequest)
	if wait <= 0 {
		t.lastRequest = time.Now()
		t.mu.Unlock()
		return nil
	}
	// Reserve the slot before sleeping so concurrent callers space out
	// instead of all waking at once.
	t.lastRequest = time.Now().Add(wait)
	t.mu.Unlock()

	rateLimitWaitSeconds.Observe(wait.Seconds())
	return sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
