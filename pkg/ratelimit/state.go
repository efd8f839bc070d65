// Package ratelimit tracks upstream quota state observed from response
// headers and gates outgoing requests. The tracker has two states:
// Available and Exhausted. It flips to Exhausted when a response reports
// zero remaining quota with a future reset time, and back to Available once
// wall-clock time passes the reset. Independently of quota state it enforces
// a minimum spacing between requests to avoid bursty load on the upstream.
package ratelimit

import (
	"time"
)

// DefaultMinSpacing is the fallback minimum inter-request spacing.
const DefaultMinSpacing = 100 * time.Millisecond

// State is the observed rate-limit state of one upstream. It is owned by a
// single client instance and lives for the process lifetime; mutated after
// every response, read before every request.
type State struct {
	// Remaining is the quota left in the current window.
	Remaining int `json:"remaining"`

	// Limit is the total quota per window, when the upstream reports it.
	Limit int `json:"limit"`

	// ResetAt is when the current window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`
}

// Exhausted returns true when the quota is spent and the reset time has not
// passed yet. A zero LastUpdate means no headers have been observed and the
// state is assumed Available.
func (s State) Exhausted() bool {
	if s.LastUpdate.IsZero() {
		return false
	}
	return s.Remaining <= 0 && time.Now().Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets, or 0 if the
// reset time has already passed.
func (s State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state has not been refreshed within maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
