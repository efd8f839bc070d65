package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestState_Exhausted(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		state     State
		exhausted bool
	}{
		{
			name:      "zero state assumed available",
			state:     State{},
			exhausted: false,
		},
		{
			name: "quota remaining",
			state: State{
				Remaining:  42,
				ResetAt:    now.Add(time.Minute),
				LastUpdate: now,
			},
			exhausted: false,
		},
		{
			name: "spent with future reset",
			state: State{
				Remaining:  0,
				ResetAt:    now.Add(time.Minute),
				LastUpdate: now,
			},
			exhausted: true,
		},
		{
			name: "spent but window already reset",
			state: State{
				Remaining:  0,
				ResetAt:    now.Add(-time.Second),
				LastUpdate: now.Add(-time.Minute),
			},
			exhausted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Exhausted(); got != tt.exhausted {
				t.Errorf("Exhausted() = %v, want %v", got, tt.exhausted)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	state := State{ResetAt: time.Now().Add(30 * time.Second)}

	d := state.TimeUntilReset()
	if d <= 29*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", d)
	}

	past := State{ResetAt: time.Now().Add(-time.Minute)}
	if d := past.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() = %v for past reset, want 0", d)
	}
}

func TestState_MethodsOnSnapshotValue(t *testing.T) {
	// State methods are called directly on the non-addressable snapshot
	// returned by Tracker.State(), so they must have value receivers.
	tracker := NewTracker(Config{Logger: zerolog.Nop()})
	tracker.UpdateFromHeaders(quotaHeaders(0, 100, 30*time.Second))

	if !tracker.State().Exhausted() {
		t.Error("Exhausted() = false on snapshot, want true")
	}
	if reset := tracker.State().TimeUntilReset(); reset <= 0 {
		t.Errorf("TimeUntilReset() = %v on snapshot, want > 0", reset)
	}
	if tracker.State().IsStale(time.Minute) {
		t.Error("IsStale(1m) = true for a just-updated snapshot")
	}
}

func TestState_IsStale(t *testing.T) {
	fresh := State{LastUpdate: time.Now()}
	if fresh.IsStale(time.Minute) {
		t.Error("Fresh state reported stale")
	}

	old := State{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !old.IsStale(time.Minute) {
		t.Error("Old state not reported stale")
	}
}
