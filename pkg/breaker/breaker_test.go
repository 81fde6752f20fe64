package breaker

import (
	"testing"
	"time"
)

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(t *testing.T, threshold int, reset time.Duration) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Unix(1000, 0)
	b := New(threshold, reset)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 2, time.Minute)

	if !b.Allow() {
		t.Fatal("closed breaker should admit calls")
	}
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Error("one failure below threshold should stay closed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Error("breaker should open at the failure threshold")
	}
	if b.Allow() {
		t.Error("open breaker should reject calls")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, 2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Error("non-consecutive failures should not open the breaker")
	}
	if got := b.Stats().ConsecutiveFailures; got != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", got)
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("open breaker should reject before the reset timeout")
	}

	*now = now.Add(2 * time.Minute)

	if !b.Allow() {
		t.Fatal("breaker should admit a probe after the reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("expected half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("only one probe may be in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	b.Allow()

	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
	if got := b.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("expected failure count reset, got %d", got)
	}
	if !b.Allow() {
		t.Error("closed breaker should admit calls again")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	*now = now.Add(2 * time.Minute)
	b.Allow()

	b.RecordFailure()

	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker should reject until the timeout elapses again")
	}

	*now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Error("breaker should probe again after another reset timeout")
	}
}

func TestCancelProbeFreesSlot(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe admission")
	}
	if b.Allow() {
		t.Fatal("second probe admitted while the first is in flight")
	}

	// The admitted call was abandoned before producing an outcome.
	b.CancelProbe()

	if b.State() != StateHalfOpen {
		t.Errorf("cancelling a probe should not change state, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("a cancelled probe must free the slot for the next probe")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("replacement probe should still drive recovery, got %s", b.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
