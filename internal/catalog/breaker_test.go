package catalog

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, timeout time.Duration) (*CircuitBreaker, *fakeClock, *[]BreakerState) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var changes []BreakerState
	cb := NewCircuitBreaker(failures, successes, timeout, func(s BreakerState) {
		changes = append(changes, s)
	})
	cb.now = clock.now
	return cb, clock, &changes
}

func TestCircuitBreaker_startsClosed(t *testing.T) {
	cb, _, _ := newTestBreaker(3, 2, time.Second)
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("initial state = %v, want closed", s)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() error = %v, want nil", err)
	}
}

func TestCircuitBreaker_opensAfterConsecutiveFailures(t *testing.T) {
	cb, _, changes := newTestBreaker(3, 2, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if s := cb.State(); s != BreakerClosed {
		t.Fatalf("state = %v, want closed: a success resets the run", s)
	}

	cb.RecordFailure()
	if s := cb.State(); s != BreakerOpen {
		t.Fatalf("state = %v, want open", s)
	}
	if err := cb.Allow(); err != ErrBreakerOpen {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
	if len(*changes) != 1 || (*changes)[0] != BreakerOpen {
		t.Errorf("changes = %v, want [open]", *changes)
	}
}

func TestCircuitBreaker_recovers(t *testing.T) {
	cb, clock, changes := newTestBreaker(1, 2, time.Second)

	cb.RecordFailure()
	clock.advance(999 * time.Millisecond)
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() should fail before the timeout")
	}

	clock.advance(time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want nil", err)
	}
	if s := cb.State(); s != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", s)
	}

	cb.RecordSuccess()
	if s := cb.State(); s != BreakerHalfOpen {
		t.Errorf("state after one probe = %v, want half-open", s)
	}
	cb.RecordSuccess()
	if s := cb.State(); s != BreakerClosed {
		t.Errorf("state after two probes = %v, want closed", s)
	}

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(*changes) != len(want) {
		t.Fatalf("changes = %v, want %v", *changes, want)
	}
	for i := range want {
		if (*changes)[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, (*changes)[i], want[i])
		}
	}
}

func TestCircuitBreaker_halfOpenFailureReopens(t *testing.T) {
	cb, clock, _ := newTestBreaker(1, 2, time.Second)

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	cb.RecordFailure()

	if s := cb.State(); s != BreakerOpen {
		t.Errorf("state = %v, want open", s)
	}
	clock.advance(500 * time.Millisecond)
	if err := cb.Allow(); err == nil {
		t.Error("reopened breaker should wait a full timeout")
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerHalfOpen:  "half-open",
		BreakerOpen:      "open",
		BreakerState(42): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
