package locker

import (
	"errors"
	"testing"
	"time"
)

func TestAcquireConflict(t *testing.T) {
	r := NewRegistry()
	if err := r.Acquire("proj", "feat"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := r.Acquire("proj", "feat"); !errors.Is(err, ErrInFlight) {
		t.Errorf("second acquire = %v, want ErrInFlight", err)
	}
	// A different session is independent.
	if err := r.Acquire("proj", "other"); err != nil {
		t.Errorf("independent session blocked: %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	r := NewRegistry()
	_ = r.Acquire("p", "f")
	r.Release("p", "f")
	if err := r.Acquire("p", "f"); err != nil {
		t.Errorf("reacquire after release: %v", err)
	}
}

func TestExpiredHoldReplaced(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }
	r := NewRegistry(WithClock(clock), WithTTL(time.Minute))

	_ = r.Acquire("p", "f")
	current = current.Add(2 * time.Minute)

	if r.IsLocked("p", "f") {
		t.Error("expired hold still reported locked")
	}
	if err := r.Acquire("p", "f"); err != nil {
		t.Errorf("expired hold not replaced: %v", err)
	}
}

func TestSweepReleasesExpired(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }
	r := NewRegistry(WithClock(clock), WithTTL(time.Minute))

	_ = r.Acquire("p", "a")
	_ = r.Acquire("p", "b")
	current = current.Add(30 * time.Second)
	_ = r.Acquire("p", "c")
	current = current.Add(45 * time.Second)

	if n := r.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if r.IsLocked("p", "a") || r.IsLocked("p", "b") {
		t.Error("expired holds survive sweep")
	}
	if !r.IsLocked("p", "c") {
		t.Error("live hold released by sweep")
	}
}

func TestWithSessionReleasesOnError(t *testing.T) {
	r := NewRegistry()
	fail := errors.New("turn failed")
	err := r.WithSession("p", "f", func() error { return fail })
	if !errors.Is(err, fail) {
		t.Fatalf("err = %v", err)
	}
	if r.IsLocked("p", "f") {
		t.Error("lock leaked after error")
	}
}
