package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinWindow(t *testing.T) {
	t.Parallel()
	l := New(Config{Window: time.Minute, MaxRequests: 3})
	now := time.Now()

	for i := 1; i <= 3; i++ {
		if !l.allowAt(now, 42) {
			t.Fatalf("request %d denied, want allowed", i)
		}
	}
	if l.allowAt(now, 42) {
		t.Fatal("request 4 allowed, want denied")
	}
}

func TestWindowReset(t *testing.T) {
	t.Parallel()
	l := New(Config{Window: time.Minute, MaxRequests: 1})
	now := time.Now()

	if !l.allowAt(now, 7) {
		t.Fatal("first request denied")
	}
	if l.allowAt(now, 7) {
		t.Fatal("second request in same window allowed")
	}
	if !l.allowAt(now.Add(time.Minute), 7) {
		t.Fatal("request after window expiry denied")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{Window: time.Minute, MaxRequests: 1})
	now := time.Now()

	if !l.allowAt(now, 1) {
		t.Fatal("user 1 denied")
	}
	if !l.allowAt(now, 2) {
		t.Fatal("user 2 denied after user 1 consumed its own window")
	}
}

func TestSweepEvictsExpiredWindows(t *testing.T) {
	t.Parallel()
	l := New(Config{Window: time.Minute, MaxRequests: 5})
	now := time.Now()

	l.allowAt(now, 1)
	l.allowAt(now, 2)
	if got := l.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}

	removed := l.Sweep(now.Add(2 * time.Minute))
	if removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if got := l.Len(); got != 0 {
		t.Fatalf("Len after sweep = %d, want 0", got)
	}
}

func TestApplyChangesThreshold(t *testing.T) {
	t.Parallel()
	l := New(Config{Window: time.Minute, MaxRequests: 1})
	now := time.Now()

	l.allowAt(now, 9)
	if l.allowAt(now, 9) {
		t.Fatal("second request allowed before Apply")
	}

	l.Apply(Config{Window: time.Minute, MaxRequests: 10})
	if !l.allowAt(now, 9) {
		t.Fatal("request denied after raising the threshold")
	}
}
