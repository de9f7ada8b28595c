package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) error { return errBoom }

func trip(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Execute(context.Background(), failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want %v", i+1, err, errBoom)
		}
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 3, ResetTimeout: time.Hour}, logx.Nop())

	trip(t, b, 3)
	if st, _ := b.State(); st != Open {
		t.Fatalf("state = %v, want Open", st)
	}

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("op was invoked while the circuit was open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 3, ResetTimeout: time.Hour}, logx.Nop())

	trip(t, b, 2)
	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("success op err = %v", err)
	}
	// Two more failures must not trip a 3-failure breaker.
	trip(t, b, 2)
	if st, _ := b.State(); st != Closed {
		t.Fatalf("state = %v, want Closed", st)
	}
}

func TestIgnoredFailuresDoNotCount(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 2, ResetTimeout: time.Hour}, logx.Nop())

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error {
			return Ignore(errBoom)
		})
		// The wrapper is transparent: callers see the original error.
		if !errors.Is(err, errBoom) {
			t.Fatalf("err = %v, want %v", err, errBoom)
		}
	}
	if st, fails := b.State(); st != Closed || fails != 0 {
		t.Fatalf("state = %v fails = %d, want Closed/0", st, fails)
	}
}

func TestHalfOpenTrialClosesOnSuccess(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, logx.Nop())

	trip(t, b, 1)
	time.Sleep(20 * time.Millisecond)

	if st, _ := b.State(); st != HalfOpen {
		t.Fatalf("state = %v, want HalfOpen", st)
	}
	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("trial err = %v", err)
	}
	if st, _ := b.State(); st != Closed {
		t.Fatalf("state after trial = %v, want Closed", st)
	}
}

func TestHalfOpenTrialReopensOnFailure(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, logx.Nop())

	trip(t, b, 1)
	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(context.Background(), failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("trial err = %v, want %v", err, errBoom)
	}
	if st, _ := b.State(); st != Open {
		t.Fatalf("state after failed trial = %v, want Open", st)
	}
	// Still failing fast until the next reset timeout.
	if err := b.Execute(context.Background(), failingOp); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	t.Parallel()
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, logx.Nop())

	trip(t, b, 1)
	time.Sleep(20 * time.Millisecond)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(ctx context.Context) error {
			close(inTrial)
			<-release
			return nil
		})
	}()

	<-inTrial
	// A second caller during the in-flight trial is rejected.
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial err = %v", err)
	}
}
