package pending

import (
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/pkg/logx"
)

func TestBeginReplacesExisting(t *testing.T) {
	t.Parallel()
	tr := New(Config{TTL: time.Minute}, logx.Nop())

	tr.Begin(1, domain.OpAddChannel, 0)
	tr.Begin(1, domain.OpSetKeyword, -100)

	op, ok := tr.Get(1)
	if !ok {
		t.Fatal("expected a live operation")
	}
	if op.Kind != domain.OpSetKeyword || op.ChannelID != -100 {
		t.Fatalf("got %s/%d, want %s/-100 (last writer wins)", op.Kind, op.ChannelID, domain.OpSetKeyword)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}

func TestCompleteClearsOperation(t *testing.T) {
	t.Parallel()
	tr := New(Config{TTL: time.Minute}, logx.Nop())

	tr.Begin(2, domain.OpAddSubchannel, -100)
	tr.Complete(2)
	if _, ok := tr.Get(2); ok {
		t.Fatal("operation still present after Complete")
	}
}

func TestGetEvictsExpired(t *testing.T) {
	t.Parallel()
	tr := New(Config{TTL: 10 * time.Millisecond}, logx.Nop())

	tr.Begin(3, domain.OpAddChannel, 0)
	time.Sleep(25 * time.Millisecond)

	if _, ok := tr.Get(3); ok {
		t.Fatal("expired operation returned by Get")
	}
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after lazy eviction", tr.Len())
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	t.Parallel()
	tr := New(Config{TTL: time.Minute}, logx.Nop())

	tr.Begin(4, domain.OpAddChannel, 0)
	tr.Begin(5, domain.OpSetLanguage, -100)

	if removed := tr.Sweep(time.Now().Add(2 * time.Minute)); removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tr.Len())
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	tr := New(Config{TTL: time.Minute}, logx.Nop())

	tr.Begin(10, domain.OpAddChannel, 0)
	tr.Begin(11, domain.OpSetFooter, -200)
	tr.Complete(10)

	if _, ok := tr.Get(10); ok {
		t.Fatal("user 10 operation should be gone")
	}
	op, ok := tr.Get(11)
	if !ok || op.Kind != domain.OpSetFooter {
		t.Fatalf("user 11 operation = %v (ok=%v), want OpSetFooter", op.Kind, ok)
	}
}
