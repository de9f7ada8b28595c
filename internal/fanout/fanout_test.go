package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/retry"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// fakeSender fails for the subchannel IDs in fail and records every call.
type fakeSender struct {
	mu       sync.Mutex
	sent     map[int64][]string
	calls    map[int64]int
	fail     map[int64]error
	failText string // when set, sends with this text fail
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, calls: map[int64]int{}, fail: map[int64]error{}}
}

func (s *fakeSender) Send(ctx context.Context, subchannelID int64, content transport.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[subchannelID]++
	if err := s.fail[subchannelID]; err != nil {
		return err
	}
	if s.failText != "" && content.Text == s.failText {
		return retry.Permanent(errors.New("rejected"))
	}
	s.sent[subchannelID] = append(s.sent[subchannelID], content.Rendered())
	return nil
}

func TestDeliverIsolatesFailures(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	s.fail[2] = retry.Permanent(errors.New("bot was kicked"))

	d := New(Config{MaxConcurrency: 2, RetryMax: 1, RetryBase: time.Millisecond}, s, logx.Nop())
	results := d.Deliver(context.Background(), []Leg{
		{SubchannelID: 1, Content: transport.Content{Text: "a"}},
		{SubchannelID: 2, Content: transport.Content{Text: "b"}},
		{SubchannelID: 3, Content: transport.Content{Text: "c"}},
	})

	if len(results) != 3 {
		t.Fatalf("results = %d entries, want 3", len(results))
	}
	if !results[1].OK || !results[3].OK {
		t.Fatalf("healthy legs failed: %+v", results)
	}
	r := results[2]
	if r.OK || r.Reason == "" {
		t.Fatalf("leg 2 = %+v, want failure with reason", r)
	}
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	s.fail[1] = errors.New("temporarily unavailable")

	d := New(Config{MaxConcurrency: 1, RetryMax: 3, RetryBase: time.Millisecond}, s, logx.Nop())
	results := d.Deliver(context.Background(), []Leg{{SubchannelID: 1, Content: transport.Content{Text: "x"}}})

	r := results[1]
	if r.OK {
		t.Fatalf("result = %+v, want failure", r)
	}
	if r.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", r.Attempts)
	}
}

func TestDeliverStopsRetryingOnPermanent(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	s.fail[1] = retry.Permanent(errors.New("chat not found"))

	d := New(Config{MaxConcurrency: 1, RetryMax: 5, RetryBase: time.Millisecond}, s, logx.Nop())
	d.Deliver(context.Background(), []Leg{{SubchannelID: 1, Content: transport.Content{Text: "x"}}})

	if s.calls[1] != 1 {
		t.Fatalf("calls = %d, want 1 for a permanent failure", s.calls[1])
	}
}

func TestDeliverMergesVariantsPerSubchannel(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	d := New(Config{MaxConcurrency: 4, RetryMax: 1, RetryBase: time.Millisecond}, s, logx.Nop())

	// Two language variants for the same destination.
	results := d.Deliver(context.Background(), []Leg{
		{SubchannelID: 9, Content: transport.Content{Text: "hola"}},
		{SubchannelID: 9, Content: transport.Content{Text: "hallo"}},
	})

	if len(results) != 1 {
		t.Fatalf("results = %d entries, want 1 merged entry", len(results))
	}
	r := results[9]
	if !r.OK || r.Attempts != 2 {
		t.Fatalf("merged result = %+v, want OK with 2 attempts", r)
	}
	if len(s.sent[9]) != 2 {
		t.Fatalf("sent = %d messages, want 2", len(s.sent[9]))
	}
}

func TestDeliverMergedVariantFailureWins(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	d := New(Config{MaxConcurrency: 1, RetryMax: 1, RetryBase: time.Millisecond}, s, logx.Nop())

	s.failText = "fail"
	results := d.Deliver(context.Background(), []Leg{
		{SubchannelID: 9, Content: transport.Content{Text: "ok"}},
		{SubchannelID: 9, Content: transport.Content{Text: "fail"}},
	})
	if results[9].OK {
		t.Fatalf("merged result = %+v, want failure when any variant fails", results[9])
	}
	if len(s.sent[9]) != 1 {
		t.Fatalf("sent = %d messages, want 1 (only the healthy variant)", len(s.sent[9]))
	}
}

func TestDeliverEmptyPlan(t *testing.T) {
	t.Parallel()
	d := New(Config{}, newFakeSender(), logx.Nop())
	if results := d.Deliver(context.Background(), nil); len(results) != 0 {
		t.Fatalf("results = %v, want empty map", results)
	}
}
