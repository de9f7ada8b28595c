package domain

import (
	"testing"
	"time"
)

func TestDedupKey(t *testing.T) {
	t.Parallel()
	p := ChannelPost{ChannelID: -1001234, MessageID: 42}
	if got := p.DedupKey(); got != "post:-1001234:42" {
		t.Fatalf("DedupKey = %q", got)
	}
}

func TestChannelValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{
			name: "valid",
			ch: Channel{
				ID:    -100,
				Links: []SubchannelLink{{SubchannelID: 1}, {SubchannelID: 2}},
				Rules: []TranslationRule{{TargetLang: "es", Scope: []int64{1}}},
			},
		},
		{name: "missing id", ch: Channel{}, wantErr: true},
		{
			name: "duplicate link",
			ch: Channel{
				ID:    -100,
				Links: []SubchannelLink{{SubchannelID: 1}, {SubchannelID: 1}},
			},
			wantErr: true,
		},
		{
			name: "zero subchannel id",
			ch: Channel{
				ID:    -100,
				Links: []SubchannelLink{{SubchannelID: 0}},
			},
			wantErr: true,
		},
		{
			name: "rule without target language",
			ch: Channel{
				ID:    -100,
				Links: []SubchannelLink{{SubchannelID: 1}},
				Rules: []TranslationRule{{TargetLang: "  ", Scope: []int64{1}}},
			},
			wantErr: true,
		},
		{
			name: "rule scope outside links",
			ch: Channel{
				ID:    -100,
				Links: []SubchannelLink{{SubchannelID: 1}},
				Rules: []TranslationRule{{TargetLang: "es", Scope: []int64{9}}},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ch.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPendingOperationExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	op := PendingOperation{ExpiresAt: now.Add(time.Minute)}
	if op.Expired(now) {
		t.Fatal("operation expired before its deadline")
	}
	if !op.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("operation not expired after its deadline")
	}
}

func TestRuleInScope(t *testing.T) {
	t.Parallel()
	r := TranslationRule{TargetLang: "es", Scope: []int64{1, 3}}
	if !r.InScope(3) || r.InScope(2) {
		t.Fatal("InScope mismatch")
	}
}
