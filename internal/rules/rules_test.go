package rules

import (
	"testing"

	"relaybot/internal/domain"
)

func TestMatchesKeywords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{name: "empty set passes everything", text: "anything at all", want: true},
		{name: "case-insensitive substring", text: "Big SALE today", keywords: []string{"sale"}, want: true},
		{name: "no keyword present", text: "daily news digest", keywords: []string{"sale", "discount"}, want: false},
		{name: "second keyword matches", text: "huge discount inside", keywords: []string{"sale", "discount"}, want: true},
		{name: "blank keywords are skipped", text: "plain text", keywords: []string{"  ", ""}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesKeywords(tt.text, tt.keywords); got != tt.want {
				t.Fatalf("MatchesKeywords(%q, %v) = %v, want %v", tt.text, tt.keywords, got, tt.want)
			}
		})
	}
}

func testChannel() *domain.Channel {
	return &domain.Channel{
		ID:        -100,
		AIEnabled: true,
		Links: []domain.SubchannelLink{
			{SubchannelID: 1, AIEnabled: true, TranslateAllow: true},
			{SubchannelID: 2, AIEnabled: false, TranslateAllow: true},
			{SubchannelID: 3, AIEnabled: true, TranslateAllow: false},
		},
		Rules: []domain.TranslationRule{
			{TargetLang: "es", Scope: []int64{1, 3}},
			{TargetLang: "de", Scope: []int64{1}},
			{TargetLang: "ES", Scope: []int64{1}}, // duplicate after normalization
		},
	}
}

func TestPlanFilteredPost(t *testing.T) {
	t.Parallel()
	ch := testChannel()
	ch.Keywords = []string{"sale"}

	plan := New().Plan(domain.ChannelPost{Text: "nothing relevant"}, ch)
	if !plan.Empty() {
		t.Fatalf("plan has %d targets, want empty", len(plan.Targets))
	}
}

func TestPlanPerLinkSettings(t *testing.T) {
	t.Parallel()
	plan := New().Plan(domain.ChannelPost{Text: "hello"}, testChannel())
	if len(plan.Targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(plan.Targets))
	}

	byID := map[int64]domain.DeliveryTarget{}
	for _, tg := range plan.Targets {
		byID[tg.SubchannelID] = tg
	}

	t1 := byID[1]
	if !t1.NeedsSummary {
		t.Fatal("target 1 should need a summary")
	}
	if got := t1.TargetLangs; len(got) != 2 || got[0] != "es" || got[1] != "de" {
		t.Fatalf("target 1 langs = %v, want [es de] (deduped, rule order)", got)
	}

	if t2 := byID[2]; t2.NeedsSummary {
		t.Fatal("target 2 has ai disabled on the link, should not need a summary")
	}

	// TranslateAllow=false suppresses rules even when in scope.
	if t3 := byID[3]; len(t3.TargetLangs) != 0 {
		t.Fatalf("target 3 langs = %v, want none", t3.TargetLangs)
	}
}

func TestPlanChannelAIDisabled(t *testing.T) {
	t.Parallel()
	ch := testChannel()
	ch.AIEnabled = false

	plan := New().Plan(domain.ChannelPost{Text: "hello"}, ch)
	for _, tg := range plan.Targets {
		if tg.NeedsSummary {
			t.Fatalf("target %d needs summary with channel ai disabled", tg.SubchannelID)
		}
	}
}

func TestPlanNilChannel(t *testing.T) {
	t.Parallel()
	if plan := New().Plan(domain.ChannelPost{Text: "x"}, nil); !plan.Empty() {
		t.Fatal("nil channel should produce an empty plan")
	}
}
