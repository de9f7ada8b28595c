// Package rules decides, per destination, whether and how a post should be
// enriched before delivery.
package rules

import (
	"strings"

	"relaybot/internal/domain"
)

// Engine computes delivery plans. Plan is a pure function of the post and the
// channel's current configuration, so the engine itself is stateless.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Plan evaluates the channel's keyword filter and per-link enrichment
// settings for one post.
//
// A post that fails the keyword filter produces an empty plan: it is dropped,
// not an error. Each leg carries at most one entry per target language; a leg
// receives one untranslated copy only when no translation rule covers it.
func (e *Engine) Plan(post domain.ChannelPost, ch *domain.Channel) domain.DeliveryPlan {
	var plan domain.DeliveryPlan
	if ch == nil {
		return plan
	}
	if !MatchesKeywords(post.Text, ch.Keywords) {
		return plan
	}

	plan.Targets = make([]domain.DeliveryTarget, 0, len(ch.Links))
	for _, link := range ch.Links {
		t := domain.DeliveryTarget{
			SubchannelID:   link.SubchannelID,
			NeedsSummary:   ch.AIEnabled && link.AIEnabled,
			PromptTemplate: link.PromptTemplate,
			Footer:         link.Footer,
		}
		if link.TranslateAllow {
			t.TargetLangs = targetLangs(ch.Rules, link.SubchannelID)
		}
		plan.Targets = append(plan.Targets, t)
	}
	return plan
}

// MatchesKeywords reports whether text passes the channel's keyword filter.
// An empty keyword set passes everything; otherwise at least one keyword must
// appear as a case-insensitive substring.
func MatchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// targetLangs collects the distinct target languages of every rule covering
// the subchannel, preserving rule order.
func targetLangs(rules []domain.TranslationRule, subchannelID int64) []string {
	var langs []string
	for _, r := range rules {
		if !r.InScope(subchannelID) {
			continue
		}
		lang := strings.ToLower(strings.TrimSpace(r.TargetLang))
		if lang == "" {
			continue
		}
		dup := false
		for _, have := range langs {
			if have == lang {
				dup = true
				break
			}
		}
		if !dup {
			langs = append(langs, lang)
		}
	}
	return langs
}
