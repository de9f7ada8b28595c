package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ChannelPost is one inbound post from a source channel.
//
// Identity is (ChannelID, MessageID); the pipeline uses it for dedup, so the
// same post re-delivered by the transport is a no-op.
type ChannelPost struct {
	ChannelID  int64
	MessageID  int
	Text       string
	MediaRefs  []string
	ReceivedAt time.Time
}

// DedupKey returns the identity key used by the recent-post cache and the
// durable dedup store.
func (p ChannelPost) DedupKey() string {
	return fmt.Sprintf("post:%d:%d", p.ChannelID, p.MessageID)
}

// TranslationRule requests translated copies for a subset of a channel's
// subchannels. SourceLang empty means auto-detect.
type TranslationRule struct {
	SourceLang string  `json:"source_lang,omitempty"`
	TargetLang string  `json:"target_lang"`
	Scope      []int64 `json:"scope"`
}

// InScope reports whether the rule covers the given subchannel.
func (r TranslationRule) InScope(subchannelID int64) bool {
	for _, id := range r.Scope {
		if id == subchannelID {
			return true
		}
	}
	return false
}

// SubchannelLink is one destination attached to a channel, with per-link
// overrides on top of the channel-level settings.
type SubchannelLink struct {
	SubchannelID   int64  `json:"subchannel_id"`
	AIEnabled      bool   `json:"ai_enabled"`
	TranslateAllow bool   `json:"translate_allow"`
	PromptTemplate string `json:"prompt_template,omitempty"`
	Footer         string `json:"footer,omitempty"`
}

// Channel is a source of posts owned by a user, linked to zero or more
// subchannels. It is created/mutated by owner-facing configuration actions
// and read-only inside the pipeline.
type Channel struct {
	ID        int64             `json:"id"`
	OwnerID   int64             `json:"owner_id"`
	Title     string            `json:"title,omitempty"`
	AIEnabled bool              `json:"ai_enabled"`
	Keywords  []string          `json:"keywords,omitempty"`
	Links     []SubchannelLink  `json:"links"`
	Rules     []TranslationRule `json:"rules,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Clone returns a deep copy. Stores hand out clones so a caller editing the
// result cannot reach the stored record through shared slices.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Keywords = slices.Clone(c.Keywords)
	cp.Links = slices.Clone(c.Links)
	if c.Rules != nil {
		cp.Rules = make([]TranslationRule, len(c.Rules))
		for i, r := range c.Rules {
			r.Scope = slices.Clone(r.Scope)
			cp.Rules[i] = r
		}
	}
	return &cp
}

// Link returns the link for a subchannel, if present.
func (c *Channel) Link(subchannelID int64) (SubchannelLink, bool) {
	for _, l := range c.Links {
		if l.SubchannelID == subchannelID {
			return l, true
		}
	}
	return SubchannelLink{}, false
}

// Validate checks structural invariants before a channel record is accepted:
// no duplicate links, and every rule scope must be a subset of the links.
func (c *Channel) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("channel id is required")
	}
	seen := make(map[int64]bool, len(c.Links))
	for _, l := range c.Links {
		if l.SubchannelID == 0 {
			return fmt.Errorf("channel %d: subchannel id is required", c.ID)
		}
		if seen[l.SubchannelID] {
			return fmt.Errorf("channel %d: duplicate subchannel %d", c.ID, l.SubchannelID)
		}
		seen[l.SubchannelID] = true
	}
	for i, r := range c.Rules {
		if strings.TrimSpace(r.TargetLang) == "" {
			return fmt.Errorf("channel %d: rule %d: target language is required", c.ID, i)
		}
		for _, id := range r.Scope {
			if !seen[id] {
				return fmt.Errorf("channel %d: rule %d: scope subchannel %d is not linked", c.ID, i, id)
			}
		}
	}
	return nil
}

// OperationKind enumerates multi-step user configuration actions.
type OperationKind string

const (
	OpAddChannel    OperationKind = "add_channel"
	OpAddSubchannel OperationKind = "add_subchannel"
	OpSetKeyword    OperationKind = "set_keyword"
	OpSetLanguage   OperationKind = "set_language"
	OpSetPrompt     OperationKind = "set_prompt"
	OpSetFooter     OperationKind = "set_footer"
)

// PendingOperation is a short-lived record of a user's in-progress multi-step
// configuration action. At most one non-expired operation exists per user.
type PendingOperation struct {
	UserID    int64         `json:"user_id"`
	Kind      OperationKind `json:"kind"`
	ChannelID int64         `json:"channel_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the operation's TTL has elapsed at the given time.
func (o PendingOperation) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
