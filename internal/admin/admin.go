// Package admin is the thin owner-facing configuration surface. It parses
// commands, walks users through multi-step operations via the pending
// tracker, and writes the resulting channel records to storage.
//
// Every user action passes the per-user rate limiter first; denial drops the
// action with a "slow down" reply.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/pending"
	"relaybot/internal/ratelimit"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Service struct {
	limiter *ratelimit.Limiter
	tracker *pending.Tracker
	store   storage.Store
	log     logx.Logger
}

func New(limiter *ratelimit.Limiter, tracker *pending.Tracker, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{limiter: limiter, tracker: tracker, store: store, log: log}
}

const helpText = `Commands:
/addchannel - link a new source channel
/addsub <channel_id> - link a destination to a channel
/keywords <channel_id> - set the keyword filter
/language <channel_id> - add a translation rule
/prompt <channel_id> - set a per-subchannel summary prompt
/footer <channel_id> - set a per-subchannel footer
/cancel - abort the current operation`

// Handle processes one user message and returns the reply text.
func (s *Service) Handle(ctx context.Context, m transport.UserMessage) string {
	if !s.limiter.Allow(m.UserID) {
		return "Too many requests. Slow down and try again in a minute."
	}

	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, m.UserID, text)
	}
	return s.handleStep(ctx, m.UserID, text)
}

func (s *Service) handleCommand(ctx context.Context, userID int64, text string) string {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return helpText
	case "/cancel":
		s.tracker.Complete(userID)
		return "Cancelled."
	case "/addchannel":
		s.tracker.Begin(userID, domain.OpAddChannel, 0)
		return "Send the source channel ID."
	case "/addsub":
		id, err := parseChannelID(arg)
		if err != nil {
			return "Usage: /addsub <channel_id>"
		}
		s.tracker.Begin(userID, domain.OpAddSubchannel, id)
		return "Send the destination subchannel ID."
	case "/keywords":
		id, err := parseChannelID(arg)
		if err != nil {
			return "Usage: /keywords <channel_id>"
		}
		s.tracker.Begin(userID, domain.OpSetKeyword, id)
		return "Send keywords separated by commas, or \"-\" to clear the filter."
	case "/language":
		id, err := parseChannelID(arg)
		if err != nil {
			return "Usage: /language <channel_id>"
		}
		s.tracker.Begin(userID, domain.OpSetLanguage, id)
		return "Send: <target_lang> <subchannel_id> [subchannel_id ...]"
	case "/prompt":
		id, err := parseChannelID(arg)
		if err != nil {
			return "Usage: /prompt <channel_id>"
		}
		s.tracker.Begin(userID, domain.OpSetPrompt, id)
		return "Send: <subchannel_id> <prompt text>, or <subchannel_id> - to reset."
	case "/footer":
		id, err := parseChannelID(arg)
		if err != nil {
			return "Usage: /footer <channel_id>"
		}
		s.tracker.Begin(userID, domain.OpSetFooter, id)
		return "Send: <subchannel_id> <footer text>, or <subchannel_id> - to clear."
	default:
		return helpText
	}
}

// handleStep consumes the payload message of a begun multi-step operation.
func (s *Service) handleStep(ctx context.Context, userID int64, text string) string {
	op, ok := s.tracker.Get(userID)
	if !ok {
		return helpText
	}

	reply, err := s.completeStep(ctx, userID, op, text)
	if err != nil {
		// Keep the operation live so the user can correct the input.
		s.log.Debug("operation step rejected",
			logx.Int64("user_id", userID),
			logx.String("kind", string(op.Kind)),
			logx.Err(err))
		return "That didn't work: " + err.Error()
	}
	s.tracker.Complete(userID)
	return reply
}

func (s *Service) completeStep(ctx context.Context, userID int64, op domain.PendingOperation, text string) (string, error) {
	switch op.Kind {
	case domain.OpAddChannel:
		id, err := parseChannelID(text)
		if err != nil {
			return "", err
		}
		ch := &domain.Channel{ID: id, OwnerID: userID, CreatedAt: time.Now()}
		if err := s.store.PutChannel(ctx, ch); err != nil {
			return "", err
		}
		return fmt.Sprintf("Channel %d linked.", id), nil

	case domain.OpAddSubchannel:
		subID, err := parseChannelID(text)
		if err != nil {
			return "", err
		}
		ch, err := s.ownedChannel(ctx, userID, op.ChannelID)
		if err != nil {
			return "", err
		}
		if _, dup := ch.Link(subID); dup {
			return "", fmt.Errorf("subchannel %d is already linked", subID)
		}
		ch.Links = append(ch.Links, domain.SubchannelLink{SubchannelID: subID, AIEnabled: true, TranslateAllow: true})
		if err := s.store.PutChannel(ctx, ch); err != nil {
			return "", err
		}
		return fmt.Sprintf("Subchannel %d linked to channel %d.", subID, ch.ID), nil

	case domain.OpSetKeyword:
		ch, err := s.ownedChannel(ctx, userID, op.ChannelID)
		if err != nil {
			return "", err
		}
		if text == "-" {
			ch.Keywords = nil
		} else {
			ch.Keywords = splitKeywords(text)
		}
		if err := s.store.PutChannel(ctx, ch); err != nil {
			return "", err
		}
		if len(ch.Keywords) == 0 {
			return "Keyword filter cleared; every post passes.", nil
		}
		return fmt.Sprintf("Keeping posts matching %d keyword(s).", len(ch.Keywords)), nil

	case domain.OpSetLanguage:
		rule, err := parseRule(text)
		if err != nil {
			return "", err
		}
		ch, err := s.ownedChannel(ctx, userID, op.ChannelID)
		if err != nil {
			return "", err
		}
		ch.Rules = append(ch.Rules, rule)
		if err := s.store.PutChannel(ctx, ch); err != nil {
			return "", err
		}
		return fmt.Sprintf("Translating to %q for %d subchannel(s).", rule.TargetLang, len(rule.Scope)), nil

	case domain.OpSetPrompt, domain.OpSetFooter:
		subArg, rest, _ := strings.Cut(text, " ")
		subID, err := parseChannelID(subArg)
		if err != nil {
			return "", fmt.Errorf("expected: <subchannel_id> <text>")
		}
		rest = strings.TrimSpace(rest)
		if rest == "-" {
			rest = ""
		}
		ch, err := s.ownedChannel(ctx, userID, op.ChannelID)
		if err != nil {
			return "", err
		}
		idx := -1
		for i := range ch.Links {
			if ch.Links[i].SubchannelID == subID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("subchannel %d is not linked to channel %d", subID, ch.ID)
		}
		if op.Kind == domain.OpSetPrompt {
			ch.Links[idx].PromptTemplate = rest
		} else {
			ch.Links[idx].Footer = rest
		}
		if err := s.store.PutChannel(ctx, ch); err != nil {
			return "", err
		}
		if rest == "" {
			return fmt.Sprintf("Reset for subchannel %d.", subID), nil
		}
		return fmt.Sprintf("Updated subchannel %d.", subID), nil

	default:
		return "", fmt.Errorf("unknown operation %q", op.Kind)
	}
}

func (s *Service) ownedChannel(ctx context.Context, userID, channelID int64) (*domain.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("channel %d is not linked", channelID)
	}
	if err != nil {
		return nil, err
	}
	if ch.OwnerID != userID {
		return nil, fmt.Errorf("channel %d is not yours", channelID)
	}
	return ch, nil
}

func parseChannelID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("expected a numeric channel ID")
	}
	return id, nil
}

func splitKeywords(s string) []string {
	var out []string
	for _, kw := range strings.Split(s, ",") {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// parseRule parses "<target_lang> <subchannel_id> [subchannel_id ...]".
func parseRule(s string) (domain.TranslationRule, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return domain.TranslationRule{}, fmt.Errorf("expected: <target_lang> <subchannel_id> ...")
	}
	rule := domain.TranslationRule{TargetLang: strings.ToLower(fields[0])}
	for _, f := range fields[1:] {
		id, err := parseChannelID(f)
		if err != nil {
			return domain.TranslationRule{}, err
		}
		rule.Scope = append(rule.Scope, id)
	}
	return rule, nil
}
