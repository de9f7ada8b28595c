// Package pipeline orchestrates the per-post processing flow: dedup check,
// rule evaluation, enrichment under breaker+retry protection, and fan-out
// dispatch.
package pipeline

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/breaker"
	"relaybot/internal/domain"
	"relaybot/internal/eventbus"
	"relaybot/internal/fanout"
	"relaybot/internal/provider"
	"relaybot/internal/retry"
	"relaybot/internal/rules"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Pipeline processes inbound posts. Each post is an independent task; the
// only suspension points are external provider calls, and no failure of one
// post affects its siblings.
type Pipeline struct {
	cfgMu sync.Mutex
	cfg   Config

	channels ChannelSource
	engine   *rules.Engine
	exec     *retry.Executor
	dispatch *fanout.Dispatcher

	// One breaker per provider instance, owned here and passed explicitly.
	aiBreaker *breaker.Breaker
	trBreaker *breaker.Breaker

	summarizer provider.Summarizer
	translator provider.Translator

	dedup *dedupCache
	store DedupStore // optional

	bus eventbus.Bus
	log logx.Logger
}

type Deps struct {
	Channels   ChannelSource
	Exec       *retry.Executor
	Dispatch   *fanout.Dispatcher
	AIBreaker  *breaker.Breaker
	TRBreaker  *breaker.Breaker
	Summarizer provider.Summarizer
	Translator provider.Translator
	Store      DedupStore // optional, may be nil
	Bus        eventbus.Bus
	Log        logx.Logger
}

func New(cfg Config, d Deps) *Pipeline {
	cfg = cfg.withDefaults()
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		cfg:        cfg,
		channels:   d.Channels,
		engine:     rules.New(),
		exec:       d.Exec,
		dispatch:   d.Dispatch,
		aiBreaker:  d.AIBreaker,
		trBreaker:  d.TRBreaker,
		summarizer: d.Summarizer,
		translator: d.Translator,
		dedup:      newDedupCache(cfg.DedupSize, cfg.DedupWindow),
		store:      d.Store,
		bus:        d.Bus,
		log:        log,
	}
}

// Apply swaps pipeline knobs at runtime. The dedup cache keeps its entries.
func (p *Pipeline) Apply(cfg Config) {
	p.cfgMu.Lock()
	p.cfg = cfg.withDefaults()
	p.cfgMu.Unlock()
}

func (p *Pipeline) config() Config {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	return p.cfg
}

// SweepDedup drops expired dedup entries (maintenance hook).
func (p *Pipeline) SweepDedup(now time.Time) int { return p.dedup.Sweep(now) }

// Process runs one post through the full state machine and returns the
// aggregate outcome. Operational failures never escape: enrichment falls
// back per leg, dispatch isolates per-target failures, and the per-post
// timeout turns a hung stage into failed legs rather than a hung post.
func (p *Pipeline) Process(ctx context.Context, post domain.ChannelPost) Outcome {
	cfg := p.config()
	start := time.Now()
	now := start

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	log := p.log.With(
		logx.Int64("channel_id", post.ChannelID),
		logx.Int("message_id", post.MessageID))

	// DEDUP_CHECK: reprocessing is idempotent.
	key := post.DedupKey()
	if p.seen(ctx, key, now) {
		log.Debug("duplicate post, skipping", logx.String("stage", string(StageDedupCheck)))
		p.publish(EventDuplicate, post, Outcome{Duplicate: true})
		return Outcome{Post: post, Duplicate: true}
	}

	// RULED.
	ch, err := p.channels.GetChannel(ctx, post.ChannelID)
	if err != nil || ch == nil {
		// Unknown or unreadable channel config: nothing to deliver to.
		log.Warn("channel lookup failed, dropping post", logx.Err(err))
		p.mark(ctx, key, time.Now())
		return Outcome{Post: post, Filtered: true, Duration: time.Since(start)}
	}
	plan := p.engine.Plan(post, ch)
	if plan.Empty() {
		log.Debug("post filtered by keywords", logx.String("stage", string(StageRuled)))
		p.mark(ctx, key, time.Now())
		p.publish(EventFiltered, post, Outcome{Filtered: true})
		return Outcome{Post: post, Filtered: true, Duration: time.Since(start)}
	}

	// ENRICHED: per-leg fallback keeps the plan intact on provider failure.
	legs, degraded := p.enrich(ctx, post, plan, cfg, log)

	// DISPATCHED.
	results := p.dispatch.Deliver(ctx, legs)

	// DONE.
	p.mark(ctx, key, time.Now())
	out := Outcome{
		Post:     post,
		Degraded: degraded,
		Results:  results,
		Duration: time.Since(start),
	}
	log.Info("post processed",
		logx.String("stage", string(StageDone)),
		logx.Bool("degraded", out.Degraded),
		logx.Int("delivered", out.Delivered()),
		logx.Int("failed", out.Failed()),
		logx.Duration("dur", out.Duration))
	p.publish(EventProcessed, post, out)
	return out
}

// enrich renders the content for every leg of the plan. Summary and
// translation results are cached within the post so legs sharing a prompt or
// language don't repeat provider calls.
func (p *Pipeline) enrich(ctx context.Context, post domain.ChannelPost, plan domain.DeliveryPlan, cfg Config, log logx.Logger) ([]fanout.Leg, bool) {
	degraded := false
	summaries := map[string]string{}    // prompt -> summary
	translations := map[string]string{} // input text+"\x00"+lang -> text

	var legs []fanout.Leg
	for _, t := range plan.Targets {
		base := post.Text

		if t.NeedsSummary {
			sum, ok := summaries[t.PromptTemplate]
			if !ok {
				var err error
				sum, err = p.summarize(ctx, post.Text, t.PromptTemplate, cfg.MaxSummaryTokens)
				if err != nil {
					// Fall back to the original text for this leg and keep going.
					log.Warn("summary failed, using original text", logx.Err(err))
					sum = ""
				}
				summaries[t.PromptTemplate] = sum
			}
			if sum == "" {
				degraded = true
			} else {
				base = sum
			}
		}

		if len(t.TargetLangs) == 0 {
			// No rule covers this leg: one untranslated copy.
			legs = append(legs, fanout.Leg{
				SubchannelID: t.SubchannelID,
				Content:      transport.Content{Text: base, Footer: t.Footer},
			})
			continue
		}

		// One variant per target language; best available text on failure.
		// Keyed by the rendered input so a summarized leg and a raw leg
		// never share a translation.
		for _, lang := range t.TargetLangs {
			cacheKey := base + "\x00" + lang
			text, ok := translations[cacheKey]
			if !ok {
				var err error
				text, err = p.translate(ctx, base, lang)
				if err != nil {
					log.Warn("translation failed, delivering untranslated",
						logx.String("lang", lang), logx.Err(err))
					text = ""
				}
				translations[cacheKey] = text
			}
			if text == "" {
				degraded = true
				text = base
			}
			legs = append(legs, fanout.Leg{
				SubchannelID: t.SubchannelID,
				Content:      transport.Content{Text: text, Footer: t.Footer},
			})
		}
	}
	return legs, degraded
}

// summarize runs the AI provider call through retry(breaker(op)).
func (p *Pipeline) summarize(ctx context.Context, text, prompt string, maxTokens int) (string, error) {
	var out string
	err := p.exec.Run(ctx, "summarize", func(ctx context.Context) error {
		return p.aiBreaker.Execute(ctx, func(ctx context.Context) error {
			sum, err := p.summarizer.Summarize(ctx, text, prompt, maxTokens)
			if err != nil {
				return classifyProviderErr(err)
			}
			out = sum
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (p *Pipeline) translate(ctx context.Context, text, targetLang string) (string, error) {
	var out string
	err := p.exec.Run(ctx, "translate", func(ctx context.Context) error {
		return p.trBreaker.Execute(ctx, func(ctx context.Context) error {
			tr, err := p.translator.Translate(ctx, text, targetLang, "")
			if err != nil {
				return classifyProviderErr(err)
			}
			out = tr
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// classifyProviderErr maps the provider taxonomy onto the breaker and retry
// wrappers: permanent failures stop the retry loop but still count against
// the breaker; caller-side validation failures do neither.
func classifyProviderErr(err error) error {
	switch provider.KindOf(err) {
	case provider.KindInvalid:
		return breaker.Ignore(retry.Permanent(err))
	case provider.KindPermanent:
		return retry.Permanent(err)
	default:
		return err
	}
}

func (p *Pipeline) seen(ctx context.Context, key string, now time.Time) bool {
	if p.dedup.Seen(key, now) {
		return true
	}
	if p.store != nil {
		until, ok, err := p.store.GetDedup(ctx, key)
		if err == nil && ok && now.Before(until) {
			// Re-prime the in-memory cache so the next duplicate is cheap.
			p.dedup.Mark(key, now)
			return true
		}
	}
	return false
}

func (p *Pipeline) mark(ctx context.Context, key string, now time.Time) {
	p.dedup.Mark(key, now)
	if p.store != nil {
		cfg := p.config()
		// Detach from the per-post deadline so a timed-out post still gets
		// its durable mark.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.store.PutDedup(sctx, key, now.Add(cfg.DedupWindow)); err != nil {
			p.log.Debug("dedup persist failed", logx.Err(err))
		}
	}
}

func (p *Pipeline) publish(typ string, post domain.ChannelPost, out Outcome) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{
		Type: typ,
		Data: ProcessedEvent{
			ChannelID: post.ChannelID,
			MessageID: post.MessageID,
			Degraded:  out.Degraded,
			Delivered: out.Delivered(),
			Failed:    out.Failed(),
			Duration:  out.Duration,
		},
	})
}
