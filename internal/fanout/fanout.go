// Package fanout delivers a computed per-destination plan concurrently,
// isolating per-destination failures.
package fanout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/retry"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	// MaxConcurrency bounds in-flight sends within one Deliver call.
	MaxConcurrency int
	// RatePerSec throttles outbound sends across all Deliver calls so the
	// transport is never overwhelmed. 0 disables throttling.
	RatePerSec int
	// RetryMax / RetryBase configure the per-leg transport retry policy.
	RetryMax  int
	RetryBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 2
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	return c
}

// Leg is one destination plus its rendered content.
type Leg struct {
	SubchannelID int64
	Content      transport.Content
}

// Result records the outcome of one leg. A failed leg never aborts the
// batch; the reason travels in the aggregate map instead.
type Result struct {
	OK       bool
	Reason   string
	Attempts int
	Duration time.Duration
}

// Dispatcher owns the outbound worker width and rate limit.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	log    logx.Logger
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{cfg: cfg, sender: sender, log: log}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// Apply swaps delivery knobs at runtime. In-flight Deliver calls keep the
// width they started with.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		d.limiter = nil
	}
	d.mu.Unlock()
}

// Deliver sends every leg, at most MaxConcurrency at a time. It always
// returns the aggregate map (one Result per leg) even when every leg
// failed or the context expired mid-batch. Legs cut off by context
// cancellation are recorded as failed.
func (d *Dispatcher) Deliver(ctx context.Context, legs []Leg) map[int64]Result {
	results := make(map[int64]Result, len(legs))
	if len(legs) == 0 {
		return results
	}

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	exec := retry.New(retry.Config{MaxRetries: cfg.RetryMax, BaseDelay: cfg.RetryBase}, d.log)

	var (
		resMu sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, cfg.MaxConcurrency)
	)
	for _, leg := range legs {
		wg.Add(1)
		go func(leg Leg) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				d.record(&resMu, results, leg, Result{Reason: ctx.Err().Error()})
				return
			}

			res := d.sendOne(ctx, exec, lim, leg)
			d.record(&resMu, results, leg, res)
		}(leg)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) record(mu *sync.Mutex, results map[int64]Result, leg Leg, res Result) {
	mu.Lock()
	// A subchannel can receive several variants (one per target language).
	// The aggregate entry merges them: any failed variant marks the leg
	// failed, attempts accumulate.
	if prev, ok := results[leg.SubchannelID]; ok {
		merged := Result{
			OK:       prev.OK && res.OK,
			Attempts: prev.Attempts + res.Attempts,
			Duration: prev.Duration + res.Duration,
		}
		merged.Reason = prev.Reason
		if !res.OK && res.Reason != "" {
			if merged.Reason != "" {
				merged.Reason += "; "
			}
			merged.Reason += res.Reason
		}
		results[leg.SubchannelID] = merged
	} else {
		results[leg.SubchannelID] = res
	}
	mu.Unlock()
	if !res.OK {
		d.log.Warn("delivery failed",
			logx.Int64("subchannel_id", leg.SubchannelID),
			logx.String("reason", res.Reason),
			logx.Int("attempts", res.Attempts))
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, exec *retry.Executor, lim *rate.Limiter, leg Leg) Result {
	start := time.Now()
	attempts := 0

	err := exec.Run(ctx, "send", func(ctx context.Context) error {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}
		attempts++
		return d.sender.Send(ctx, leg.SubchannelID, leg.Content)
	})

	res := Result{OK: err == nil, Attempts: attempts, Duration: time.Since(start)}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}
