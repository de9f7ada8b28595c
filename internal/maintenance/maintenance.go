// Package maintenance owns the periodic sweeps that keep process-local state
// bounded: rate-limit windows, pending operations, and the dedup cache.
//
// Sweeps run on a cron runner with guaranteed cancellation on shutdown, so
// there are no fire-and-forget timers anywhere in the core.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/pending"
	"relaybot/internal/pipeline"
	"relaybot/internal/ratelimit"
	"relaybot/pkg/logx"
)

type Config struct {
	RateLimitSweep time.Duration
	PendingSweep   time.Duration
	DedupSweep     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RateLimitSweep <= 0 {
		c.RateLimitSweep = time.Minute
	}
	if c.PendingSweep <= 0 {
		c.PendingSweep = time.Minute
	}
	if c.DedupSweep <= 0 {
		c.DedupSweep = 10 * time.Minute
	}
	return c
}

type Service struct {
	cfg Config
	log logx.Logger

	limiter *ratelimit.Limiter
	tracker *pending.Tracker
	pipe    *pipeline.Pipeline

	cron *cron.Cron
}

func New(cfg Config, limiter *ratelimit.Limiter, tracker *pending.Tracker, pipe *pipeline.Pipeline, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		limiter: limiter,
		tracker: tracker,
		pipe:    pipe,
	}
}

func (s *Service) Start() {
	if s.cron != nil {
		return
	}
	c := cron.New()
	c.Schedule(cron.Every(s.cfg.RateLimitSweep), cron.FuncJob(func() {
		if n := s.limiter.Sweep(time.Now()); n > 0 {
			s.log.Debug("rate windows swept", logx.Int("removed", n))
		}
	}))
	c.Schedule(cron.Every(s.cfg.PendingSweep), cron.FuncJob(func() {
		s.tracker.Sweep(time.Now())
	}))
	c.Schedule(cron.Every(s.cfg.DedupSweep), cron.FuncJob(func() {
		if n := s.pipe.SweepDedup(time.Now()); n > 0 {
			s.log.Debug("dedup cache swept", logx.Int("removed", n))
		}
	}))
	c.Start()
	s.cron = c
	s.log.Info("maintenance started",
		logx.Duration("rate_sweep", s.cfg.RateLimitSweep),
		logx.Duration("pending_sweep", s.cfg.PendingSweep),
		logx.Duration("dedup_sweep", s.cfg.DedupSweep))
}

// Stop halts the schedule and waits for in-flight sweeps, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	s.cron = nil
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("maintenance stop cancelled", logx.Err(ctx.Err()))
	}
	s.log.Info("maintenance stopped")
}
