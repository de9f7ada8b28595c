// Package app wires the process together: config, logging, storage,
// transport, provider, pipeline and the maintenance sweeps.
package app

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/admin"
	"relaybot/internal/breaker"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/eventbus"
	"relaybot/internal/fanout"
	"relaybot/internal/maintenance"
	"relaybot/internal/pending"
	"relaybot/internal/pipeline"
	"relaybot/internal/provider/gemini"
	"relaybot/internal/ratelimit"
	"relaybot/internal/retry"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	limiter *ratelimit.Limiter
	tracker *pending.Tracker

	aiBreaker *breaker.Breaker
	trBreaker *breaker.Breaker
	exec      *retry.Executor
	dispatch  *fanout.Dispatcher
	pipe      *pipeline.Pipeline
	admin     *admin.Service
	maint     *maintenance.Service

	posts   chan domain.ChannelPost
	workers int

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Storage is always on; a missing section falls back to the file driver
	// so channel records and dedup marks survive restarts out of the box.
	// "driver: none" still yields a working store, in memory only.
	sc := cfg.StorageConfig()
	if sc.Driver == "" {
		sc = storage.Config{Driver: "file", Path: "./relaybot_store"}
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	reqTimeout, _ := config.ParseDurationField("provider.gemini.request_timeout", cfg.Provider.Gemini.RequestTimeout)
	ai, err := gemini.New(ctx, gemini.Config{
		APIKey:         cfg.Provider.Gemini.APIKey,
		Model:          cfg.Provider.Gemini.Model,
		MaxTokens:      cfg.Provider.Gemini.MaxTokens,
		RequestTimeout: reqTimeout,
	}, log.With(logx.String("comp", "gemini")))
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	limiter := ratelimit.New(cfg.RateLimitConfig())
	tracker := pending.New(cfg.PendingConfig(), log.With(logx.String("comp", "pending")))
	exec := retry.New(cfg.RetryConfig(), log.With(logx.String("comp", "retry")))

	brCfg := cfg.BreakerConfig()
	aiBr := breaker.New("gemini-summarize", brCfg, log.With(logx.String("comp", "breaker")))
	trBr := breaker.New("gemini-translate", brCfg, log.With(logx.String("comp", "breaker")))

	dispatch := fanout.New(cfg.FanoutConfig(), ad, log.With(logx.String("comp", "fanout")))

	pipe := pipeline.New(cfg.PipelineConfig(), pipeline.Deps{
		Channels:   store,
		Exec:       exec,
		Dispatch:   dispatch,
		AIBreaker:  aiBr,
		TRBreaker:  trBr,
		Summarizer: ai,
		Translator: ai,
		Store:      store,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "pipeline")),
	})

	adm := admin.New(limiter, tracker, store, log.With(logx.String("comp", "admin")))

	rateSweep, pendingSweep := cfg.SweepIntervals()
	maint := maintenance.New(maintenance.Config{
		RateLimitSweep: rateSweep,
		PendingSweep:   pendingSweep,
	}, limiter, tracker, pipe, log.With(logx.String("comp", "maintenance")))

	queue := cfg.Pipeline.QueueSize
	if queue <= 0 {
		queue = 256
	}
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 4
	}

	return &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		bus:       bus,
		store:     store,
		adapter:   ad,
		limiter:   limiter,
		tracker:   tracker,
		aiBreaker: aiBr,
		trBreaker: trBr,
		exec:      exec,
		dispatch:  dispatch,
		pipe:      pipe,
		admin:     adm,
		maint:     maint,
		posts:     make(chan domain.ChannelPost, queue),
		workers:   workers,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.adapter.SetUserHandler(func(ctx context.Context, m transport.UserMessage) string {
		return a.admin.Handle(ctx, m)
	})
	if err := a.adapter.Start(rctx, a.posts); err != nil {
		cancel()
		a.cancel = nil
		return err
	}

	a.maint.Start()

	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(rctx)
	}

	a.wg.Add(1)
	go a.report(rctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(rctx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	a.wg.Add(1)
	go a.reloadLoop(rctx)

	a.log.Info("started", logx.Int("workers", a.workers), logx.Int("queue", cap(a.posts)))
	return nil
}

// worker drains the inbound post queue. One slow post never blocks the
// others beyond the queue itself.
func (a *App) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case post, ok := <-a.posts:
			if !ok {
				return
			}
			out := a.pipe.Process(ctx, post)
			if out.Failed() > 0 {
				a.log.Warn("post partially delivered",
					logx.Int64("channel_id", post.ChannelID),
					logx.Int("message_id", post.MessageID),
					logx.Int("delivered", out.Delivered()),
					logx.Int("failed", out.Failed()))
			}
		}
	}
}

// report turns pipeline events into operator-facing log lines.
func (a *App) report(ctx context.Context) {
	defer a.wg.Done()
	sub := a.bus.Subscribe(128)
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			switch e.Type {
			case pipeline.EventProcessed:
				if p, ok := e.Data.(pipeline.ProcessedEvent); ok {
					a.log.Info("post processed",
						logx.Int64("channel_id", p.ChannelID),
						logx.Int("message_id", p.MessageID),
						logx.Bool("degraded", p.Degraded),
						logx.Int("delivered", p.Delivered),
						logx.Int("failed", p.Failed),
						logx.Duration("took", p.Duration))
				}
			case pipeline.EventDuplicate, pipeline.EventFiltered:
				a.log.Debug("post skipped", logx.String("reason", e.Type))
			}
		}
	}
}

// reloadLoop applies accepted config changes to the running components.
func (a *App) reloadLoop(ctx context.Context) {
	defer a.wg.Done()
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(cfg.LogxConfig())
	a.limiter.Apply(cfg.RateLimitConfig())
	a.tracker.Apply(cfg.PendingConfig())
	a.exec.Apply(cfg.RetryConfig())
	brCfg := cfg.BreakerConfig()
	a.aiBreaker.Apply(brCfg)
	a.trBreaker.Apply(brCfg)
	a.dispatch.Apply(cfg.FanoutConfig())
	a.pipe.Apply(cfg.PipelineConfig())
	a.log.Info("config applied")
}

// Stop shuts the app down: the transport first so no new posts arrive, then
// the workers drain, then the sweeps and the stores.
func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	err := a.adapter.Stop(ctx)
	cancel()
	a.wg.Wait()
	a.maint.Stop(ctx)

	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	a.logs.Close()
	return err
}
