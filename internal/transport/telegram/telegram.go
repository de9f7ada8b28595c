// Package telegram adapts the transport boundary onto telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/domain"
	"relaybot/internal/retry"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedPosts counts posts dropped because the consumer was slower than
	// the poll loop. Logged periodically to avoid per-update spam.
	droppedPosts uint64

	handlerMu   sync.Mutex
	userHandler func(ctx context.Context, m transport.UserMessage) string
}

var _ transport.Transport = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- domain.ChannelPost) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped posts.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedPosts, 0); n > 0 {
					a.log.Warn("inbound posts dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedPosts, 0); n > 0 {
					a.log.Warn("inbound posts dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		post := domain.ChannelPost{
			ChannelID:  m.Chat.ID,
			MessageID:  m.ID,
			Text:       postText(m),
			ReceivedAt: time.Now(),
		}
		if m.Photo != nil {
			post.MediaRefs = append(post.MediaRefs, m.Photo.FileID)
		}
		if m.Video != nil {
			post.MediaRefs = append(post.MediaRefs, m.Video.FileID)
		}
		if m.Document != nil {
			post.MediaRefs = append(post.MediaRefs, m.Document.FileID)
		}
		select {
		case out <- post:
		default:
			atomic.AddUint64(&a.droppedPosts, 1)
		}
		return nil
	})

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || !m.Private() {
			return nil
		}
		a.handlerMu.Lock()
		handler := a.userHandler
		a.handlerMu.Unlock()
		if handler == nil {
			return nil
		}
		reply := handler(rctx, transport.UserMessage{
			UserID: m.Sender.ID,
			ChatID: m.Chat.ID,
			Text:   m.Text,
		})
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	go func() {
		defer a.runWG.Done()
		a.log.Info("polling started")
		a.bot.Start()
	}()
	return nil
}

// SetUserHandler installs the owner-facing configuration handler. The
// returned string, if non-empty, is sent back as the reply.
func (a *Adapter) SetUserHandler(fn func(ctx context.Context, m transport.UserMessage) string) {
	a.handlerMu.Lock()
	a.userHandler = fn
	a.handlerMu.Unlock()
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// Send delivers one leg. Telegram failures are classified for the fanout
// retry wrapper: flood waits carry an explicit retry-after hint, everything
// the API rejects outright is permanent.
func (a *Adapter) Send(ctx context.Context, subchannelID int64, content transport.Content) error {
	_ = ctx // telebot does not take a context for sends
	chat := &tele.Chat{ID: subchannelID}
	_, err := a.bot.Send(chat, content.Rendered(), &tele.SendOptions{DisableWebPagePreview: true})
	if err == nil {
		return nil
	}
	return classifySendErr(err)
}

func classifySendErr(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return retry.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrNoRightsToSend):
		return retry.Permanent(err)
	}
	// Network-class failures stay retryable.
	return err
}

func postText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
