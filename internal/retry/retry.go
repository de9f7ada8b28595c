// Package retry provides a bounded, linear-backoff retry wrapper for
// transient failures.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"relaybot/internal/breaker"
	"relaybot/pkg/logx"
)

type Config struct {
	// MaxRetries is the total number of attempts (not additional retries).
	MaxRetries int
	// BaseDelay is multiplied by the attempt number for linear backoff.
	BaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	return c
}

// Executor retries retryable failures and propagates terminal ones on the
// first attempt.
type Executor struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{cfg: cfg.withDefaults(), log: log}
}

// Apply swaps the retry policy at runtime.
func (e *Executor) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// Run executes op up to MaxRetries times.
//
// Terminal conditions (Permanent-wrapped errors, breaker.ErrCircuitOpen, a
// done executor context) surface immediately: the breaker is already
// protecting the call rate, so retrying a gated call would defeat it. After
// exhausting retries the last error is surfaced.
func (e *Executor) Run(ctx context.Context, name string, op func(context.Context) error) error {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	var last error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		var pe permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return err
		}
		// Ops carry their own inner timeouts, so the error chain may wrap a
		// deadline error that says nothing about this loop. Only the
		// executor's context decides whether to stop.
		if ctx.Err() != nil {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt, err)
		e.log.Debug("retry scheduled",
			logx.String("op", name),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

// backoffDelay is linear (base * attempt), overridden by an explicit
// retry-after hint when the error carries one.
func backoffDelay(cfg Config, attempt int, err error) time.Duration {
	d := cfg.BaseDelay * time.Duration(attempt)
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		if hint := ra.RetryAfter(); hint > d {
			d = hint
		}
	}
	return d
}

// Permanent marks an error as terminal so the executor won't waste attempts.
//
// Example:
//
//	return retry.Permanent(fmt.Errorf("bad input: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before retrying, e.g. when the
// downstream returns a Retry-After value (HTTP 429).
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return e.err.Error() }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
