// Package breaker implements a three-state circuit breaker placed in front
// of each unreliable external provider.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relaybot/pkg/logx"
)

// ErrCircuitOpen is returned without invoking the wrapped operation while the
// circuit is gating. Retry wrappers must treat it as terminal.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxFailures is the consecutive-failure count that trips the breaker.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before admitting a
	// single half-open trial call.
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

// Breaker wraps a single external dependency. One instance per provider;
// instances are owned by the pipeline and passed explicitly.
type Breaker struct {
	name string
	log  logx.Logger

	mu       sync.Mutex
	cfg      Config
	state    State
	fails    int
	openedAt time.Time
	// trialing is set while the single half-open trial call is in flight.
	// Concurrent callers during that window are rejected with ErrCircuitOpen.
	trialing bool
}

func New(name string, cfg Config, log logx.Logger) *Breaker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
		log:  log.With(logx.String("breaker", name)),
	}
}

// Apply swaps thresholds at runtime without resetting breaker state.
func (b *Breaker) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

// Name returns the wrapped dependency's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state and consecutive-failure count.
func (b *Breaker) State() (State, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateAtLocked(time.Now()), b.fails
}

func (b *Breaker) stateAtLocked(now time.Time) State {
	if b.state == Open && now.Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Execute runs op through the breaker.
//
// Closed: op runs; failures count toward the trip threshold.
// Open: fails fast with ErrCircuitOpen until ResetTimeout elapses.
// Half-open: exactly one trial call is admitted per open->half-open
// transition; success closes the circuit, failure re-opens it.
//
// Failures wrapped with Ignore do not count toward the threshold (they are
// caller-side, not attributable to the dependency).
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	now := time.Now()

	b.mu.Lock()
	switch b.stateAtLocked(now) {
	case Open:
		until := b.openedAt.Add(b.cfg.ResetTimeout)
		b.mu.Unlock()
		return fmt.Errorf("%s: %w (until %s)", b.name, ErrCircuitOpen, until.Format(time.RFC3339))
	case HalfOpen:
		if b.trialing {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w (trial in flight)", b.name, ErrCircuitOpen)
		}
		b.state = HalfOpen
		b.trialing = true
		b.mu.Unlock()

		err := op(ctx)

		b.mu.Lock()
		b.trialing = false
		if err == nil || ignored(err) {
			b.toClosedLocked()
			b.mu.Unlock()
			return unwrapIgnored(err)
		}
		b.openedAt = time.Now()
		b.state = Open
		b.mu.Unlock()
		b.log.Warn("half-open trial failed, circuit re-opened", logx.Err(err))
		return err
	}
	b.mu.Unlock()

	err := op(ctx)
	if err == nil {
		b.mu.Lock()
		b.toClosedLocked()
		b.mu.Unlock()
		return nil
	}
	if ignored(err) {
		return unwrapIgnored(err)
	}

	b.mu.Lock()
	b.fails++
	tripped := b.fails >= b.cfg.MaxFailures && b.state == Closed
	if tripped {
		b.state = Open
		b.openedAt = time.Now()
	}
	fails := b.fails
	b.mu.Unlock()

	if tripped {
		b.log.Warn("circuit opened", logx.Int("consecutive_failures", fails), logx.Err(err))
	}
	return err
}

func (b *Breaker) toClosedLocked() {
	if b.state != Closed && !b.log.IsZero() {
		b.log.Info("circuit closed")
	}
	b.state = Closed
	b.fails = 0
	b.openedAt = time.Time{}
}

// Ignore marks an error as not attributable to the wrapped dependency, so it
// does not count toward the trip threshold. The wrapper is transparent: the
// caller receives the original error.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return ignoredError{err: err}
}

type ignoredError struct{ err error }

func (e ignoredError) Error() string { return e.err.Error() }
func (e ignoredError) Unwrap() error { return e.err }

func ignored(err error) bool {
	var e ignoredError
	return errors.As(err, &e)
}

func unwrapIgnored(err error) error {
	var e ignoredError
	if errors.As(err, &e) {
		return e.err
	}
	return err
}
