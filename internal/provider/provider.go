// Package provider defines the external enrichment collaborators (AI
// summarization, translation) and their failure taxonomy.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Summarizer condenses post text, optionally steered by a prompt template.
type Summarizer interface {
	Summarize(ctx context.Context, text, prompt string, maxTokens int) (string, error)
}

// Translator renders text in the target language. sourceLang empty means
// auto-detect.
type Translator interface {
	Translate(ctx context.Context, text, targetLang, sourceLang string) (string, error)
}

// Kind classifies a provider failure for the retry/breaker wrappers.
type Kind int

const (
	// KindTransient: connectivity/timeout-class, worth retrying.
	KindTransient Kind = iota
	// KindPermanent: the dependency rejected the call for good (quota
	// exhausted, unsupported input). Retrying won't help; counts against
	// the circuit breaker.
	KindPermanent
	// KindInvalid: caller-side validation failure. Not retryable and not
	// attributable to the dependency, so it must not trip the breaker.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is the classified failure returned by provider clients.
type Error struct {
	Provider string
	Op       string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindTransient, Err: err}
}

func Permanent(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindPermanent, Err: err}
}

func Invalid(provider, op string, err error) error {
	return &Error{Provider: provider, Op: op, Kind: KindInvalid, Err: err}
}

// KindOf returns the classification of err, defaulting to transient for
// unclassified failures (the conservative choice: they get bounded retries).
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
