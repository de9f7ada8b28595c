// Package gemini implements the AI provider collaborators on top of the
// official genai SDK. One Client serves both summarization and translation;
// the pipeline wraps each concern in its own circuit breaker.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"relaybot/internal/provider"
	"relaybot/pkg/logx"
)

type Config struct {
	APIKey string
	// Model is the genai model name, e.g. "gemini-2.5-flash".
	Model string
	// MaxTokens caps summary output; 0 keeps the model default.
	MaxTokens int
	// RequestTimeout bounds a single generate call.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gemini-2.5-flash"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

const defaultSummaryPrompt = "Summarize the following post in its original language. Keep it short and factual, no preamble."

type Client struct {
	cfg    Config
	log    logx.Logger
	client *genai.Client
}

var _ provider.Summarizer = (*Client)(nil)
var _ provider.Translator = (*Client)(nil)

func New(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{cfg: cfg, log: log.With(logx.String("provider", "gemini")), client: gc}, nil
}

func (c *Client) Summarize(ctx context.Context, text, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", provider.Invalid("gemini", "summarize", errors.New("empty text"))
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultSummaryPrompt
	}
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	return c.generate(ctx, "summarize", prompt+"\n\n"+text, maxTokens)
}

func (c *Client) Translate(ctx context.Context, text, targetLang, sourceLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", provider.Invalid("gemini", "translate", errors.New("empty text"))
	}
	if strings.TrimSpace(targetLang) == "" {
		return "", provider.Invalid("gemini", "translate", errors.New("target language is empty"))
	}
	var prompt string
	if strings.TrimSpace(sourceLang) == "" {
		prompt = fmt.Sprintf("Translate the following text to %q. Detect the source language. Reply with the translation only.", targetLang)
	} else {
		prompt = fmt.Sprintf("Translate the following text from %q to %q. Reply with the translation only.", sourceLang, targetLang)
	}
	return c.generate(ctx, "translate", prompt+"\n\n"+text, 0)
}

func (c *Client) generate(ctx context.Context, op, prompt string, maxTokens int) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var cfg *genai.GenerateContentConfig
	if maxTokens > 0 {
		cfg = &genai.GenerateContentConfig{MaxOutputTokens: genai.Ptr(int64(maxTokens))}
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(cctx, c.cfg.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", classify(op, err)
	}
	text, err := result.Text()
	if err != nil {
		return "", provider.Transient("gemini", op, fmt.Errorf("extract text: %w", err))
	}
	c.log.Debug("generate ok", logx.String("op", op), logx.Duration("dur", time.Since(start)))
	return strings.TrimSpace(text), nil
}

// classify maps SDK failures onto the provider taxonomy. The SDK surfaces
// HTTP status in the error string, so matching follows suit.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.Transient("gemini", op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted"):
		// Daily quota is gone; retrying within this process won't help.
		return provider.Permanent("gemini", op, err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return provider.Transient("gemini", op, err)
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "504"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return provider.Transient("gemini", op, err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument"):
		return provider.Invalid("gemini", op, err)
	default:
		return provider.Permanent("gemini", op, err)
	}
}
