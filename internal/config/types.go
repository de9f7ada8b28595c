package config

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/breaker"
	"relaybot/internal/fanout"
	"relaybot/internal/pending"
	"relaybot/internal/pipeline"
	"relaybot/internal/ratelimit"
	"relaybot/internal/retry"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// Config is the full process configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Decoding is strict: unknown keys are rejected up front, before the
// pipeline starts.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Provider ProviderConfig `json:"provider"`

	RateLimit RateLimitConfig `json:"rate_limit"`
	Breaker   BreakerConfig   `json:"breaker"`
	Retry     RetryConfig     `json:"retry"`
	Pending   PendingConfig   `json:"pending"`
	Fanout    FanoutConfig    `json:"fanout"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./relaybot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ProviderConfig struct {
	Gemini GeminiConfig `json:"gemini"`
}

type GeminiConfig struct {
	APIKey         string `json:"api_key"`
	Model          string `json:"model,omitempty"`
	MaxTokens      int    `json:"max_tokens,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type RateLimitConfig struct {
	Window        string `json:"window,omitempty"`
	MaxRequests   int    `json:"max_requests,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

type BreakerConfig struct {
	MaxFailures  int    `json:"max_failures,omitempty"`
	ResetTimeout string `json:"reset_timeout,omitempty"`
}

type RetryConfig struct {
	MaxRetries int    `json:"max_retries,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty"`
}

type PendingConfig struct {
	TTL           string `json:"ttl,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
}

type FanoutConfig struct {
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
}

type PipelineConfig struct {
	Timeout          string `json:"timeout,omitempty"`
	DedupSize        int    `json:"dedup_size,omitempty"`
	DedupWindow      string `json:"dedup_window,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	Workers          int    `json:"workers,omitempty"`
	MaxSummaryTokens int    `json:"max_summary_tokens,omitempty"`
}

// Validate rejects malformed configuration before anything starts. Duration
// strings are parsed here once so later mapping cannot fail.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	fields := []struct {
		path string
		raw  string
	}{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"provider.gemini.request_timeout", c.Provider.Gemini.RequestTimeout},
		{"rate_limit.window", c.RateLimit.Window},
		{"rate_limit.sweep_interval", c.RateLimit.SweepInterval},
		{"breaker.reset_timeout", c.Breaker.ResetTimeout},
		{"retry.base_delay", c.Retry.BaseDelay},
		{"pending.ttl", c.Pending.TTL},
		{"pending.sweep_interval", c.Pending.SweepInterval},
		{"fanout.retry_base", c.Fanout.RetryBase},
		{"pipeline.timeout", c.Pipeline.Timeout},
		{"pipeline.dedup_window", c.Pipeline.DedupWindow},
	}
	for _, f := range fields {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must be >= 0")
	}
	if c.Fanout.MaxConcurrency < 0 {
		return fmt.Errorf("fanout.max_concurrency must be >= 0")
	}
	return nil
}

// ---- mapping into component configs ----
// Defaults for omitted fields live in each component's withDefaults; the
// mappers only translate, so a zero value means "use the component default".

func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) StorageConfig() storage.Config {
	if c.Storage == nil {
		return storage.Config{}
	}
	busy, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}
}

func (c *Config) RateLimitConfig() ratelimit.Config {
	w, _ := ParseDurationField("rate_limit.window", c.RateLimit.Window)
	return ratelimit.Config{Window: w, MaxRequests: c.RateLimit.MaxRequests}
}

func (c *Config) BreakerConfig() breaker.Config {
	rt, _ := ParseDurationField("breaker.reset_timeout", c.Breaker.ResetTimeout)
	return breaker.Config{MaxFailures: c.Breaker.MaxFailures, ResetTimeout: rt}
}

func (c *Config) RetryConfig() retry.Config {
	bd, _ := ParseDurationField("retry.base_delay", c.Retry.BaseDelay)
	return retry.Config{MaxRetries: c.Retry.MaxRetries, BaseDelay: bd}
}

func (c *Config) PendingConfig() pending.Config {
	ttl, _ := ParseDurationField("pending.ttl", c.Pending.TTL)
	return pending.Config{TTL: ttl}
}

func (c *Config) FanoutConfig() fanout.Config {
	rb, _ := ParseDurationField("fanout.retry_base", c.Fanout.RetryBase)
	return fanout.Config{
		MaxConcurrency: c.Fanout.MaxConcurrency,
		RatePerSec:     c.Fanout.RatePerSec,
		RetryMax:       c.Fanout.RetryMax,
		RetryBase:      rb,
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	to, _ := ParseDurationField("pipeline.timeout", c.Pipeline.Timeout)
	dw, _ := ParseDurationField("pipeline.dedup_window", c.Pipeline.DedupWindow)
	return pipeline.Config{
		Timeout:          to,
		DedupSize:        c.Pipeline.DedupSize,
		DedupWindow:      dw,
		MaxSummaryTokens: c.Pipeline.MaxSummaryTokens,
	}
}

// SweepIntervals returns the maintenance cadence for the rate limiter,
// pending tracker and dedup cache.
func (c *Config) SweepIntervals() (rateSweep, pendingSweep time.Duration) {
	rateSweep, _ = ParseDurationOrDefault("rate_limit.sweep_interval", c.RateLimit.SweepInterval, time.Minute)
	pendingSweep, _ = ParseDurationOrDefault("pending.sweep_interval", c.Pending.SweepInterval, time.Minute)
	return rateSweep, pendingSweep
}
