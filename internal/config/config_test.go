package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
telegram:
  token: "123:abc"
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: 15s
rate_limit:
  window: 30s
  max_requests: 5
pipeline:
  timeout: 1m
  workers: 8
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	rl := cfg.RateLimitConfig()
	if rl.Window != 30*time.Second || rl.MaxRequests != 5 {
		t.Fatalf("rate limit = %+v", rl)
	}
	if cfg.Pipeline.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Pipeline.Workers)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "123:abc"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", minimalYAML+`
rate_limti:
  window: 30s
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadRejectsMissingToken(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  console: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for missing telegram.token")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", minimalYAML+`
retry:
  base_delay: fast
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "2m", want: 2 * time.Minute},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("x", "", time.Minute)
	if err != nil || got != time.Minute {
		t.Fatalf("got %v, %v; want default 1m", got, err)
	}
	got, err = ParseDurationOrDefault("x", "5s", time.Minute)
	if err != nil || got != 5*time.Second {
		t.Fatalf("got %v, %v; want 5s", got, err)
	}
}

func TestDefaultsFlowThroughMappers(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", minimalYAML)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Omitted sections map to zero values; components fill their own
	// defaults.
	if got := cfg.RetryConfig(); got.MaxRetries != 0 || got.BaseDelay != 0 {
		t.Fatalf("retry mapping = %+v, want zero values", got)
	}
	if got := cfg.StorageConfig(); got.Driver != "" {
		t.Fatalf("storage mapping = %+v, want disabled", got)
	}
}

func TestManagerGetAfterLoad(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", minimalYAML)
	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() == nil {
		t.Fatal("Get after Load should return the committed config")
	}
}
