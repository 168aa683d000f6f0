package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ImageRetry.MaxAttempts != 30 || cfg.CommandRetry.MaxAttempts != 5 {
		t.Errorf("unexpected retry budgets: %+v / %+v", cfg.ImageRetry, cfg.CommandRetry)
	}
	if cfg.TypingDebounce != 1500*time.Millisecond {
		t.Errorf("unexpected debounce %v", cfg.TypingDebounce)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeFile(t, `
image_addr: 10.0.0.2:9000
image_retry:
  max_attempts: 3
  delay: 250ms
typing_debounce: 2s
watch_dir: /tmp/work
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ImageAddr != "10.0.0.2:9000" {
		t.Errorf("image_addr not applied: %q", cfg.ImageAddr)
	}
	if cfg.ImageRetry.MaxAttempts != 3 || cfg.ImageRetry.Delay != 250*time.Millisecond {
		t.Errorf("image_retry not applied: %+v", cfg.ImageRetry)
	}
	if cfg.TypingDebounce != 2*time.Second {
		t.Errorf("typing_debounce not applied: %v", cfg.TypingDebounce)
	}
	if cfg.WatchDir != "/tmp/work" {
		t.Errorf("watch_dir not applied: %q", cfg.WatchDir)
	}
	// Unset keys keep their defaults.
	if cfg.CommandAddr != "127.0.0.1:11999" || cfg.CommandRetry.MaxAttempts != 5 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "image_retry: [1, 2")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TAMO_IMAGE_ADDR":      "127.0.0.1:13000",
		"TAMO_LISTEN_ADDR":     ":9999",
		"TAMO_TYPING_DEBOUNCE": "750ms",
		"TAMO_STATIC_DIR":      "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	cfg.StaticDir = "/srv/www"
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.ImageAddr != "127.0.0.1:13000" || cfg.ListenAddr != ":9999" {
		t.Errorf("addresses not applied: %+v", cfg)
	}
	if cfg.TypingDebounce != 750*time.Millisecond {
		t.Errorf("debounce not applied: %v", cfg.TypingDebounce)
	}
	if cfg.StaticDir != "/srv/www" {
		t.Errorf("empty env value should not override, got %q", cfg.StaticDir)
	}

	env["TAMO_TYPING_DEBOUNCE"] = "soon"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty image addr", func(c *Config) { c.ImageAddr = "" }, "image_addr"},
		{"empty command addr", func(c *Config) { c.CommandAddr = "" }, "command_addr"},
		{"negative attempts", func(c *Config) { c.CommandRetry.MaxAttempts = -1 }, "command_retry"},
		{"zero delay", func(c *Config) { c.ImageRetry.Delay = 0 }, "image_retry"},
		{"zero debounce", func(c *Config) { c.TypingDebounce = 0 }, "typing_debounce"},
		{"multi-line status", func(c *Config) { c.TypingIdleLine = "status:\nidle" }, "typing_idle_line"},
		{"negative frame cap", func(c *Config) { c.MaxFrameBytes = -1 }, "max_frame_bytes"},
		{"frame cap below terminator", func(c *Config) { c.MaxFrameBytes = 4 }, "max_frame_bytes"},
		{"unbounded frames allowed", func(c *Config) { c.MaxFrameBytes = 0 }, ""},
		{"zero attempts allowed", func(c *Config) { c.ImageRetry.MaxAttempts = 0 }, ""},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		err := cfg.Validate()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: expected error mentioning %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}
