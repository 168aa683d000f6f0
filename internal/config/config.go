// Package config loads bridge settings from defaults, an optional YAML
// file and TAMO_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tamo-bridge/internal/activity"
	"tamo-bridge/internal/framing"
	"tamo-bridge/internal/link"
)

// Config is the complete bridge configuration.
type Config struct {
	// ImageAddr is the backend's frame stream endpoint.
	ImageAddr string `yaml:"image_addr"`

	// CommandAddr is the backend's command endpoint.
	CommandAddr string `yaml:"command_addr"`

	ImageRetry   link.RetryPolicy `yaml:"image_retry"`
	CommandRetry link.RetryPolicy `yaml:"command_retry"`

	// DialTimeout bounds a single connect attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// MaxFrameBytes caps the unterminated tail kept by the image channel.
	// Zero disables the cap.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	TypingDebounce    time.Duration `yaml:"typing_debounce"`
	TypingStartedLine string        `yaml:"typing_started_line"`
	TypingIdleLine    string        `yaml:"typing_idle_line"`

	// ListenAddr is where the websocket and REST hub listens.
	ListenAddr string `yaml:"listen_addr"`

	// StaticDir, when set, is served at /.
	StaticDir string `yaml:"static_dir"`

	// WatchDir, when set, is watched recursively and every change counts
	// as typing activity.
	WatchDir string `yaml:"watch_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ImageAddr:         "127.0.0.1:12000",
		CommandAddr:       "127.0.0.1:11999",
		ImageRetry:        link.RetryPolicy{MaxAttempts: 30, Delay: time.Second},
		CommandRetry:      link.RetryPolicy{MaxAttempts: 5, Delay: time.Second},
		DialTimeout:       2 * time.Second,
		MaxFrameBytes:     32 << 20,
		TypingDebounce:    activity.DefaultDebounce,
		TypingStartedLine: activity.DefaultStartedLine,
		TypingIdleLine:    activity.DefaultIdleLine,
		ListenAddr:        "127.0.0.1:8420",
	}
}

// Load returns the defaults overlaid by the YAML file at path (skipped
// when path is empty) and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TAMO_IMAGE_ADDR":   &c.ImageAddr,
		"TAMO_COMMAND_ADDR": &c.CommandAddr,
		"TAMO_LISTEN_ADDR":  &c.ListenAddr,
		"TAMO_WATCH_DIR":    &c.WatchDir,
		"TAMO_STATIC_DIR":   &c.StaticDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("TAMO_TYPING_DEBOUNCE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TAMO_TYPING_DEBOUNCE: %w", err)
		}
		c.TypingDebounce = d
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ImageAddr == "" {
		return fmt.Errorf("image_addr is required")
	}
	if c.CommandAddr == "" {
		return fmt.Errorf("command_addr is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	for name, p := range map[string]link.RetryPolicy{"image_retry": c.ImageRetry, "command_retry": c.CommandRetry} {
		if p.MaxAttempts < 0 {
			return fmt.Errorf("%s: max_attempts must not be negative", name)
		}
		if p.Delay <= 0 {
			return fmt.Errorf("%s: delay must be positive", name)
		}
	}

	if c.DialTimeout < 0 {
		return fmt.Errorf("dial_timeout must not be negative")
	}
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes must not be negative")
	}
	if c.MaxFrameBytes > 0 && c.MaxFrameBytes < len(framing.Terminator) {
		return fmt.Errorf("max_frame_bytes must be 0 or at least %d", len(framing.Terminator))
	}
	if c.TypingDebounce <= 0 {
		return fmt.Errorf("typing_debounce must be positive")
	}

	for name, line := range map[string]string{"typing_started_line": c.TypingStartedLine, "typing_idle_line": c.TypingIdleLine} {
		if line == "" {
			return fmt.Errorf("%s is required", name)
		}
		if strings.ContainsAny(line, "\r\n") {
			return fmt.Errorf("%s must be a single line", name)
		}
	}

	return nil
}
