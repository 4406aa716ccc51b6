// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envPrefix namespaces every recognised environment variable.
const envPrefix = "VALET_"

// Config is the full runtime configuration.
type Config struct {
	AnthropicAPIKey string
	Model           string
	MaxTokens       int

	DataDir string
	Host    string
	Port    int

	LogLevel           string
	MaxContextMessages int
	AutoApproveReads   bool

	SchedulerEnabled  bool
	SchedulerTimezone string

	WebhookEnabled bool
	WebhookSecret  string

	WatchdogEnabled         bool
	WatchdogPaths           []string
	WatchdogDebounceSeconds float64

	DNDEnabled     bool
	DNDStart       string
	DNDEnd         string
	DNDAllowUrgent bool

	AgentsEnabled  bool
	PluginsEnabled bool
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Model:                   "claude-sonnet-4-20250514",
		MaxTokens:               4096,
		DataDir:                 filepath.Join(home, ".valet"),
		Host:                    "127.0.0.1",
		Port:                    8787,
		LogLevel:                "info",
		MaxContextMessages:      50,
		AutoApproveReads:        true,
		SchedulerEnabled:        true,
		WatchdogDebounceSeconds: 2,
		DNDStart:                "22:00",
		DNDEnd:                  "08:00",
		DNDAllowUrgent:          true,
		AgentsEnabled:           true,
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() *Config {
	cfg := Default()

	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Model, "MODEL")
	setInt(&cfg.MaxTokens, "MAX_TOKENS")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.Host, "HOST")
	setInt(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setInt(&cfg.MaxContextMessages, "MAX_CONTEXT_MESSAGES")
	setBool(&cfg.AutoApproveReads, "AUTO_APPROVE_READS")
	setBool(&cfg.SchedulerEnabled, "SCHEDULER_ENABLED")
	setString(&cfg.SchedulerTimezone, "SCHEDULER_TIMEZONE")
	setBool(&cfg.WebhookEnabled, "WEBHOOK_ENABLED")
	setString(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	setBool(&cfg.WatchdogEnabled, "WATCHDOG_ENABLED")
	setList(&cfg.WatchdogPaths, "WATCHDOG_PATHS")
	setFloat(&cfg.WatchdogDebounceSeconds, "WATCHDOG_DEBOUNCE_SECONDS")
	setBool(&cfg.DNDEnabled, "DND_ENABLED")
	setString(&cfg.DNDStart, "DND_START")
	setString(&cfg.DNDEnd, "DND_END")
	setBool(&cfg.DNDAllowUrgent, "DND_ALLOW_URGENT")
	setBool(&cfg.AgentsEnabled, "AGENTS_ENABLED")
	setBool(&cfg.PluginsEnabled, "PLUGINS_ENABLED")

	return cfg
}

// Validate checks for values the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.SchedulerTimezone != "" {
		if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
			return fmt.Errorf("invalid scheduler_timezone %q: %w", c.SchedulerTimezone, err)
		}
	}
	return nil
}

// WatchdogDebounce returns the debounce interval as a duration.
func (c *Config) WatchdogDebounce() time.Duration {
	if c.WatchdogDebounceSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.WatchdogDebounceSeconds * float64(time.Second))
}

// SlogLevel maps log_level to a slog level; unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
