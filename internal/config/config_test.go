package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Port != 8787 || cfg.Host != "127.0.0.1" {
		t.Errorf("listen defaults = %s:%d", cfg.Host, cfg.Port)
	}
	if !cfg.AutoApproveReads {
		t.Error("auto-approve reads should default on")
	}
	if !cfg.SchedulerEnabled || !cfg.AgentsEnabled {
		t.Error("scheduler and agents should default on")
	}
	if cfg.WebhookEnabled || cfg.WatchdogEnabled || cfg.DNDEnabled {
		t.Error("webhook, watchdog and DND should default off")
	}
	if cfg.DNDStart != "22:00" || cfg.DNDEnd != "08:00" || !cfg.DNDAllowUrgent {
		t.Errorf("DND defaults = %s-%s urgent=%v", cfg.DNDStart, cfg.DNDEnd, cfg.DNDAllowUrgent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VALET_MODEL", "claude-haiku-4")
	t.Setenv("VALET_PORT", "9090")
	t.Setenv("VALET_AUTO_APPROVE_READS", "false")
	t.Setenv("VALET_WATCHDOG_PATHS", " ~/notes, ~/inbox ,")
	t.Setenv("VALET_WATCHDOG_DEBOUNCE_SECONDS", "0.5")
	t.Setenv("VALET_LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Model != "claude-haiku-4" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.AutoApproveReads {
		t.Error("auto-approve override ignored")
	}
	if want := []string{"~/notes", "~/inbox"}; !reflect.DeepEqual(cfg.WatchdogPaths, want) {
		t.Errorf("watchdog paths = %v, want %v", cfg.WatchdogPaths, want)
	}
	if cfg.WatchdogDebounceSeconds != 0.5 {
		t.Errorf("debounce seconds = %v", cfg.WatchdogDebounceSeconds)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("VALET_PORT", "not-a-number")
	t.Setenv("VALET_SCHEDULER_ENABLED", "sometimes")
	t.Setenv("VALET_MODEL", "")

	cfg := Load()

	if cfg.Port != 8787 {
		t.Errorf("malformed port replaced default: %d", cfg.Port)
	}
	if !cfg.SchedulerEnabled {
		t.Error("malformed bool replaced default")
	}
	if cfg.Model == "" {
		t.Error("empty value replaced default model")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, true},
		{"bad timezone", func(c *Config) { c.SchedulerTimezone = "Mars/Olympus" }, true},
		{"good timezone", func(c *Config) { c.SchedulerTimezone = "Europe/London" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestWatchdogDebounce(t *testing.T) {
	if got := (&Config{WatchdogDebounceSeconds: 0.5}).WatchdogDebounce(); got != 500*time.Millisecond {
		t.Errorf("debounce = %v", got)
	}
	if got := (&Config{}).WatchdogDebounce(); got != 2*time.Second {
		t.Errorf("zero debounce fallback = %v", got)
	}
}
