package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadParsesValues(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("SERVER_URL", "http://127.0.0.1:4096/")
	t.Setenv("RECONNECT_DELAY", "3s")
	t.Setenv("THROTTLE_WINDOW", "200")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:4096" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.ServerURL)
	}
	if cfg.Tracker.ReconnectDelay != 3*time.Second {
		t.Fatalf("ReconnectDelay = %v", cfg.Tracker.ReconnectDelay)
	}
	if cfg.Tracker.ThrottleWindow != 200*time.Millisecond {
		t.Fatalf("ThrottleWindow = %v", cfg.Tracker.ThrottleWindow)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins = %v, want same-origin only", cfg.AllowedOrigins)
	}
	if hosts := cfg.OriginHosts(); len(hosts) != 0 {
		t.Fatalf("OriginHosts = %v, want none", hosts)
	}
	if cfg.AllowsAnyOrigin() {
		t.Fatal("default must not allow any origin")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SERVER_URL", "https://assistant.example.com")
	t.Setenv("SERVER_DIRECTORY", "/work/app")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CONSOLE_NOTIFICATIONS", "yes")
	t.Setenv("PROMPT_RATE_LIMIT", "0.5")
	t.Setenv("RECONNECT_DELAY", "5s")
	t.Setenv("THROTTLE_WINDOW", "200ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" || cfg.ServerDirectory != "/work/app" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.LogLevel)
	}
	if !cfg.Notifications.Console {
		t.Fatal("expected console notifications")
	}
	if cfg.RateLimit.PromptsPerSecond != 0.5 {
		t.Fatalf("PromptsPerSecond = %v", cfg.RateLimit.PromptsPerSecond)
	}
	hosts := cfg.OriginHosts()
	if len(hosts) != 2 || hosts[0] != "a.example.com" || hosts[1] != "b.example.com" {
		t.Fatalf("OriginHosts = %v", hosts)
	}
	if cfg.AllowsAnyOrigin() {
		t.Fatal("did not expect wildcard origin")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:      "8080",
			DBPath:    "db",
			ServerURL: "http://localhost:4096",
			Tracker:   TrackerConfig{ReconnectDelay: time.Second, ThrottleWindow: time.Second},
			SSE:       SSEConfig{KeepaliveInterval: time.Second, RetryDelay: time.Second},
			RateLimit: RateLimitConfig{PromptsPerSecond: 1, Burst: 1},
			Notifications: NotificationConfig{
				Retention: time.Hour,
			},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty db", func(c *Config) { c.DBPath = "" }},
		{"bad server url", func(c *Config) { c.ServerURL = "localhost:4096" }},
		{"zero reconnect", func(c *Config) { c.Tracker.ReconnectDelay = 0 }},
		{"zero throttle", func(c *Config) { c.Tracker.ThrottleWindow = 0 }},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"zero retention", func(c *Config) { c.Notifications.Retention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestGetEnvDurationFallback(t *testing.T) {
	t.Setenv("SOME_DELAY", "soon")
	if got := getEnvDuration("SOME_DELAY", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}
