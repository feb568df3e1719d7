// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string
	ServerURL       string
	ServerDirectory string
	DBPath          string
	AllowedOrigins  []string
	LogLevel        slog.Level
	Tracker         TrackerConfig
	SSE             SSEConfig
	RateLimit       RateLimitConfig
	Notifications   NotificationConfig
}

// TrackerConfig controls the event stream connection.
type TrackerConfig struct {
	ReconnectDelay time.Duration
	ThrottleWindow time.Duration
}

// SSEConfig controls the re-broadcast event stream served to clients.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// RateLimitConfig bounds prompts per session.
type RateLimitConfig struct {
	PromptsPerSecond float64
	Burst            int
}

// NotificationConfig controls notification history and console output.
type NotificationConfig struct {
	Retention time.Duration
	Console   bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "9090"),
		ServerURL:       strings.TrimRight(getEnv("SERVER_URL", "http://127.0.0.1:4096"), "/"),
		ServerDirectory: getEnv("SERVER_DIRECTORY", ""),
		DBPath:          getEnv("DB_PATH", "./data/eventsync.db"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", nil),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Tracker: TrackerConfig{
			ReconnectDelay: getEnvDuration("RECONNECT_DELAY", 3*time.Second),
			ThrottleWindow: getEnvDuration("THROTTLE_WINDOW", 200*time.Millisecond),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 3*time.Second),
		},
		RateLimit: RateLimitConfig{
			PromptsPerSecond: getEnvFloat("PROMPT_RATE_LIMIT", 1),
			Burst:            getEnvInt("PROMPT_RATE_BURST", 5),
		},
		Notifications: NotificationConfig{
			Retention: getEnvDuration("NOTIFICATION_RETENTION", 7*24*time.Hour),
			Console:   getEnvBool("CONSOLE_NOTIFICATIONS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SERVER_URL must be an http(s) URL, got %q", c.ServerURL)
	}
	if c.Tracker.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be > 0")
	}
	if c.Tracker.ThrottleWindow <= 0 {
		return fmt.Errorf("THROTTLE_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SSE.RetryDelay <= 0 {
		return fmt.Errorf("SSE_RETRY_DELAY must be > 0")
	}
	if c.RateLimit.PromptsPerSecond <= 0 {
		return fmt.Errorf("PROMPT_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("PROMPT_RATE_BURST must be > 0")
	}
	if c.Notifications.Retention <= 0 {
		return fmt.Errorf("NOTIFICATION_RETENTION must be > 0")
	}
	return nil
}

// GRPCEnabled reports whether the gRPC health server should start.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCPort != "" && c.GRPCPort != "0"
}

// AllowsAnyOrigin reports whether ALLOWED_ORIGINS contains "*".
func (c *Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// OriginHosts returns the allowed origins as host patterns for WebSocket
// origin checks. With no origins configured it is empty, which limits the
// feed to same-origin pages; "*" only appears when configured explicitly.
func (c *Config) OriginHosts() []string {
	hosts := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		} else {
			hosts = append(hosts, o)
		}
	}
	return hosts
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("3s") or plain milliseconds ("3000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
