// Package config loads the event pipeline's runtime configuration from
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
)

// Config holds the resolved runtime configuration for the event pipeline.
type Config struct {
	CallbackPortRangeStart int `yaml:"callback_port_range_start"`
	CallbackPortRangeEnd   int `yaml:"callback_port_range_end"`

	SubscriptionTimeoutSeconds int `yaml:"subscription_timeout_seconds"`
	RenewalThresholdSeconds    int `yaml:"renewal_threshold_seconds"`
	MaxRenewalAttempts         int `yaml:"max_renewal_attempts"`
	RenewalBackoffBaseMs       int `yaml:"renewal_backoff_base_ms"`

	PollingBaseIntervalMs int `yaml:"polling_base_interval_ms"`
	EventTimeoutSeconds   int `yaml:"event_timeout_seconds"`

	ChangeStreamCapacity int `yaml:"change_stream_capacity"`
	WatchCacheTimeoutMs  int `yaml:"watch_cache_timeout_ms"`

	EnableProactiveFirewallDetection bool `yaml:"enable_proactive_firewall_detection"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from environment variables with defaults,
// failing fast on structurally invalid values.
func Load() (Config, error) {
	cfg := Config{
		CallbackPortRangeStart:            envInt("CALLBACK_PORT_RANGE_START", 3400),
		CallbackPortRangeEnd:              envInt("CALLBACK_PORT_RANGE_END", 3500),
		SubscriptionTimeoutSeconds:        envInt("SUBSCRIPTION_TIMEOUT_SECONDS", 3600),
		RenewalThresholdSeconds:           envInt("RENEWAL_THRESHOLD_SECONDS", 300),
		MaxRenewalAttempts:                envInt("MAX_RENEWAL_ATTEMPTS", 3),
		RenewalBackoffBaseMs:              envInt("RENEWAL_BACKOFF_BASE_MS", 2000),
		PollingBaseIntervalMs:             envInt("POLLING_BASE_INTERVAL_MS", 5000),
		EventTimeoutSeconds:               envInt("EVENT_TIMEOUT_SECONDS", 30),
		ChangeStreamCapacity:              envInt("CHANGE_STREAM_CAPACITY", 256),
		WatchCacheTimeoutMs:               envInt("WATCH_CACHE_TIMEOUT_MS", 5000),
		EnableProactiveFirewallDetection:  envBool("ENABLE_PROACTIVE_FIREWALL_DETECTION", true),
		LogLevel:                          envString("LOG_LEVEL", "info"),
	}

	if cfg.CallbackPortRangeStart <= 0 || cfg.CallbackPortRangeEnd <= 0 ||
		cfg.CallbackPortRangeStart > cfg.CallbackPortRangeEnd {
		return Config{}, &apperrors.ConfigError{
			Field:  "CALLBACK_PORT_RANGE_START/END",
			Detail: "must be positive and START <= END",
		}
	}
	if cfg.SubscriptionTimeoutSeconds <= cfg.RenewalThresholdSeconds {
		return Config{}, &apperrors.ConfigError{
			Field:  "RENEWAL_THRESHOLD_SECONDS",
			Detail: "must be less than SUBSCRIPTION_TIMEOUT_SECONDS",
		}
	}
	if cfg.MaxRenewalAttempts <= 0 {
		return Config{}, &apperrors.ConfigError{
			Field:  "MAX_RENEWAL_ATTEMPTS",
			Detail: "must be positive",
		}
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
