package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CALLBACK_PORT_RANGE_START", "CALLBACK_PORT_RANGE_END",
		"SUBSCRIPTION_TIMEOUT_SECONDS", "RENEWAL_THRESHOLD_SECONDS",
		"MAX_RENEWAL_ATTEMPTS", "RENEWAL_BACKOFF_BASE_MS",
		"POLLING_BASE_INTERVAL_MS", "EVENT_TIMEOUT_SECONDS",
		"CHANGE_STREAM_CAPACITY", "WATCH_CACHE_TIMEOUT_MS",
		"ENABLE_PROACTIVE_FIREWALL_DETECTION", "LOG_LEVEL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3400, cfg.CallbackPortRangeStart)
	require.Equal(t, 3500, cfg.CallbackPortRangeEnd)
	require.Equal(t, 3600, cfg.SubscriptionTimeoutSeconds)
	require.Equal(t, 300, cfg.RenewalThresholdSeconds)
	require.Equal(t, 3, cfg.MaxRenewalAttempts)
	require.True(t, cfg.EnableProactiveFirewallDetection)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLBACK_PORT_RANGE_START", "4000")
	t.Setenv("CALLBACK_PORT_RANGE_END", "4100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENABLE_PROACTIVE_FIREWALL_DETECTION", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.CallbackPortRangeStart)
	require.Equal(t, 4100, cfg.CallbackPortRangeEnd)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.EnableProactiveFirewallDetection)
}

func TestLoadMalformedIntFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RENEWAL_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRenewalAttempts)
}

func TestLoadInvalidPortRangeReturnsConfigError(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLBACK_PORT_RANGE_START", "4100")
	t.Setenv("CALLBACK_PORT_RANGE_END", "4000")

	_, err := Load()
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "CALLBACK_PORT_RANGE_START/END", cfgErr.Field)
}

func TestLoadRenewalThresholdMustBeLessThanTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUBSCRIPTION_TIMEOUT_SECONDS", "100")
	t.Setenv("RENEWAL_THRESHOLD_SECONDS", "100")

	_, err := Load()
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "RENEWAL_THRESHOLD_SECONDS", cfgErr.Field)
}

func TestLoadMaxRenewalAttemptsMustBePositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RENEWAL_ATTEMPTS", "0")

	_, err := Load()
	var cfgErr *apperrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "MAX_RENEWAL_ATTEMPTS", cfgErr.Field)
}
