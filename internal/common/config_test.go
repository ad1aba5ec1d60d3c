package common

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"APP_TOKEN", "PORT", "QUEUE_MAX_SIZE", "MAX_WORKERS", "POLL_INTERVAL_MS",
		"DEFAULT_TIMEOUT_MS", "MAX_RETRIES", "HEARTBEAT_TIMEOUT_S", "SHUTDOWN_GRACE_S",
		"STORE_TTL_S", "ROBOTMW_LOG_LEVEL", "ROBOTMW_ENV",
	}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, old)
			}
		})
	}
}

func TestLoadConfig_MissingTokenFails(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingToken))
}

func TestLoadConfig_ShortTokenFails(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_TOKEN", "short")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenTooShort))
}

func TestLoadConfig_ValidTokenSucceeds(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_TOKEN", "a-sufficiently-long-token-value")
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "a-sufficiently-long-token-value", config.Auth.Token)
	assert.Equal(t, 5000, config.Server.Port)
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_TOKEN", "a-sufficiently-long-token-value")
	os.Setenv("PORT", "9090")
	os.Setenv("MAX_WORKERS", "20")
	os.Setenv("QUEUE_MAX_SIZE", "5000")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 20, config.Worker.MaxWorkers)
	assert.Equal(t, 5000, config.Queue.MaxSize)
}

func TestLoadConfig_IgnoresMalformedNumericEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_TOKEN", "a-sufficiently-long-token-value")
	os.Setenv("PORT", "not-a-number")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5000, config.Server.Port, "malformed override is ignored, default retained")
}

func TestConfig_DurationHelpers(t *testing.T) {
	config := NewDefaultConfig()
	config.Auth.Token = "a-sufficiently-long-token-value"

	assert.Equal(t, 10e9, float64(config.ShutdownGrace()))
	assert.Equal(t, 120e9, float64(config.HeartbeatTimeout()))
	assert.Equal(t, 3600e9, float64(config.StoreTTL()))
	assert.Equal(t, 100e6, float64(config.PollInterval()))
}

func TestConfig_IsProduction(t *testing.T) {
	config := NewDefaultConfig()
	assert.False(t, config.IsProduction())

	config.Environment = "production"
	assert.True(t, config.IsProduction())

	config.Environment = "PROD"
	assert.True(t, config.IsProduction())
}
