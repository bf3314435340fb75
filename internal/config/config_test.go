package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsInvalidWithoutCredentials(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err, "default config has no auth credential configured")
}

func TestValidateRequiresStoragePathForFile(t *testing.T) {
	cfg := Default()
	cfg.Auth.APIKey = "secret"
	cfg.Storage.Path = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}

func TestValidateRejectsUnknownStorageType(t *testing.T) {
	cfg := Default()
	cfg.Auth.APIKey = "secret"
	cfg.Storage.Type = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.type")
}

func TestValidateRejectsNonPositiveTraceLimit(t *testing.T) {
	cfg := Default()
	cfg.Auth.APIKey = "secret"
	cfg.Trace.MaxRecords = 0
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("TRACE_MAX_RECORDS", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.APIKey)
	assert.Equal(t, 42, cfg.Trace.MaxRecords)
}

func TestLoadDefaultsCompleterTimeout(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Completer.Timeout)
}

func TestLoadDefaultsLoggingLevel(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.WriteToStderr)
}

func TestLoadAppliesLogLevelOverride(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
