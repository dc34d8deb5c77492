package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, Version, cfg.ServerVersion)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_PORT", "7777")
	t.Setenv("FORGE_DB_URL", "postgres://bridge@localhost/forge")
	t.Setenv("FORGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "postgres://bridge@localhost/forge", cfg.DatabaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:7777", cfg.Addr())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/forge.yaml")
	assert.Error(t, err)
}
