package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/treadlink/internal/config"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
device_filter = "LifeSpan TM5000"
scan_timeout = 45
poll_interval = 250
idle_window = 600
database = "/path/to/treadlink.db"
listen = ":9000"
sink = "http"
sink_url = "https://example.net/hook"
log_level = "debug"
`)
	configPath := filepath.Join(tempDir, "treadlink.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("TREADLINK_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "LifeSpan TM5000", cfg.DeviceFilter)
	assert.Equal(t, 45, cfg.ScanTimeout)
	assert.Equal(t, 250, cfg.PollInterval)
	assert.Equal(t, 600, cfg.IdleWindow)
	assert.Equal(t, "/path/to/treadlink.db", cfg.Database)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "http", cfg.SinkKind)
	assert.Equal(t, "https://example.net/hook", cfg.SinkURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TREADLINK_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, "LifeSpan", cfg.DeviceFilter)
	assert.Equal(t, 30, cfg.ScanTimeout)
	assert.Equal(t, 10, cfg.ConnectTimeout)
	assert.Equal(t, 300, cfg.PollInterval)
	assert.Equal(t, 300, cfg.IdleWindow)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 3, cfg.SilentThreshold)
	assert.Equal(t, "none", cfg.SinkKind)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
}

func TestLoadInvalidLogLevel(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "treadlink.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`log_level = "loud"`), 0o600))

	t.Setenv("TREADLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

func TestLoadSinkRequiresEndpoint(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "treadlink.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`sink = "http"`), 0o600))

	t.Setenv("TREADLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadInvalidInterval(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "treadlink.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`poll_interval = 0`), 0o600))

	t.Setenv("TREADLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
}
