package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTSYNC_LISTEN", "127.0.0.1:9999")
	t.Setenv("LISTSYNC_IN_MEMORY", "true")
	t.Setenv("LISTSYNC_UPDATE_RETRIES", "9")

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.True(t, cfg.InMemory)
	assert.Equal(t, 9, cfg.UpdateRetries)
	assert.Equal(t, 9, cfg.Store().Retries)
}

func TestLoadFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "listsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte("data-dir: /var/lib/listsync\nlog-level: debug\n"), 0o600))

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/listsync", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"zero retries", func(c *Config) { c.UpdateRetries = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.InMemory = true
	assert.NoError(t, cfg.Validate())
}

func TestLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.Dev = true
	cfg.LogLevel = "debug"
	logger, err = cfg.Logger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
