package config

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "manifest", cfg.ManifestPath)
	assert.Equal(t, "steps", cfg.StepsDir)
	assert.Equal(t, "catalog", cfg.CatalogDir)
	assert.Equal(t, filepath.Join("catalog", ".datakiln", "history.db"), cfg.LedgerPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DATAKILN_WORKERS", "16")
	t.Setenv("DATAKILN_LOG_FORMAT", "json")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestSlogLevel(t *testing.T) {
	testCases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range testCases {
		cfg := &Config{LogLevel: tc.level}
		assert.Equal(t, tc.want, cfg.SlogLevel(), "level %q", tc.level)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ManifestPath: "m", StepsDir: "s", CatalogDir: "c",
			Workers: 1, LogLevel: "info", LogFormat: "text",
		}
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty manifest path", func(c *Config) { c.ManifestPath = "" }},
		{"empty steps dir", func(c *Config) { c.StepsDir = "" }},
		{"empty catalog dir", func(c *Config) { c.CatalogDir = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
