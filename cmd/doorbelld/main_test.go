package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigurationDefaultsOnMissingFile(t *testing.T) {
	cfg, err := loadConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigurationLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
device:
  default_id: front-door-1
audio:
  device: hw:0,0
  sample_rate: 48000
  channels: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, "front-door-1", cfg.Device.DefaultID)
	assert.Equal(t, "hw:0,0", cfg.Audio.Device)
}

func TestLoadConfigurationInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o600))

	_, err := loadConfiguration(path)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "input=%q", input)
	}
}
