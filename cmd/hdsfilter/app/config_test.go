package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	osArgs := []string{"/path/hdsfilter", "http://example.com/stream.f4m"}
	cfg, err := LoadConfig(osArgs)
	assert.NoError(t, err)
	c := DefaultConfig
	c.ManifestURL = "http://example.com/stream.f4m"
	assert.Equal(t, c, *cfg)
}

func TestCommandLine(t *testing.T) {
	osArgs := []string{"/path/hdsfilter", "--loglevel", "debug", "--downloadleadtimes", "30", "http://example.com/stream.f4m"}
	cfg, err := LoadConfig(osArgs)
	assert.NoError(t, err)
	c := DefaultConfig
	c.ManifestURL = "http://example.com/stream.f4m"
	c.LogLevel = "debug"
	c.DownloadLeadtimeS = 30
	assert.Equal(t, c, *cfg)
}

func TestEnv(t *testing.T) {
	osArgs := []string{"/path/hdsfilter", "http://example.com/stream.f4m"}
	t.Setenv("HDSFILTER_LOGLEVEL", "warn")
	cfg, err := LoadConfig(osArgs)
	assert.NoError(t, err)
	c := DefaultConfig
	c.ManifestURL = "http://example.com/stream.f4m"
	c.LogLevel = "warn"
	assert.Equal(t, c, *cfg)
}

func TestMissingManifestURLErrors(t *testing.T) {
	osArgs := []string{"/path/hdsfilter"}
	_, err := LoadConfig(osArgs)
	assert.Error(t, err)
}

func TestTooManyArgsErrors(t *testing.T) {
	osArgs := []string{"/path/hdsfilter", "a", "b"}
	_, err := LoadConfig(osArgs)
	assert.Error(t, err)
}

func TestVersionFlagSkipsManifestRequirement(t *testing.T) {
	osArgs := []string{"/path/hdsfilter", "--version"}
	cfg, err := LoadConfig(osArgs)
	assert.NoError(t, err)
	assert.True(t, cfg.Version)
	assert.Empty(t, cfg.ManifestURL)
}
