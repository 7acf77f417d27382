package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, ":6053", cfg.Server.BindAddress)
	assert.Equal(t, 8, cfg.Server.MaxConnections)
}

func TestValidateRejectsMissingDeviceName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Name = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsOversizedConnectionPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxConnections = 65
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsMissingBindAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.BindAddress = ""
	assert.Error(t, Validate(cfg))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "btproxyd.yaml")

	original := DefaultConfig()
	original.Device.Name = "my-proxy"
	original.Server.Password = "hunter2"
	original.Server.MaxConnections = 3

	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-proxy", loaded.Device.Name)
	assert.Equal(t, "hunter2", loaded.Server.Password)
	assert.Equal(t, 3, loaded.Server.MaxConnections)
}

func TestLoadExplicitMissingPathIsError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	// An explicit path that doesn't exist is a read error, not a silent
	// fallback: Load only falls back to DefaultConfig when no explicit
	// path is given and none of the default search locations exist.
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadWithNoExplicitPathReturnsValidatedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.BindAddress, cfg.Server.BindAddress)
}
