package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devbackup/devbackup/config"
)

func TestLoadAppliesDefaultsWhenNoFile(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "state")
	t.Setenv("DEVBACKUP_STATE_DIR", stateDir)
	t.Setenv("DEVBACKUP_DESTINATION", t.TempDir())
	t.Setenv("DEVBACKUP_SOURCES", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Retention.Hourly) //nolint:mnd
	assert.Equal(t, "interval", cfg.Scheduler.Type)
	_, statErr := os.Stat(stateDir)
	assert.NoError(t, statErr)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest")
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))

	yamlDoc := "backup_destination: " + dest + "\n" +
		"source_directories:\n  - " + src + "\n" +
		"retention:\n  hourly: 5\n  daily: 1\n  weekly: 1\n"
	cfgPath := filepath.Join(dir, "devbackup.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlDoc), 0o600))
	t.Setenv("DEVBACKUP_STATE_DIR", filepath.Join(dir, "state"))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, dest, cfg.Destination)
	assert.Equal(t, []string{src}, cfg.Sources)
	assert.Equal(t, 5, cfg.Retention.Hourly) //nolint:mnd
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o750))
	cfgPath := filepath.Join(dir, "devbackup.yaml")
	yamlDoc := "backup_destination: " + filepath.Join(dir, "dest-from-file") + "\n" +
		"source_directories:\n  - " + src + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlDoc), 0o600))

	override := filepath.Join(dir, "dest-from-env")
	t.Setenv("DEVBACKUP_DESTINATION", override)
	t.Setenv("DEVBACKUP_STATE_DIR", filepath.Join(dir, "state"))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, override, cfg.Destination)
}

func TestValidateRejectsMissingDestination(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sources = []string{"/some/source"}
	err := cfg.Validate()
	require.Error(t, err)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateRejectsEmptySources(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Destination = "/some/dest"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNegativeRetention(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Destination = "/some/dest"
	cfg.Sources = []string{"/some/source"}
	cfg.Retention.Daily = -1
	err := cfg.Validate()
	require.Error(t, err)
}

func TestPathHelpersAreRootedAtStateDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StateDir = "/var/lib/devbackup"
	assert.Equal(t, "/var/lib/devbackup/devbackup.lock", cfg.LockPath())
	assert.Equal(t, "/var/lib/devbackup/devbackup.sock", cfg.SocketPath())
	assert.Equal(t, "/var/lib/devbackup/run-state.json", cfg.RunStatePath())
	assert.Equal(t, "/var/lib/devbackup/run-state.lock", cfg.RunStateLockPath())
}
