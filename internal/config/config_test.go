package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirHonorsXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "dotunnel"), Dir())
}

func TestLoadMissingFilesYieldEmpty(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles)

	creds, err := LoadCredentials()
	require.NoError(t, err)
	assert.Empty(t, creds.Profiles)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	cfg.SetProfile("default", ProfileConfig{ServiceURL: "https://dotunnel.dev"})
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	p, ok := loaded.Profile("default")
	require.True(t, ok)
	assert.Equal(t, "https://dotunnel.dev", p.ServiceURL)

	_, ok = loaded.Profile("other")
	assert.False(t, ok)
}

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	creds, err := LoadCredentials()
	require.NoError(t, err)
	creds.SetProfile("default", ProfileCredentials{Token: "secret"})
	require.NoError(t, creds.Save())

	info, err := os.Stat(CredentialsPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadCredentials()
	require.NoError(t, err)
	p, ok := loaded.Profile("default")
	require.True(t, ok)
	assert.Equal(t, "secret", p.Token)

	loaded.RemoveProfile("default")
	require.NoError(t, loaded.Save())

	final, err := LoadCredentials()
	require.NoError(t, err)
	_, ok = final.Profile("default")
	assert.False(t, ok)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dotunnel"), 0o700))
	require.NoError(t, os.WriteFile(ConfigPath(), []byte("{not json"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}
