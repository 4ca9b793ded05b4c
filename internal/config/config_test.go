package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsync/quill/internal/config"
)

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Device.DeviceID)
	assert.Empty(t, cfg.Peers)
}

func TestLoad_FullConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	configDir := filepath.Join(dir, "quill")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
[device]
device_id = "0b60c9b7-6c55-4b66-9f2f-8b36a3f6a8d1"
device_name = "laptop"

[sync]
root = "/home/me/notes"
listen_addr = ":7450"
auth_token = "s3cret"
compress = true
interval_seconds = 60
timeout_seconds = 120

[[peers]]
name = "desktop"
addr = "10.0.0.2:7450"
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(content), 0o644))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "laptop", cfg.Device.DeviceName)
	assert.Equal(t, "/home/me/notes", cfg.Sync.Root)
	assert.True(t, cfg.Sync.Compress)
	assert.Equal(t, int64(60), int64(cfg.Sync.Interval().Seconds()))
	assert.Equal(t, int64(120), int64(cfg.Sync.Timeout().Seconds()))

	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "desktop", cfg.Peers[0].Name)
	assert.Equal(t, "10.0.0.2:7450", cfg.Peers[0].Addr)
}

func TestEnsureGeneratesStableIdentity(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	first, err := config.Ensure()
	require.NoError(t, err)
	require.NotEmpty(t, first.Device.DeviceID)
	require.NotEmpty(t, first.Device.DeviceName)

	second, err := config.Ensure()
	require.NoError(t, err)
	assert.Equal(t, first.Device.DeviceID, second.Device.DeviceID)

	// The config file holds the token; it must not be world-readable.
	info, err := os.Stat(config.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	in := config.Config{
		Device: config.DeviceConfig{DeviceID: "abc", DeviceName: "laptop"},
		Sync:   config.SyncConfig{Root: "/tmp/notes", AuthToken: "tok"},
		Peers:  []config.PeerConfig{{Name: "desktop", Addr: "10.0.0.2:7450"}},
	}
	require.NoError(t, config.Save(in))

	out, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
