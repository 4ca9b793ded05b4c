// Package config persists quill's device identity and peer settings as a
// TOML file under the XDG config directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config is the on-disk quill configuration.
type Config struct {
	Device DeviceConfig `toml:"device"`
	Sync   SyncConfig   `toml:"sync"`
	Peers  []PeerConfig `toml:"peers"`
}

// DeviceConfig identifies this device. DeviceID is generated once and never
// changes; DeviceName is cosmetic.
type DeviceConfig struct {
	DeviceID   string `toml:"device_id"`
	DeviceName string `toml:"device_name"`
}

// SyncConfig holds sync behavior settings.
type SyncConfig struct {
	Root       string `toml:"root"`
	ListenAddr string `toml:"listen_addr"`
	AuthToken  string `toml:"auth_token"`
	Compress   bool   `toml:"compress"`
	// IntervalSeconds paces background full syncs in serve mode.
	IntervalSeconds int `toml:"interval_seconds"`
	// TimeoutSeconds, when nonzero, bounds one sync exchange.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// PeerConfig is one statically configured peer.
type PeerConfig struct {
	Name string `toml:"name"`
	Addr string `toml:"addr"`
}

// Interval returns the configured sync interval, defaulting to 30s.
func (s SyncConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Timeout returns the configured sync timeout, zero meaning none.
func (s SyncConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "quill", "config.toml")
}

// Load reads the config file from the XDG path. A missing file yields a zero
// Config and no error; the file is optional until `quill init` writes it.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to the XDG path, creating the directory as needed.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return errors.New("cannot resolve config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// The auth token lives here; keep it private to the owner.
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Ensure loads the config, generating and persisting a device identity on
// first use.
func Ensure() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	if cfg.Device.DeviceID != "" {
		return cfg, nil
	}

	cfg.Device.DeviceID = uuid.NewString()
	if cfg.Device.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Device.DeviceName = host
		} else {
			cfg.Device.DeviceName = "quill-device"
		}
	}
	if err := Save(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
