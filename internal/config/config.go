// Package config manages persistent preferences for cmd/graph-server.
// Settings are stored as JSON at os.UserConfigDir()/audiograph/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds graph-server's persistent preferences — the handful of
// settings an operator would otherwise have to repeat on every command
// line.
type Config struct {
	ControlAddr  string  `json:"control_addr"`
	APIAddr      string  `json:"api_addr"`
	PresetDBPath string  `json:"preset_db_path"`
	SampleRate   float64 `json:"sample_rate"`
	Channels     int     `json:"channels"`
	RateLimitRPS float64 `json:"rate_limit_rps"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ControlAddr:  ":9443",
		APIAddr:      ":9080",
		PresetDBPath: "presets.db",
		SampleRate:   48000,
		Channels:     2,
		RateLimitRPS: 50,
	}
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audiograph", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned — never an error, since a
// missing preferences file on first run is expected, not exceptional.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
