// Package config reads and writes the per-sync-directory configuration file
// at <sync dir>/.studip/studip.toml.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the persisted per-sync-directory configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Update UpdateConfig `toml:"update"`
	Login  LoginConfig  `toml:"login"`
}

// ServerConfig names the portal and identity-provider endpoints.
type ServerConfig struct {
	StudipBase string `toml:"studip_base"`
	SSOBase    string `toml:"sso_base"`
}

// UpdateConfig tunes the metadata synchronizer.
type UpdateConfig struct {
	// Concurrency is the detail-fetch worker count.
	Concurrency int `toml:"concurrency"`
}

// LoginConfig holds saved credentials. Password is age-encrypted to the
// local key and base64-armored; see the creds package.
type LoginConfig struct {
	SaveLogin string `toml:"save_login,omitempty"` // "", "user" or "password"
	UserName  string `toml:"user_name,omitempty"`
	Password  string `toml:"password,omitempty"`
}

// NewConfig returns a Config with the default endpoints and tuning.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			StudipBase: "https://studip.uni-passau.de",
			SSOBase:    "https://sso.uni-passau.de",
		},
		Update: UpdateConfig{Concurrency: 4},
	}
}

// Read decodes a Config from the provided reader. Absent fields keep their
// defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := NewConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Update.Concurrency < 1 {
		cfg.Update.Concurrency = 1
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path. A missing file yields the defaults,
// so a fresh sync directory works without prior setup.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile persists cfg at path, creating the directory when needed.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return f.Close()
}
