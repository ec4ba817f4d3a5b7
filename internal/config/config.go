package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configFile      = "config.json"
	credentialsFile = "credentials.json"
)

// Dir returns the dotunnel configuration directory, honoring
// XDG_CONFIG_HOME.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, "dotunnel")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "dotunnel")
}

// Config holds per-profile, non-secret settings.
type Config struct {
	Profiles map[string]ProfileConfig `json:"profiles"`
}

type ProfileConfig struct {
	ServiceURL string `json:"serviceUrl"`
}

// Credentials holds per-profile secrets, stored separately from the
// config so it can carry tighter file permissions.
type Credentials struct {
	Profiles map[string]ProfileCredentials `json:"profiles"`
}

type ProfileCredentials struct {
	Token string `json:"token"`
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(Dir(), configFile)
}

// CredentialsPath returns the credentials file location.
func CredentialsPath() string {
	return filepath.Join(Dir(), credentialsFile)
}

// Load reads the config file. A missing file yields an empty config.
func Load() (*Config, error) {
	var cfg Config
	if err := readJSON(ConfigPath(), &cfg); err != nil {
		return nil, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]ProfileConfig)
	}
	return &cfg, nil
}

// Save writes the config file.
func (c *Config) Save() error {
	return writeJSON(ConfigPath(), c, 0o644)
}

// Profile returns the named profile config, if present.
func (c *Config) Profile(name string) (ProfileConfig, bool) {
	p, ok := c.Profiles[name]
	return p, ok
}

// SetProfile stores the named profile config.
func (c *Config) SetProfile(name string, p ProfileConfig) {
	c.Profiles[name] = p
}

// LoadCredentials reads the credentials file. A missing file yields
// empty credentials.
func LoadCredentials() (*Credentials, error) {
	var creds Credentials
	if err := readJSON(CredentialsPath(), &creds); err != nil {
		return nil, err
	}
	if creds.Profiles == nil {
		creds.Profiles = make(map[string]ProfileCredentials)
	}
	return &creds, nil
}

// Save writes the credentials file with owner-only permissions.
func (c *Credentials) Save() error {
	return writeJSON(CredentialsPath(), c, 0o600)
}

// Profile returns the named profile credentials, if present.
func (c *Credentials) Profile(name string) (ProfileCredentials, bool) {
	p, ok := c.Profiles[name]
	return p, ok
}

// SetProfile stores the named profile credentials.
func (c *Credentials) SetProfile(name string, p ProfileCredentials) {
	c.Profiles[name] = p
}

// RemoveProfile deletes the named profile credentials.
func (c *Credentials) RemoveProfile(name string) {
	delete(c.Profiles, name)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
