// Package config loads ClientSession settings from a YAML file, the
// configuration surface the original spec's ambient stack calls for
// (SPEC_FULL.md §2, "configuration").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a bayeux client configuration.
type Config struct {
	ServerAddress string          `yaml:"serverAddress"`
	Transport     TransportConfig `yaml:"transport"`
	LogLevel      string          `yaml:"logLevel"`
}

// TransportConfig mirrors bayeux.TransportOptions in YAML-friendly
// duration strings ("30s", "1m") rather than time.Duration's integer
// nanoseconds.
type TransportConfig struct {
	Protocol        string `yaml:"protocol"`
	ConnectTimeout  string `yaml:"connectTimeout"`
	IdleTimeout     string `yaml:"idleTimeout"`
	MaxNetworkDelay string `yaml:"maxNetworkDelay"`
	MaxMessageSize  int64  `yaml:"maxMessageSize"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("config: %s: serverAddress is required", path)
	}
	return &cfg, nil
}

// Durations are the parsed equivalent of TransportConfig's string
// fields, ready to populate bayeux.TransportOptions without importing
// the root package from here (config stays a leaf dependency).
type Durations struct {
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	MaxNetworkDelay time.Duration
}

// Parse resolves the TransportConfig's duration strings, falling back
// to zero (caller applies its own defaults) for anything blank.
func (t TransportConfig) Parse() (Durations, error) {
	var d Durations
	var err error
	if t.ConnectTimeout != "" {
		if d.ConnectTimeout, err = time.ParseDuration(t.ConnectTimeout); err != nil {
			return d, fmt.Errorf("config: connectTimeout: %w", err)
		}
	}
	if t.IdleTimeout != "" {
		if d.IdleTimeout, err = time.ParseDuration(t.IdleTimeout); err != nil {
			return d, fmt.Errorf("config: idleTimeout: %w", err)
		}
	}
	if t.MaxNetworkDelay != "" {
		if d.MaxNetworkDelay, err = time.ParseDuration(t.MaxNetworkDelay); err != nil {
			return d, fmt.Errorf("config: maxNetworkDelay: %w", err)
		}
	}
	return d, nil
}
