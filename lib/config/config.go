// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the bridge.
//
// Configuration is loaded from a YAML file specified by the
// SELECTOR_MCP_CONFIG environment variable or a --config flag. The
// two secrets the bridge needs, the Selector URL and API key, can
// also come straight from SELECTOR_URL and SELECTOR_AI_API_KEY;
// environment variables win over file values so deployments can keep
// credentials out of files entirely.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names honored by Load and applyEnvironment.
const (
	// EnvConfigPath names the config file to load.
	EnvConfigPath = "SELECTOR_MCP_CONFIG"

	// EnvSelectorURL overrides selector.url.
	EnvSelectorURL = "SELECTOR_URL"

	// EnvSelectorAPIKey overrides selector.api_key.
	EnvSelectorAPIKey = "SELECTOR_AI_API_KEY"
)

// Config is the bridge configuration.
type Config struct {
	// Selector configures the upstream connection.
	Selector SelectorConfig `yaml:"selector"`

	// Server configures how the bridge accepts clients.
	Server ServerConfig `yaml:"server"`
}

// SelectorConfig configures the upstream client.
type SelectorConfig struct {
	// URL is the base URL of the Selector deployment, without a
	// trailing path (e.g. "https://selector.example.com").
	URL string `yaml:"url"`

	// APIKey is the bearer token for the Selector API.
	APIKey string `yaml:"api_key"`

	// Retry tunes the call retry schedule. Zero fields take the
	// package defaults.
	Retry RetryConfig `yaml:"retry"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "8s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig tunes the upstream retry schedule.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per call, including
	// the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the base delay before the first retry. Each
	// subsequent delay doubles, up to MaxDelay.
	InitialDelay Duration `yaml:"initial_delay"`

	// MaxDelay caps the doubling.
	MaxDelay Duration `yaml:"max_delay"`

	// CallTimeout bounds each individual attempt.
	CallTimeout Duration `yaml:"call_timeout"`
}

// ServerConfig configures the client-facing side of the bridge.
type ServerConfig struct {
	// SocketPath is the Unix socket to listen on. Empty means the
	// bridge serves stdio only.
	SocketPath string `yaml:"socket_path"`
}

// Default returns the built-in configuration. The Selector URL and
// API key have no defaults; they must come from the file or the
// environment.
func Default() *Config {
	return &Config{}
}

// Load reads configuration from the file named by SELECTOR_MCP_CONFIG
// if set, then applies environment overrides. With no file and no
// environment the result fails Validate, so a bare Load().Validate()
// tells the operator exactly what is missing.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnvironment()
	return cfg, nil
}

// LoadFile reads configuration from the given YAML file and applies
// environment overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnvironment()
	return cfg, nil
}

// applyEnvironment overlays credential environment variables on the
// loaded values.
func (c *Config) applyEnvironment() {
	if url := os.Getenv(EnvSelectorURL); url != "" {
		c.Selector.URL = url
	}
	if key := os.Getenv(EnvSelectorAPIKey); key != "" {
		c.Selector.APIKey = key
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Selector.URL == "" {
		errs = append(errs, fmt.Errorf("selector.url is required (or set %s)", EnvSelectorURL))
	}
	if c.Selector.APIKey == "" {
		errs = append(errs, fmt.Errorf("selector.api_key is required (or set %s)", EnvSelectorAPIKey))
	}
	if c.Selector.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("selector.retry.max_attempts must not be negative"))
	}
	if c.Selector.Retry.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("selector.retry.initial_delay must not be negative"))
	}
	if c.Selector.Retry.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("selector.retry.max_delay must not be negative"))
	}
	if c.Selector.Retry.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("selector.retry.call_timeout must not be negative"))
	}

	return errors.Join(errs...)
}
