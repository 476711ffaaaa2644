// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
selector:
  url: https://selector.example.com
  api_key: test-key
  retry:
    max_attempts: 6
    initial_delay: 250ms
    max_delay: 4s
    call_timeout: 30s
server:
  socket_path: /run/selector/bridge.sock
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Selector.URL != "https://selector.example.com" {
		t.Errorf("url = %q", cfg.Selector.URL)
	}
	if cfg.Selector.APIKey != "test-key" {
		t.Errorf("api_key = %q", cfg.Selector.APIKey)
	}
	if cfg.Selector.Retry.MaxAttempts != 6 {
		t.Errorf("max_attempts = %d", cfg.Selector.Retry.MaxAttempts)
	}
	if cfg.Selector.Retry.InitialDelay.Std() != 250*time.Millisecond {
		t.Errorf("initial_delay = %v", cfg.Selector.Retry.InitialDelay)
	}
	if cfg.Server.SocketPath != "/run/selector/bridge.sock" {
		t.Errorf("socket_path = %q", cfg.Server.SocketPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
selector:
  url: https://file.example.com
  api_key: file-key
`)
	t.Setenv(EnvSelectorURL, "https://env.example.com")
	t.Setenv(EnvSelectorAPIKey, "env-key")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Selector.URL != "https://env.example.com" {
		t.Errorf("url = %q, want environment value", cfg.Selector.URL)
	}
	if cfg.Selector.APIKey != "env-key" {
		t.Errorf("api_key = %q, want environment value", cfg.Selector.APIKey)
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvSelectorURL, "https://env.example.com")
	t.Setenv(EnvSelectorAPIKey, "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateNamesMissingCredentials(t *testing.T) {
	t.Setenv(EnvSelectorURL, "")
	t.Setenv(EnvSelectorAPIKey, "")

	err := Default().Validate()
	if err == nil {
		t.Fatal("empty config validated")
	}
	if !strings.Contains(err.Error(), EnvSelectorURL) || !strings.Contains(err.Error(), EnvSelectorAPIKey) {
		t.Errorf("validation error %q does not name the environment variables", err)
	}
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "selector: [not a mapping")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
