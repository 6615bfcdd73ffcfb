// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.API.BaseURL == "" {
		t.Error("default API base URL is empty")
	}
	if cfg.API.QueryTimeoutSecs != 120 {
		t.Errorf("default query timeout = %d, want 120", cfg.API.QueryTimeoutSecs)
	}
	if !cfg.Memory.Enabled {
		t.Error("memory should be enabled by default")
	}
	if cfg.Memory.EnabledInGroups {
		t.Error("group memory should be disabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }, true},
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }, true},
		{"zero query timeout", func(c *Config) { c.API.QueryTimeoutSecs = 0 }, true},
		{"negative session timeout", func(c *Config) { c.API.SessionTimeoutSecs = -1 }, true},
		{"retries too high", func(c *Config) { c.API.MaxRetries = 50 }, true},
		{"rate limit enabled without burst", func(c *Config) { c.RateLimit.Burst = 0 }, true},
		{"rate limit disabled without burst", func(c *Config) {
			c.RateLimit.Enabled = false
			c.RateLimit.Burst = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
version = "1.0.0"

[api]
base_url = "http://model.example:9000"
username = "bot"
password = "secret"
query_timeout_secs = 60

[memory]
enabled = true
enabled_in_groups = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.API.BaseURL != "http://model.example:9000" {
		t.Errorf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.API.QueryTimeoutSecs != 60 {
		t.Errorf("query_timeout_secs = %d, want 60", cfg.API.QueryTimeoutSecs)
	}
	if !cfg.Memory.EnabledInGroups {
		t.Error("enabled_in_groups not loaded")
	}
	// Unset values fall back to defaults
	if cfg.API.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", cfg.API.MaxRetries)
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{"api": {"base_url": "http://localhost:1234"}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:1234" {
		t.Errorf("base_url = %q", cfg.API.BaseURL)
	}
}

func TestLoadFromPath_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[api]
base_url = "http://localhost:8020"
query_timeout_secs = -5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected validation error for negative timeout")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_API_URL", "http://override:8080")
	t.Setenv("CHATRELAY_MEMORY", "false")
	t.Setenv("CHATRELAY_QUERY_TIMEOUT_SECS", "30")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.API.BaseURL != "http://override:8080" {
		t.Errorf("base_url = %q", cfg.API.BaseURL)
	}
	if cfg.Memory.Enabled {
		t.Error("memory should be disabled by env override")
	}
	if cfg.API.QueryTimeoutSecs != 30 {
		t.Errorf("query_timeout_secs = %d, want 30", cfg.API.QueryTimeoutSecs)
	}
}

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and ReloadGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.SetDefaults()
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if cfg := Global(); cfg == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}
