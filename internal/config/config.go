// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for chatrelay.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.chatrelay/config.toml
//   - ~/.chatrelay/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatrelay/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatrelay configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// API is the remote model service configuration
	API APIConfig `toml:"api" json:"api"`

	// Memory controls default session/memory behavior
	Memory MemoryConfig `toml:"memory" json:"memory"`

	// RateLimit controls per-conversation throttling
	RateLimit RateLimitConfig `toml:"rate_limit" json:"rate_limit"`

	// Reports configures the report-to-file service
	Reports ReportsConfig `toml:"reports" json:"reports"`

	// Stats configures usage statistics persistence
	Stats StatsConfig `toml:"stats" json:"stats"`
}

// APIConfig contains the remote model service settings.
type APIConfig struct {
	// BaseURL is the base URL of the model service (e.g. http://localhost:8020)
	BaseURL string `toml:"base_url" json:"base_url"`
	// Username for HTTP basic auth
	Username string `toml:"username" json:"username"`
	// Password for HTTP basic auth
	Password string `toml:"password" json:"password"`
	// QueryTimeoutSecs bounds a single model query, including queueing on the
	// remote side. Long prompts routinely take over a minute.
	QueryTimeoutSecs int `toml:"query_timeout_secs" json:"query_timeout_secs"`
	// SessionTimeoutSecs bounds session create/delete calls
	SessionTimeoutSecs int `toml:"session_timeout_secs" json:"session_timeout_secs"`
	// MaxRetries for transient failures on session operations
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// MemoryConfig contains the global memory defaults.
// These are the process-wide defaults; per-conversation overrides are
// managed at runtime by the session manager.
type MemoryConfig struct {
	// Enabled is the global memory switch. When false no conversation gets
	// a remote session regardless of per-conversation preferences.
	Enabled bool `toml:"enabled" json:"enabled"`
	// EnabledInGroups enables memory by default in multi-party conversations.
	// Individual groups can still opt in with the enable-memory command.
	EnabledInGroups bool `toml:"enabled_in_groups" json:"enabled_in_groups"`
}

// RateLimitConfig contains per-conversation throttle settings.
type RateLimitConfig struct {
	// Enabled turns rate limiting on
	Enabled bool `toml:"enabled" json:"enabled"`
	// PerMinute is the sustained number of questions allowed per minute
	PerMinute float64 `toml:"per_minute" json:"per_minute"`
	// Burst is the number of questions allowed in a burst
	Burst int `toml:"burst" json:"burst"`
}

// ReportsConfig contains report-to-file settings.
type ReportsConfig struct {
	// Dir is the directory report files are written to
	Dir string `toml:"dir" json:"dir"`
}

// StatsConfig contains usage statistics settings.
type StatsConfig struct {
	// Enabled turns usage statistics recording on
	Enabled bool `toml:"enabled" json:"enabled"`
	// DatabasePath is where to store the SQLite database
	// (empty = ~/.chatrelay/stats.db)
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		API: APIConfig{
			BaseURL:            "http://localhost:8020",
			Username:           "admin",
			Password:           "admin",
			QueryTimeoutSecs:   120,
			SessionTimeoutSecs: 15,
			MaxRetries:         3,
		},

		Memory: MemoryConfig{
			Enabled:         true,
			EnabledInGroups: false,
		},

		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: 10,
			Burst:     5,
		},

		Reports: ReportsConfig{
			Dir: "", // resolved to ~/.chatrelay/reports at load time
		},

		Stats: StatsConfig{
			Enabled:      true,
			DatabasePath: "", // resolved to ~/.chatrelay/stats.db at load time
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatrelay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatrelay"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) because they
// hold the model-service credentials.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	cfg, err = finishLoad(cfg)
	if err != nil {
		return nil, err
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// finishLoad applies env overrides, defaults, and validation to a loaded config.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; warn and continue
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		// Default to TOML
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.QueryTimeoutSecs == 0 {
		cfg.API.QueryTimeoutSecs = defaults.API.QueryTimeoutSecs
	}
	if cfg.API.SessionTimeoutSecs == 0 {
		cfg.API.SessionTimeoutSecs = defaults.API.SessionTimeoutSecs
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = defaults.API.MaxRetries
	}

	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = defaults.RateLimit.PerMinute
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	return nil
}

// SetDefaults resolves derived paths that depend on the home directory.
func (c *Config) SetDefaults() {
	dir, err := ConfigDir()
	if err != nil {
		return
	}
	if c.Reports.Dir == "" {
		c.Reports.Dir = filepath.Join(dir, "reports")
	}
	if c.Stats.DatabasePath == "" {
		c.Stats.DatabasePath = filepath.Join(dir, "stats.db")
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# chatrelay configuration file")
	fmt.Fprintln(file, "# Generated by chatrelay - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Validate API base URL
	if c.API.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: "must not be empty",
		})
	} else {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "api.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.API.BaseURL),
			})
		}
	}

	// Validate timeouts
	if c.API.QueryTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "api.query_timeout_secs",
			Message: fmt.Sprintf("must be positive, got %d", c.API.QueryTimeoutSecs),
		})
	}
	if c.API.SessionTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "api.session_timeout_secs",
			Message: fmt.Sprintf("must be positive, got %d", c.API.SessionTimeoutSecs),
		})
	}
	if c.API.MaxRetries < 1 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("must be 1-10, got %d", c.API.MaxRetries),
		})
	}

	// Validate rate limit settings
	if c.RateLimit.PerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.per_minute",
			Message: "must be non-negative",
		})
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.burst",
			Message: "must be non-negative",
		})
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerMinute == 0 || c.RateLimit.Burst == 0) {
		errs = append(errs, ValidationError{
			Field:   "rate_limit",
			Message: "per_minute and burst must be positive when rate limiting is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATRELAY_API_URL: overrides api.base_url
//   - CHATRELAY_API_USERNAME: overrides api.username
//   - CHATRELAY_API_PASSWORD: overrides api.password
//   - CHATRELAY_MEMORY: "1"/"true" or "0"/"false" overrides memory.enabled
//   - CHATRELAY_MEMORY_IN_GROUPS: overrides memory.enabled_in_groups
//   - CHATRELAY_QUERY_TIMEOUT_SECS: overrides api.query_timeout_secs
//   - CHATRELAY_REPORTS_DIR: overrides reports.dir
//   - CHATRELAY_STATS_DB: overrides stats.database_path
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("CHATRELAY_API_URL"); u != "" {
		c.API.BaseURL = u
	}
	if user := os.Getenv("CHATRELAY_API_USERNAME"); user != "" {
		c.API.Username = user
	}
	if pass := os.Getenv("CHATRELAY_API_PASSWORD"); pass != "" {
		c.API.Password = pass
	}
	if mem := os.Getenv("CHATRELAY_MEMORY"); mem != "" {
		c.Memory.Enabled = envBool(mem)
	}
	if groups := os.Getenv("CHATRELAY_MEMORY_IN_GROUPS"); groups != "" {
		c.Memory.EnabledInGroups = envBool(groups)
	}
	if secs := os.Getenv("CHATRELAY_QUERY_TIMEOUT_SECS"); secs != "" {
		if v, err := strconv.Atoi(secs); err == nil && v > 0 {
			c.API.QueryTimeoutSecs = v
		}
	}
	if dir := os.Getenv("CHATRELAY_REPORTS_DIR"); dir != "" {
		c.Reports.Dir = dir
	}
	if db := os.Getenv("CHATRELAY_STATS_DB"); db != "" {
		c.Stats.DatabasePath = db
	}
}

// envBool interprets common truthy spellings of an env var value.
func envBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
