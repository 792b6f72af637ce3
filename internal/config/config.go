package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Vault file location and crypto choices for new vaults
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Sync ledger
	State StateConfig `json:"state" mapstructure:"state"`

	// Credential storage and entitlement limits
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Licence service
	License LicenseConfig `json:"license" mapstructure:"license"`

	// Licence key provisioning
	Keygen KeygenConfig `json:"keygen" mapstructure:"keygen"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// VaultConfig for the home vault.
type VaultConfig struct {
	Dir         string `json:"dir" mapstructure:"dir"`                   // Home provider directory
	RetainCount int    `json:"retain_count" mapstructure:"retain_count"` // Snapshots kept per provider
	KDF         string `json:"kdf" mapstructure:"kdf"`                   // pbkdf2-sha256, argon2id, scrypt
	Cipher      string `json:"cipher" mapstructure:"cipher"`             // aes-256-gcm, xchacha20-poly1305
}

// StateConfig for the sync ledger.
type StateConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // json, sqlite
	Dir     string `json:"dir" mapstructure:"dir"`
}

// SessionConfig for the session bridge.
type SessionConfig struct {
	Runtime        string  `json:"runtime" mapstructure:"runtime"` // desktop, mobile
	KeyringService string  `json:"keyring_service" mapstructure:"keyring_service"`
	SecretID       string  `json:"secret_id" mapstructure:"secret_id"` // AWS Secrets Manager secret
	FreeEntryLimit int     `json:"free_entry_limit" mapstructure:"free_entry_limit"`
	UnlockRate     float64 `json:"unlock_rate" mapstructure:"unlock_rate"` // Attempts per second
	UnlockBurst    int     `json:"unlock_burst" mapstructure:"unlock_burst"`
}

// LicenseConfig for licence service communication.
type LicenseConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// KeygenConfig for licence key provisioning.
type KeygenConfig struct {
	Prefix string `json:"prefix" mapstructure:"prefix"`
	Table  string `json:"table" mapstructure:"table"` // DynamoDB table
	Salt   string `json:"salt,omitempty" mapstructure:"salt"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// Session runtimes.
const (
	RuntimeDesktop = "desktop"
	RuntimeMobile  = "mobile"
)

// State backends.
const (
	StateBackendJSON   = "json"
	StateBackendSQLite = "sqlite"
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".pwvault"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".pwvault")
	}

	return &Config{
		Vault: VaultConfig{
			Dir:         filepath.Join(dataDir, "vault"),
			RetainCount: 10,
			KDF:         "pbkdf2-sha256",
			Cipher:      "aes-256-gcm",
		},
		State: StateConfig{
			Backend: StateBackendJSON,
			Dir:     filepath.Join(dataDir, "state"),
		},
		Session: SessionConfig{
			Runtime:        RuntimeDesktop,
			KeyringService: "pwvault",
			FreeEntryLimit: 50,
			UnlockRate:     0.5,
			UnlockBurst:    5,
		},
		License: LicenseConfig{
			BaseURL:    "https://api.pwvault.app",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "pwvault/1.0",
		},
		Keygen: KeygenConfig{
			Prefix: "PWV",
			Table:  "pwvault-license-keys",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return errors.New("vault.dir is required")
	}

	if c.Vault.RetainCount <= 0 {
		return errors.New("vault.retain_count must be positive")
	}

	validKDFs := map[string]bool{"pbkdf2-sha256": true, "argon2id": true, "scrypt": true}
	if !validKDFs[c.Vault.KDF] {
		return fmt.Errorf("invalid vault.kdf: %s", c.Vault.KDF)
	}

	validCiphers := map[string]bool{"aes-256-gcm": true, "xchacha20-poly1305": true}
	if !validCiphers[c.Vault.Cipher] {
		return fmt.Errorf("invalid vault.cipher: %s", c.Vault.Cipher)
	}

	switch c.State.Backend {
	case StateBackendJSON, StateBackendSQLite:
	default:
		return fmt.Errorf("invalid state.backend: %s", c.State.Backend)
	}

	switch c.Session.Runtime {
	case RuntimeDesktop, RuntimeMobile:
	default:
		return fmt.Errorf("invalid session.runtime: %s", c.Session.Runtime)
	}

	if c.Session.FreeEntryLimit < 0 {
		return errors.New("session.free_entry_limit cannot be negative")
	}

	if c.Session.UnlockRate <= 0 || c.Session.UnlockBurst <= 0 {
		return errors.New("session.unlock_rate and session.unlock_burst must be positive")
	}

	if c.License.BaseURL == "" {
		return errors.New("license.base_url is required")
	}

	if c.License.Timeout <= 0 {
		return errors.New("license.timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Vault.Dir,
		c.State.Dir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
