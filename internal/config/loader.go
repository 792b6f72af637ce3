package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PWVAULT_LOG_LEVEL.
const EnvPrefix = "PWVAULT"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default
// locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Load reads configuration from defaults, file and environment, in that
// order of precedence from lowest to highest.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, DefaultConfig())

	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file that was loaded, if any.
func (l *Loader) ConfigFile() string {
	return l.configPath
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"pwvault.yaml",
		"pwvault.json",
		".pwvault.yaml",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "pwvault", "config.yaml"),
			filepath.Join(homeDir, ".config", "pwvault", "config.json"),
			filepath.Join(homeDir, ".pwvault", "config.yaml"),
		)
	}

	return paths
}

// setDefaults registers every key so environment overrides are seen by
// Unmarshal even when no file sets them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("vault.dir", cfg.Vault.Dir)
	v.SetDefault("vault.retain_count", cfg.Vault.RetainCount)
	v.SetDefault("vault.kdf", cfg.Vault.KDF)
	v.SetDefault("vault.cipher", cfg.Vault.Cipher)

	v.SetDefault("state.backend", cfg.State.Backend)
	v.SetDefault("state.dir", cfg.State.Dir)

	v.SetDefault("session.runtime", cfg.Session.Runtime)
	v.SetDefault("session.keyring_service", cfg.Session.KeyringService)
	v.SetDefault("session.secret_id", cfg.Session.SecretID)
	v.SetDefault("session.free_entry_limit", cfg.Session.FreeEntryLimit)
	v.SetDefault("session.unlock_rate", cfg.Session.UnlockRate)
	v.SetDefault("session.unlock_burst", cfg.Session.UnlockBurst)

	v.SetDefault("license.base_url", cfg.License.BaseURL)
	v.SetDefault("license.timeout", cfg.License.Timeout)
	v.SetDefault("license.max_retries", cfg.License.MaxRetries)
	v.SetDefault("license.user_agent", cfg.License.UserAgent)

	v.SetDefault("keygen.prefix", cfg.Keygen.Prefix)
	v.SetDefault("keygen.table", cfg.Keygen.Table)
	v.SetDefault("keygen.salt", cfg.Keygen.Salt)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

// SaveExample writes an example config file. The format follows the
// extension; anything other than .json is written as YAML.
func SaveExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		return nil
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
