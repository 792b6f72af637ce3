package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.Vault.Dir)
	assert.Equal(t, 10, cfg.Vault.RetainCount)
	assert.Equal(t, "pbkdf2-sha256", cfg.Vault.KDF)
	assert.Equal(t, "aes-256-gcm", cfg.Vault.Cipher)
	assert.Equal(t, config.RuntimeDesktop, cfg.Session.Runtime)
	assert.Positive(t, cfg.License.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name:    "missing vault dir",
			modify:  func(c *config.Config) { c.Vault.Dir = "" },
			wantErr: "vault.dir is required",
		},
		{
			name:    "zero retain count",
			modify:  func(c *config.Config) { c.Vault.RetainCount = 0 },
			wantErr: "vault.retain_count must be positive",
		},
		{
			name:    "unknown kdf",
			modify:  func(c *config.Config) { c.Vault.KDF = "md5" },
			wantErr: "invalid vault.kdf",
		},
		{
			name:    "unknown cipher",
			modify:  func(c *config.Config) { c.Vault.Cipher = "rot13" },
			wantErr: "invalid vault.cipher",
		},
		{
			name:    "unknown state backend",
			modify:  func(c *config.Config) { c.State.Backend = "redis" },
			wantErr: "invalid state.backend",
		},
		{
			name:    "unknown runtime",
			modify:  func(c *config.Config) { c.Session.Runtime = "browser" },
			wantErr: "invalid session.runtime",
		},
		{
			name:    "missing licence URL",
			modify:  func(c *config.Config) { c.License.BaseURL = "" },
			wantErr: "license.base_url is required",
		},
		{
			name:    "negative timeout",
			modify:  func(c *config.Config) { c.License.Timeout = -1 },
			wantErr: "license.timeout must be positive",
		},
		{
			name:    "invalid log level",
			modify:  func(c *config.Config) { c.Log.Level = "invalid" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PWVAULT_LICENSE_BASE_URL", "https://test.example.com")
	t.Setenv("PWVAULT_LICENSE_TIMEOUT", "45s")
	t.Setenv("PWVAULT_LOG_LEVEL", "DEBUG")
	t.Setenv("PWVAULT_VAULT_RETAIN_COUNT", "3")
	t.Setenv("PWVAULT_SESSION_RUNTIME", "mobile")

	loader := config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://test.example.com", cfg.License.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.License.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Vault.RetainCount)
	assert.Equal(t, config.RuntimeMobile, cfg.Session.Runtime)
	assert.Empty(t, loader.ConfigFile())
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("json", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "test.json")
		configJSON := `{
			"vault": {"dir": "/tmp/pwvault-test", "kdf": "argon2id"},
			"state": {"backend": "sqlite"},
			"log": {"level": "warn", "format": "json"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(configJSON), 0644))

		cfg, err := config.NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/pwvault-test", cfg.Vault.Dir)
		assert.Equal(t, "argon2id", cfg.Vault.KDF)
		assert.Equal(t, config.StateBackendSQLite, cfg.State.Backend)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		// Unset keys keep their defaults.
		assert.Equal(t, 10, cfg.Vault.RetainCount)
	})

	t.Run("yaml with env override", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "test.yaml")
		configYAML := "session:\n  free_entry_limit: 5\nlog:\n  level: error\n"
		require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))
		t.Setenv("PWVAULT_LOG_LEVEL", "info")

		cfg, err := config.NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Session.FreeEntryLimit)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("invalid values", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"vault":{"cipher":"des"}}`), 0644))

		_, err := config.NewLoader(configPath).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid vault.cipher")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.NewLoader(filepath.Join(tmpDir, "nope.yaml")).Load()
		assert.Error(t, err)
	})
}

func TestSaveExample(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"example.yaml", "example.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, config.SaveExample(path))

			cfg, err := config.NewLoader(path).Load()
			require.NoError(t, err)
			assert.Equal(t, config.DefaultConfig().Vault.KDF, cfg.Vault.KDF)

			assert.Error(t, config.SaveExample(path), "refuses to overwrite")
		})
	}
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Vault.Dir = filepath.Join(tmpDir, "data", "vault")
	cfg.State.Dir = filepath.Join(tmpDir, "data", "state")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, cfg.Vault.Dir)
	assert.DirExists(t, cfg.State.Dir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}

func TestLoadLambdaConfig(t *testing.T) {
	t.Setenv("KEY_TABLE_NAME", "")
	t.Setenv("KEY_PREFIX", "TEAM")

	cfg := config.LoadLambdaConfig()
	assert.Equal(t, "pwvault-license-keys", cfg.KeyTable)
	assert.Equal(t, "TEAM", cfg.KeyPrefix)
}
