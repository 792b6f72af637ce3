package config

import (
	"os"
)

// LambdaConfig contains settings for the key provisioning function.
type LambdaConfig struct {
	KeyTable      string `json:"key_table"`
	KeyPrefix     string `json:"key_prefix"`
	KeySalt       string `json:"-"`
	SaltSecretID  string `json:"salt_secret_id"`
	MaxKeysPerRun int    `json:"max_keys_per_run"`
}

// LoadLambdaConfig loads configuration for Lambda environment
func LoadLambdaConfig() *LambdaConfig {
	cfg := &LambdaConfig{
		KeyTable:      os.Getenv("KEY_TABLE_NAME"),
		KeyPrefix:     os.Getenv("KEY_PREFIX"),
		KeySalt:       os.Getenv("KEY_SALT"),
		SaltSecretID:  os.Getenv("KEY_SALT_SECRET_ID"),
		MaxKeysPerRun: 500,
	}

	if cfg.KeyTable == "" {
		cfg.KeyTable = DefaultConfig().Keygen.Table
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().Keygen.Prefix
	}

	return cfg
}

// IsLambdaEnvironment checks if running in Lambda
func IsLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
