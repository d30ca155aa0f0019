// Package config loads the runtime configuration from config.yaml and the
// environment. The rest of the system receives plain values from here;
// nothing else reads viper directly.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/fragvault/fragvault/internal/compressor"
)

// ValidationError names the configuration field the process cannot start with.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// KeysConfig locates the keypair files.
type KeysConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	PublicKey  string `mapstructure:"public_key"`
}

// RetryConfig bounds node I/O retries.
type RetryConfig struct {
	Attempts    int `mapstructure:"attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// AppConfig holds the application-level configuration.
type AppConfig struct {
	FragmentSize     int         `mapstructure:"fragment_size"`
	NodePaths        []string    `mapstructure:"node_paths"`
	ManifestDB       string      `mapstructure:"manifest_db"`
	ParallelismRatio int         `mapstructure:"parallelism_ratio"`
	Compression      string      `mapstructure:"compression"`
	Keys             KeysConfig  `mapstructure:"encryption_keys"`
	Retry            RetryConfig `mapstructure:"retry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fragment_size", 1024)
	v.SetDefault("node_paths", []string{"data/node1", "data/node2", "data/node3"})
	v.SetDefault("manifest_db", "data/manifests")
	v.SetDefault("parallelism_ratio", 2)
	v.SetDefault("compression", "lz4")
	v.SetDefault("encryption_keys.private_key", "keys/fragvault.key")
	v.SetDefault("encryption_keys.public_key", "keys/fragvault.pub")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay_ms", 100)
	v.SetDefault("retry.max_delay_ms", 2000)
}

// LoadConfig reads config.yaml from dir, applies FRAGVAULT_* environment
// overrides, fills defaults, and validates the result. A missing file is
// fine; defaults cover every field.
func LoadConfig(dir string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("FRAGVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return &appConfig, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.FragmentSize < 0 {
		return &ValidationError{Field: "fragment_size", Message: "must be positive, or zero for automatic sizing"}
	}
	if len(c.NodePaths) == 0 {
		return &ValidationError{Field: "node_paths", Message: "at least one node location is required"}
	}
	for _, p := range c.NodePaths {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Field: "node_paths", Message: "node locations must not be blank"}
		}
	}
	if c.ManifestDB == "" {
		return &ValidationError{Field: "manifest_db", Message: "a manifest database path is required"}
	}
	if _, err := compressor.ParseAlgorithm(c.Compression); err != nil {
		return &ValidationError{Field: "compression", Message: err.Error()}
	}
	if c.Keys.PrivateKey == "" || c.Keys.PublicKey == "" {
		return &ValidationError{Field: "encryption_keys", Message: "both private_key and public_key paths are required"}
	}
	if c.Retry.Attempts < 1 {
		return &ValidationError{Field: "retry.attempts", Message: "at least one attempt is required"}
	}
	return nil
}
