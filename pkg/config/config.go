// Package config loads, validates, and persists the server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jsbattig/share-things-sub004/pkg/api"
	"github.com/jsbattig/share-things-sub004/pkg/sweeper"
)

// Config represents the ShareThings server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SHARETHINGS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Storage configures the chunk store backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Server configures the HTTP plane (port, timeouts, metrics).
	Server api.Config `mapstructure:"server" yaml:"server"`

	// Session configures session tokens and membership.
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Sweeper configures session expiration and content retention.
	Sweeper sweeper.Config `mapstructure:"sweeper" yaml:"sweeper"`

	// Hub configures socket fan-out behavior.
	Hub HubConfig `mapstructure:"hub" yaml:"hub"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig configures the badger-backed chunk store.
type StorageConfig struct {
	// Path is the on-disk location of the chunk store.
	// Default: ./data/sessions
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// InMemory runs the store without persistence. Intended for tests and
	// ephemeral deployments.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`
}

// SessionConfig configures session tokens.
type SessionConfig struct {
	// TokenSecret is the HMAC signing key for session tokens. Must be at
	// least 32 characters when set. Empty means a random per-process
	// secret, which matches the in-memory session registry: tokens do not
	// need to survive a restart because sessions don't either.
	// Can also be set via the SHARETHINGS_SESSION_TOKEN_SECRET environment variable.
	TokenSecret string `mapstructure:"token_secret" validate:"omitempty,min=32" yaml:"token_secret"`

	// TokenTTL is the lifetime of issued session tokens.
	// Default: 24h
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// GetTokenSecret returns the token secret, preferring the environment
// variable over the config file value.
func (c *SessionConfig) GetTokenSecret() string {
	if secret := os.Getenv(EnvTokenSecret); secret != "" {
		return secret
	}
	return c.TokenSecret
}

// HubConfig configures the socket event router.
type HubConfig struct {
	// MaxItemsToSend caps the content manifest returned on join.
	// Default: 5
	MaxItemsToSend int `mapstructure:"max_items_to_send" validate:"omitempty,min=1" yaml:"max_items_to_send"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct constraints.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
	}
	return err
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config may carry the token secret, so keep it owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SHARETHINGS_ prefix and underscores.
	// Example: SHARETHINGS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SHARETHINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration. Raw integers are taken as milliseconds, matching the
// cleanup-interval convention of existing deployments.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case int64:
			return time.Duration(v) * time.Millisecond, nil
		case float64:
			return time.Duration(v) * time.Millisecond, nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sharethings")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sharethings")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
