package config

import (
	"strings"
	"time"
)

// Environment variable override for the session token secret.
const EnvTokenSecret = "SHARETHINGS_SESSION_TOKEN_SECRET"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applySessionDefaults(&cfg.Session)
	applySweeperDefaults(cfg)
	applyHubDefaults(&cfg.Hub)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Path == "" {
		cfg.Path = "./data/sessions"
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
}

func applySweeperDefaults(cfg *Config) {
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = time.Hour
	}
	if cfg.Sweeper.IdleThreshold == 0 {
		cfg.Sweeper.IdleThreshold = cfg.Sweeper.Interval
	}
	if cfg.Sweeper.MaxItemsPerSession == 0 {
		cfg.Sweeper.MaxItemsPerSession = 20
	}
}

func applyHubDefaults(cfg *HubConfig) {
	if cfg.MaxItemsToSend == 0 {
		cfg.MaxItemsToSend = 5
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
