package config

import (
	"time"

	"github.com/marmos91/jmapd/pkg/jmap/api"
)

// GetDefaultConfig returns a configuration with all default values.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		ShutdownTimeout: 30 * time.Second,
		API:             api.DefaultAPIConfig(),
	}
	cfg.Database.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in missing configuration values with defaults.
// Only zero values are replaced; explicit settings are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()

	defaults := api.DefaultAPIConfig()
	if cfg.API.Port == 0 {
		cfg.API.Port = defaults.Port
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = defaults.IdleTimeout
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = defaults.RequestTimeout
	}
}
