package api

import "time"

// APIConfig contains HTTP server configuration for the JMAP endpoint.
type APIConfig struct {
	// Enabled controls whether the HTTP server starts.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// kept-alive connection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds one request's processing time, database
	// work included.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// applyDefaults fills in missing configuration with default values.
func (c *APIConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8620
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

// DefaultAPIConfig returns the default API configuration.
func DefaultAPIConfig() APIConfig {
	cfg := APIConfig{Enabled: true, MetricsEnabled: true}
	cfg.applyDefaults()
	return cfg
}
