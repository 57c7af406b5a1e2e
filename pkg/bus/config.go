package bus

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the configuration for a NATS-backed message bus client.
type Config struct {
	URL            string        `mapstructure:"url" yaml:"url" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=1ms,max=5m" default:"10s"`
	RetryOnFailedPublish bool    `mapstructure:"retry_on_failed_publish" yaml:"retry_on_failed_publish" default:"true"`
}

// DefaultConfig returns a Config pointed at a local NATS server.
func DefaultConfig() *Config {
	return &Config{
		URL:                  "nats://localhost:4222",
		RequestTimeout:       10 * time.Second,
		RetryOnFailedPublish: true,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithURL overrides the NATS server URL.
func WithURL(url string) Option { return func(c *Config) { c.URL = url } }

// WithRequestTimeout overrides the request/response timeout.
func WithRequestTimeout(d time.Duration) Option { return func(c *Config) { c.RequestTimeout = d } }

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewBusError("config_validation", ErrCodeInvalidConfig, "invalid bus configuration", err)
	}
	return nil
}
