package managerclient

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the configuration for the resilient manager HTTP client.
type Config struct {
	BaseURL                string        `mapstructure:"base_url" yaml:"base_url" validate:"required"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=1ms,max=5m" default:"10s"`
	MaxRetryAttempts       int           `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts" validate:"min=0,max=20" default:"3"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay" validate:"min=1ms,max=1m" default:"200ms"`
	BreakerFailureThreshold uint32       `mapstructure:"breaker_failure_threshold" yaml:"breaker_failure_threshold" validate:"min=1,max=1000" default:"5"`
	BreakerOpenDuration    time.Duration `mapstructure:"breaker_open_duration" yaml:"breaker_open_duration" validate:"min=1s,max=1h" default:"30s"`
}

// DefaultConfig returns a Config with conservative retry/breaker defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:          10 * time.Second,
		MaxRetryAttempts:        3,
		RetryBaseDelay:          200 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerOpenDuration:     30 * time.Second,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithBaseURL overrides the manager service's base URL.
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithMaxRetryAttempts overrides the retry attempt budget.
func WithMaxRetryAttempts(n int) Option { return func(c *Config) { c.MaxRetryAttempts = n } }

// WithBreaker overrides the circuit breaker's failure threshold and open duration.
func WithBreaker(threshold uint32, open time.Duration) Option {
	return func(c *Config) {
		c.BreakerFailureThreshold = threshold
		c.BreakerOpenDuration = open
	}
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewManagerClientError("config_validation", ErrCodeInvalidConfig, "invalid manager client configuration", 0, err)
	}
	return nil
}
