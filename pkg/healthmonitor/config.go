package healthmonitor

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the configuration for one pod's health monitor loop.
type Config struct {
	Interval             time.Duration `mapstructure:"interval" yaml:"interval" validate:"min=1s,max=1h" default:"30s"`
	CacheMapName         string        `mapstructure:"cache_map_name" yaml:"cache_map_name" validate:"required" default:"processor-health"`
	WriteRetryAttempts   int           `mapstructure:"write_retry_attempts" yaml:"write_retry_attempts" validate:"min=0,max=20" default:"3"`
	WriteRetryBaseDelay  time.Duration `mapstructure:"write_retry_base_delay" yaml:"write_retry_base_delay" validate:"min=1ms,max=1m" default:"100ms"`
	EnablePerformanceMetrics bool      `mapstructure:"enable_performance_metrics" yaml:"enable_performance_metrics" default:"true"`
}

// DefaultConfig returns a Config sampling every 30s into the default
// "processor-health" map.
func DefaultConfig() *Config {
	return &Config{
		Interval:            30 * time.Second,
		CacheMapName:        "processor-health",
		WriteRetryAttempts:  3,
		WriteRetryBaseDelay: 100 * time.Millisecond,
		EnablePerformanceMetrics: true,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithInterval overrides the sampling interval.
func WithInterval(d time.Duration) Option { return func(c *Config) { c.Interval = d } }

// WithCacheMapName overrides the cache map health entries are written to.
func WithCacheMapName(name string) Option { return func(c *Config) { c.CacheMapName = name } }

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewHealthMonitorError("config_validation", ErrCodeInvalidConfig, "invalid health monitor configuration", err)
	}
	return nil
}
