package cache

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the configuration for a Redis-backed cache client.
type Config struct {
	Addr         string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db" validate:"min=0,max=15"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"min=1ms,max=1m" default:"5s"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"min=0" default:"1h"`
}

// DefaultConfig returns a Config with conservative defaults for local
// development against a single Redis instance.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		DB:          0,
		DialTimeout: 5 * time.Second,
		DefaultTTL:  time.Hour,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithAddr overrides the Redis network address.
func WithAddr(addr string) Option { return func(c *Config) { c.Addr = addr } }

// WithPassword sets the Redis AUTH password.
func WithPassword(pw string) Option { return func(c *Config) { c.Password = pw } }

// WithDB selects the logical Redis database index.
func WithDB(db int) Option { return func(c *Config) { c.DB = db } }

// WithDefaultTTL overrides the TTL applied by Set when no explicit TTL is given.
func WithDefaultTTL(d time.Duration) Option { return func(c *Config) { c.DefaultTTL = d } }

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewCacheError("config_validation", ErrCodeInvalidConfig, "invalid cache configuration", err)
	}
	return nil
}
