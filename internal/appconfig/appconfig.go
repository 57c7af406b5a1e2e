// Package appconfig assembles the process-wide configuration for the
// orchestrator and processor binaries: one YAML document (plus environment
// overrides) unmarshaled into the per-package Config structs each component
// already validates on its own (§ "Configuration" of the ambient stack).
//
// Grounded on the teacher's pkg/config/providers/viper/viper_provider.go:
// same SetEnvPrefix/AutomaticEnv/SetEnvKeyReplacer wiring and the same
// "read file if present, env always applies" tolerance for a missing config
// file. Unlike the teacher's single flat iface.Config, this loader
// unmarshals each subsystem under its own top-level YAML key via
// UnmarshalKey, since every component here owns an independent Config type.
package appconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/healthmonitor"
	"github.com/liranavivi/Design954-sub000/pkg/managerclient"
	"github.com/liranavivi/Design954-sub000/pkg/orchestrator"
	"github.com/liranavivi/Design954-sub000/pkg/processor"
)

// EnvPrefix is the environment variable prefix every override is read
// under, e.g. ORCH_CACHE_ADDR overrides the "cache.addr" YAML key.
const EnvPrefix = "ORCH"

// Config is the top-level document assembled from config.yaml plus
// environment overrides. Each field nests one component's own Config type,
// so every component still validates its own slice with its own struct
// tags (§ "Configuration").
type Config struct {
	Cache        *cache.Config         `mapstructure:"cache"`
	Bus          *bus.Config           `mapstructure:"bus"`
	Manager      *managerclient.Config `mapstructure:"manager"`
	Orchestrator *orchestrator.Config  `mapstructure:"orchestrator"`
	Health       *healthmonitor.Config `mapstructure:"health"`
	Processor    *processor.Config     `mapstructure:"processor"`
}

// Load reads configName (without extension) from the given search paths,
// falling back silently to defaults-plus-env when no file is found, and
// unmarshals the result into a Config seeded with every component's
// DefaultConfig. It never returns a Config with nil component fields: a
// caller can always go straight to cfg.Cache.Validate() and friends.
func Load(configName string, searchPaths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("appconfig: failed to read %s: %w", configName, err)
		}
	}

	cfg := &Config{
		Cache:        cache.DefaultConfig(),
		Bus:          bus.DefaultConfig(),
		Manager:      managerclient.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Health:       healthmonitor.DefaultConfig(),
		Processor:    processor.DefaultConfig(),
	}

	for key, target := range map[string]any{
		"cache":        cfg.Cache,
		"bus":          cfg.Bus,
		"manager":      cfg.Manager,
		"orchestrator": cfg.Orchestrator,
		"health":       cfg.Health,
		"processor":    cfg.Processor,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := v.UnmarshalKey(key, target); err != nil {
			return nil, fmt.Errorf("appconfig: failed to unmarshal %q: %w", key, err)
		}
	}

	return cfg, nil
}

// Validate runs every component's own Validate, stopping at the first
// failure. Each error is already a typed <Pkg>Error from its own package.
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	if err := c.Manager.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Health.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	return nil
}
