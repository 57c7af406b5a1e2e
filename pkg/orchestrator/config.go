package orchestrator

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the configuration for one orchestration service instance.
type Config struct {
	CacheMapName  string        `mapstructure:"cache_map_name" yaml:"cache_map_name" validate:"required" default:"orchestration-cache"`
	HealthMapName string        `mapstructure:"health_map_name" yaml:"health_map_name" validate:"required" default:"processor-health"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"min=1m" default:"24h"`

	// The four paths below are HTTP GET templates against the manager HTTP
	// client (C4), per §6 "Equivalent Orchestrator-side endpoints for
	// fetching orchestrated flow, step-navigation, assignment-by-flow,
	// schema-definition-by-id." Each contains exactly one %s, substituted
	// with the flow/workflow/schema id at call time.
	GetOrchestratedFlowPath string `mapstructure:"get_orchestrated_flow_path" yaml:"get_orchestrated_flow_path" validate:"required" default:"/api/OrchestratedFlow/%s"`
	GetStepNavigationPath   string `mapstructure:"get_step_navigation_path" yaml:"get_step_navigation_path" validate:"required" default:"/api/Workflow/%s/steps"`
	GetAssignmentsPath      string `mapstructure:"get_assignments_path" yaml:"get_assignments_path" validate:"required" default:"/api/OrchestratedFlow/%s/assignments"`
	GetSchemaPath           string `mapstructure:"get_schema_path" yaml:"get_schema_path" validate:"required" default:"/api/Schema/%s"`

	ExecuteCommandSubject string `mapstructure:"execute_command_subject" yaml:"execute_command_subject" validate:"required" default:"activity.execute"`
	ExecutedEventSubject  string `mapstructure:"executed_event_subject" yaml:"executed_event_subject" validate:"required" default:"activity.executed"`
	FailedEventSubject    string `mapstructure:"failed_event_subject" yaml:"failed_event_subject" validate:"required" default:"activity.failed"`

	// AdvanceDedupCapacity bounds the in-process LRU used to suppress
	// duplicate (executionId, publishId) deliveries during advancement
	// (§9 open question 3; bus delivery is not ordered or exactly-once).
	AdvanceDedupCapacity int `mapstructure:"advance_dedup_capacity" yaml:"advance_dedup_capacity" validate:"min=16" default:"10000"`
}

// DefaultConfig returns a Config matching §6's default cache map names and
// subject names.
func DefaultConfig() *Config {
	return &Config{
		CacheMapName:               "orchestration-cache",
		HealthMapName:              "processor-health",
		CacheTTL:                   24 * time.Hour,
		GetOrchestratedFlowPath: "/api/OrchestratedFlow/%s",
		GetStepNavigationPath:   "/api/Workflow/%s/steps",
		GetAssignmentsPath:      "/api/OrchestratedFlow/%s/assignments",
		GetSchemaPath:           "/api/Schema/%s",
		ExecuteCommandSubject:   "activity.execute",
		ExecutedEventSubject:    "activity.executed",
		FailedEventSubject:      "activity.failed",
		AdvanceDedupCapacity:    10000,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithCacheMapName overrides the orchestration-cache map name.
func WithCacheMapName(name string) Option { return func(c *Config) { c.CacheMapName = name } }

// WithHealthMapName overrides the processor-health map name.
func WithHealthMapName(name string) Option { return func(c *Config) { c.HealthMapName = name } }

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewOrchestratorError("config_validation", ErrCodeInvalidConfig, "invalid orchestrator configuration", err)
	}
	return nil
}
