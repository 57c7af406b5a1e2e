package processor

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// InitMode selects between the two initialization strategies of §4.7.1.
type InitMode string

const (
	InitBoundedRetries InitMode = "bounded"
	InitEndlessRetries InitMode = "endless"
)

// Config holds the configuration for one processor runtime instance.
type Config struct {
	Name    string `mapstructure:"name" yaml:"name" validate:"required"`
	Version string `mapstructure:"version" yaml:"version" validate:"required"`

	InputSchemaID      string `mapstructure:"input_schema_id" yaml:"input_schema_id"`
	OutputSchemaID     string `mapstructure:"output_schema_id" yaml:"output_schema_id"`
	EnableInputValidation  bool `mapstructure:"enable_input_validation" yaml:"enable_input_validation" default:"true"`
	EnableOutputValidation bool `mapstructure:"enable_output_validation" yaml:"enable_output_validation" default:"true"`

	// ImplementationHash is the build-time embedded content hash (§9:
	// "replace reflection-based lookup with a compile-time embedded
	// constant"). It is not loaded from configuration and no build flag
	// sets it: it stays empty unless assigned directly or through
	// WithImplementationHash. Empty skips the check with a warning.
	ImplementationHash string `mapstructure:"-" yaml:"-"`

	InitMode            InitMode      `mapstructure:"init_mode" yaml:"init_mode" validate:"oneof=bounded endless" default:"bounded"`
	InitMaxAttempts     int           `mapstructure:"init_max_attempts" yaml:"init_max_attempts" validate:"min=1,max=100" default:"5"`
	InitBaseBackoff     time.Duration `mapstructure:"init_base_backoff" yaml:"init_base_backoff" validate:"min=1ms,max=1m" default:"200ms"`
	InitMaxBackoff      time.Duration `mapstructure:"init_max_backoff" yaml:"init_max_backoff" validate:"min=1ms,max=5m" default:"30s"`

	QueueCapacity        int `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"min=1,max=1000000" default:"1000"`
	RequestWorkerCount   int `mapstructure:"request_worker_count" yaml:"request_worker_count" validate:"min=1,max=10000" default:"8"`
	ResponseWorkerCount  int `mapstructure:"response_worker_count" yaml:"response_worker_count" validate:"min=1,max=10000" default:"4"`

	ActivityDataMapName string `mapstructure:"activity_data_map_name" yaml:"activity_data_map_name" validate:"required" default:"activity-data"`

	ExecuteCommandSubject string `mapstructure:"execute_command_subject" yaml:"execute_command_subject" validate:"required" default:"activity.execute"`
	ExecutedEventSubject  string `mapstructure:"executed_event_subject" yaml:"executed_event_subject" validate:"required" default:"activity.executed"`
	FailedEventSubject    string `mapstructure:"failed_event_subject" yaml:"failed_event_subject" validate:"required" default:"activity.failed"`

	// Subjects used during the init handshake (§4.7.1) to resolve this
	// processor's own registration and its schema definitions.
	GetProcessorSubject    string `mapstructure:"get_processor_subject" yaml:"get_processor_subject" validate:"required" default:"processor.get"`
	CreateProcessorSubject string `mapstructure:"create_processor_subject" yaml:"create_processor_subject" validate:"required" default:"processor.create"`
	GetSchemaSubject       string `mapstructure:"get_schema_subject" yaml:"get_schema_subject" validate:"required" default:"schema.get"`
}

// DefaultConfig returns a Config with capacity-1000 bounded queues, matching
// §4.7.2, and bounded-retry initialization.
func DefaultConfig() *Config {
	return &Config{
		EnableInputValidation:  true,
		EnableOutputValidation: true,
		InitMode:               InitBoundedRetries,
		InitMaxAttempts:        5,
		InitBaseBackoff:        200 * time.Millisecond,
		InitMaxBackoff:         30 * time.Second,
		QueueCapacity:          1000,
		RequestWorkerCount:     8,
		ResponseWorkerCount:    4,
		ActivityDataMapName:    "activity-data",
		ExecuteCommandSubject:  "activity.execute",
		ExecutedEventSubject:   "activity.executed",
		FailedEventSubject:     "activity.failed",
		GetProcessorSubject:    "processor.get",
		CreateProcessorSubject: "processor.create",
		GetSchemaSubject:       "schema.get",
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithIdentity sets the processor's composite-key identity.
func WithIdentity(name, version string) Option {
	return func(c *Config) { c.Name = name; c.Version = version }
}

// WithImplementationHash sets the build-time embedded implementation hash.
func WithImplementationHash(hash string) Option { return func(c *Config) { c.ImplementationHash = hash } }

// WithInitMode overrides the initialization strategy.
func WithInitMode(mode InitMode) Option { return func(c *Config) { c.InitMode = mode } }

// WithQueueCapacity overrides the bounded-queue capacity for both queues.
func WithQueueCapacity(n int) Option { return func(c *Config) { c.QueueCapacity = n } }

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return NewProcessorError("config_validation", ErrCodeInvalidConfig, "invalid processor configuration", err)
	}
	return nil
}

// CompositeKey returns the processor's natural unique identifier.
func (c *Config) CompositeKey() string { return c.Version + "_" + c.Name }
