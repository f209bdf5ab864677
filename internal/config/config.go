package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// AuthConfig contains authentication settings for the API surface.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// SchedulerConfig contains the task manager's tuning knobs.
type SchedulerConfig struct {
	// TickInterval is the scheduler loop period.
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"required"`

	// MaxConcurrentTasks is the global ceiling on simultaneously running
	// tasks across all executor strategies.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" validate:"required,gt=0"`

	// DefaultExecutor names the strategy used when a task does not request
	// one explicitly.
	DefaultExecutor string `mapstructure:"default_executor" validate:"required,oneof=sequential pool async"`

	// WorkerCount sizes the worker pool executor. Zero means the host core
	// count.
	WorkerCount int `mapstructure:"worker_count" validate:"gte=0"`

	// AsyncLimit bounds the async executor's in-flight units.
	AsyncLimit int `mapstructure:"async_limit" validate:"required,gt=0"`

	// QueueSize is the worker pool's submission buffer.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`
}
