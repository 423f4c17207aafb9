// Package config provides configuration management for the task runtime
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete runtime configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Task runtime configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Custom configurations (for embedding programs)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored level names in text output
	Color bool `yaml:"color" json:"color"`

	// Fields to include in every log entry
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RuntimeConfig contains scheduler and memory settings
type RuntimeConfig struct {
	// Number of worker slots multiplexing all tasks, 0 means GOMAXPROCS
	WorkerThreads int `yaml:"worker_threads" json:"worker_threads"`

	// Maximum number of registered tasks
	MaxTasks int `yaml:"max_tasks" json:"max_tasks"`

	// Byte limit of each task-local arena, 0 means unlimited
	TaskArenaLimit int64 `yaml:"task_arena_limit" json:"task_arena_limit"`

	// Byte limit of the shared arena, 0 means unlimited
	SharedArenaLimit int64 `yaml:"shared_arena_limit" json:"shared_arena_limit"`

	// Report blocks still live when a task arena is released
	LeakCheck bool `yaml:"leak_check" json:"leak_check"`

	// Time allowed for live tasks to die on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "taskrt-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "taskrt application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
			Color:  true,
		},
		Runtime: RuntimeConfig{
			WorkerThreads:    0,
			MaxTasks:         100000,
			TaskArenaLimit:   0,
			SharedArenaLimit: 0,
			LeakCheck:        true,
			ShutdownTimeout:  10 * time.Second,
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	// Validate runtime config
	if c.Runtime.WorkerThreads < 0 {
		return ErrInvalidWorkerThreads
	}
	if c.Runtime.MaxTasks <= 0 {
		return ErrInvalidMaxTasks
	}
	if c.Runtime.TaskArenaLimit < 0 || c.Runtime.SharedArenaLimit < 0 {
		return ErrInvalidArenaLimit
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
