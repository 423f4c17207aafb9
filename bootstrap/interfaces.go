// Package bootstrap wires a task kernel, its configuration and its logger
// into a managed application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/najoast/taskrt/config"
	"github.com/najoast/taskrt/core"
	"go.uber.org/zap"
)

// Service is a component started and stopped by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopped   HealthState = "stopped"
)

// Container holds named instances and lazily built factories
type Container interface {
	// Register registers a factory, invoked on first Resolve
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers a ready instance
	RegisterInstance(name string, instance interface{}) error

	// Resolve returns the instance registered under name
	Resolve(name string) (interface{}, error)

	// ResolveAs resolves name into the value pointed to by target
	ResolveAs(name string, target interface{}) error

	// Has checks if name is registered
	Has(name string) bool

	// Names returns all registered names, sorted
	Names() []string
}

// ServiceFactory creates an instance on first resolution
type ServiceFactory func(container Container) (interface{}, error)

// LifecycleManager starts services in dependency order and stops them in
// reverse
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all started services in reverse order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// Events returns a channel for lifecycle events
	Events() <-chan LifecycleEvent

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application runs a main task on a managed kernel
type Application interface {
	// Configure replaces the configuration before the application runs
	Configure(cfg *config.Config) error

	// Run starts all services, runs main as the root task and stops the
	// services once main is dead, ctx is done or a termination signal
	// arrives
	Run(ctx context.Context, main core.TaskFunc) error

	// Shutdown stops all services
	Shutdown(ctx context.Context) error

	// Kernel returns the running kernel, nil before Run
	Kernel() *core.Kernel

	// Config returns the active configuration
	Config() *config.Config

	// Logger returns the application logger
	Logger() *zap.Logger

	// Container returns the dependency injection container
	Container() Container

	// LifecycleManager returns the lifecycle manager
	LifecycleManager() LifecycleManager
}

// Event types broadcast by the lifecycle manager
const (
	EventServiceRegistered  = "service.registered"
	EventServiceStarting    = "service.starting"
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopping    = "service.stopping"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
	EventLifecycleStarted   = "lifecycle.started"
	EventLifecycleStopped   = "lifecycle.stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string                 `json:"type"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     error                  `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

var (
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrNilService         = errors.New("service cannot be nil")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrNotRegistered      = errors.New("not registered")
	ErrAlreadyStarted     = errors.New("already started")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrAlreadyRunning     = errors.New("application already running")
)

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
