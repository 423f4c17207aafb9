package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/najoast/taskrt/config"
	"github.com/najoast/taskrt/core"
	"github.com/najoast/taskrt/logging"
	"go.uber.org/zap"
)

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	cfg        *config.Config
	configFile string
	loader     *config.Loader

	logger *zap.Logger
	level  zap.AtomicLevel

	container        *DefaultContainer
	lifecycleManager *DefaultLifecycleManager
	kernelService    *KernelService
	watcherService   *ConfigWatcherService
	kernelOpts       []core.Option
	services         []serviceRegistration

	mutex   sync.RWMutex
	running bool

	// nil disables signal handling
	signals chan os.Signal
}

type serviceRegistration struct {
	service Service
	deps    []string
}

// Option configures a DefaultApplication
type Option func(*DefaultApplication)

// WithConfig uses cfg instead of loading a configuration
func WithConfig(cfg *config.Config) Option {
	return func(app *DefaultApplication) {
		app.cfg = cfg
	}
}

// WithConfigFile loads the configuration from path and watches it for
// changes while the application runs
func WithConfigFile(path string) Option {
	return func(app *DefaultApplication) {
		app.configFile = path
	}
}

// WithLoader sets the loader used for the configuration file
func WithLoader(loader *config.Loader) Option {
	return func(app *DefaultApplication) {
		app.loader = loader
	}
}

// WithLogger uses l instead of building a logger from the configuration.
// Log level reloads have no effect on it.
func WithLogger(l *zap.Logger) Option {
	return func(app *DefaultApplication) {
		app.logger = l
	}
}

// WithKernelOptions passes extra options to the kernel when it starts
func WithKernelOptions(opts ...core.Option) Option {
	return func(app *DefaultApplication) {
		app.kernelOpts = append(app.kernelOpts, opts...)
	}
}

// WithService registers an additional service started after the kernel
// and deps
func WithService(service Service, deps ...string) Option {
	return func(app *DefaultApplication) {
		app.services = append(app.services, serviceRegistration{service: service, deps: deps})
	}
}

// WithoutSignals stops Run from reacting to SIGINT and SIGTERM
func WithoutSignals() Option {
	return func(app *DefaultApplication) {
		app.signals = nil
	}
}

// NewApplication creates an application. Without WithConfig or
// WithConfigFile the configuration is auto-loaded from the search paths,
// falling back to defaults.
func NewApplication(opts ...Option) (*DefaultApplication, error) {
	app := &DefaultApplication{
		loader:    config.NewLoader(),
		container: NewContainer(),
		signals:   make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.loadConfig(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	if app.logger == nil {
		l, level, err := logging.NewForConfig(app.cfg)
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Service: "logger", Err: err}
		}
		app.logger, app.level = l, level
	} else {
		app.level = zap.NewAtomicLevel()
	}
	logging.SetLogger(app.logger)

	app.lifecycleManager = NewLifecycleManager(app.container, app.logger)
	if err := app.registerCoreServices(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *DefaultApplication) loadConfig() error {
	switch {
	case app.cfg != nil:
		return app.cfg.Validate()
	case app.configFile != "":
		cfg, err := app.loader.LoadFromFile(app.configFile)
		if err != nil {
			return err
		}
		app.cfg = cfg
	default:
		cfg, err := app.loader.AutoLoad()
		if err != nil {
			return err
		}
		app.cfg = cfg
	}
	return nil
}

func (app *DefaultApplication) registerCoreServices() error {
	app.container.Replace("config", app.cfg)
	app.container.Replace("logger", app.logger)

	app.kernelService = NewKernelService(func() config.RuntimeConfig {
		return app.Config().Runtime
	}, app.logger, app.kernelOpts...)

	app.watcherService = NewConfigWatcherService(app.configFile, app.loader, app.level, app.logger,
		func(_, newConfig *config.Config) {
			app.mutex.Lock()
			app.cfg = newConfig
			app.mutex.Unlock()
			app.container.Replace("config", newConfig)
		})

	if err := app.lifecycleManager.Register(ConfigWatcherServiceName, app.watcherService); err != nil {
		return err
	}
	if err := app.lifecycleManager.Register(KernelServiceName, app.kernelService); err != nil {
		return err
	}
	app.container.Replace(KernelServiceName, app.kernelService)
	app.container.Replace(ConfigWatcherServiceName, app.watcherService)

	for _, reg := range app.services {
		deps := append([]string{KernelServiceName}, reg.deps...)
		if err := app.lifecycleManager.Register(reg.service.Name(), reg.service, deps...); err != nil {
			return err
		}
	}
	return nil
}

// Configure replaces the configuration. The log level follows the new
// configuration; runtime settings take effect on the next Run.
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	if cfg == nil {
		return &ApplicationError{Operation: "configure", Err: errors.New("nil configuration")}
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return &ApplicationError{Operation: "configure", Err: ErrAlreadyRunning}
	}
	if err := logging.UpdateLevel(app.level, cfg.Log.Level); err != nil {
		return &ApplicationError{Operation: "configure", Service: "logger", Err: err}
	}

	app.cfg = cfg
	app.container.Replace("config", cfg)
	return nil
}

// Run starts the services and runs main as the root task. It returns once
// main is dead, ctx is done or a termination signal arrives, after
// stopping every service. A failed main task is reported as an
// ApplicationError wrapping the task's failure.
func (app *DefaultApplication) Run(ctx context.Context, main core.TaskFunc) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return &ApplicationError{Operation: "run", Err: ErrAlreadyRunning}
	}
	app.running = true
	app.mutex.Unlock()

	if app.signals != nil {
		signal.Notify(app.signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(app.signals)
	}

	if err := app.lifecycleManager.Start(ctx); err != nil {
		app.setRunning(false)
		return err
	}

	task, err := app.spawnMain(main)
	if err != nil {
		app.Shutdown(context.Background())
		return &ApplicationError{Operation: "run", Service: "main", Err: err}
	}
	defer task.Deref()

	interrupted := true
	select {
	case <-task.Done():
		interrupted = false
	case sig := <-app.signals:
		app.logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case <-ctx.Done():
		app.logger.Info("context done, shutting down", zap.Error(ctx.Err()))
	}

	shutdownErr := app.Shutdown(context.Background())
	if !interrupted && task.Failed() {
		return &ApplicationError{Operation: "run", Service: "main", Err: task.Failure()}
	}
	return shutdownErr
}

// spawnMain creates and starts the root task, holding a reference so it
// stays inspectable after it dies.
func (app *DefaultApplication) spawnMain(main core.TaskFunc) (*core.Task, error) {
	k := app.kernelService.Kernel()
	if k == nil {
		return nil, errors.New("kernel is not running")
	}

	id, err := k.CreateTask(nil, "main", main)
	if err != nil {
		return nil, err
	}
	task, ok := k.GetTaskByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrTaskNotFound, id)
	}
	if err := k.StartTask(id); err != nil {
		task.Deref()
		return nil, err
	}
	return task, nil
}

// Shutdown stops all services. It is a no-op when the application is not
// running.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.RLock()
	running := app.running
	app.mutex.RUnlock()
	if !running {
		return nil
	}

	err := app.lifecycleManager.Stop(ctx)
	app.setRunning(false)
	if syncErr := app.logger.Sync(); syncErr != nil {
		app.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	return err
}

func (app *DefaultApplication) setRunning(running bool) {
	app.mutex.Lock()
	app.running = running
	app.mutex.Unlock()
}

// Kernel returns the running kernel, nil outside Run
func (app *DefaultApplication) Kernel() *core.Kernel {
	return app.kernelService.Kernel()
}

// Config returns the active configuration
func (app *DefaultApplication) Config() *config.Config {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.cfg
}

func (app *DefaultApplication) Logger() *zap.Logger {
	return app.logger
}

func (app *DefaultApplication) Container() Container {
	return app.container
}

func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

// IsRunning returns true while Run is active
func (app *DefaultApplication) IsRunning() bool {
	app.mutex.RLock()
	defer app.mutex.RUnlock()
	return app.running
}

var _ Application = (*DefaultApplication)(nil)
