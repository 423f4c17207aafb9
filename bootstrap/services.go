package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/najoast/taskrt/config"
	"github.com/najoast/taskrt/core"
	"github.com/najoast/taskrt/logging"
	"go.uber.org/zap"
)

// Service names registered by every application
const (
	KernelServiceName        = "kernel"
	ConfigWatcherServiceName = "config-watcher"
)

// KernelService owns the task kernel. The kernel is created on Start
// and shut down on Stop.
type KernelService struct {
	cfg    func() config.RuntimeConfig
	logger *zap.Logger
	opts   []core.Option

	mu     sync.RWMutex
	kernel *core.Kernel
}

// NewKernelService creates the service. cfg is read when the kernel starts.
func NewKernelService(cfg func() config.RuntimeConfig, logger *zap.Logger, opts ...core.Option) *KernelService {
	return &KernelService{cfg: cfg, logger: logger, opts: opts}
}

func (s *KernelService) Name() string {
	return KernelServiceName
}

// Kernel returns the running kernel, or nil
func (s *KernelService) Kernel() *core.Kernel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kernel
}

func (s *KernelService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kernel != nil {
		return fmt.Errorf("kernel: %w", ErrAlreadyStarted)
	}
	opts := append([]core.Option{core.WithConfig(s.cfg()), core.WithLogger(s.logger)}, s.opts...)
	s.kernel = core.NewKernel(opts...)
	return nil
}

// Stop kills every live task and waits at most the configured shutdown
// timeout for them to die.
func (s *KernelService) Stop(ctx context.Context) error {
	s.mu.Lock()
	k := s.kernel
	s.kernel = nil
	s.mu.Unlock()

	if k == nil {
		return nil
	}

	if timeout := s.cfg().ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return k.Shutdown(ctx)
}

func (s *KernelService) Health(ctx context.Context) (HealthStatus, error) {
	k := s.Kernel()
	if k == nil {
		return HealthStatus{State: HealthStopped, LastCheck: time.Now()}, nil
	}

	stats := k.Stats()
	return HealthStatus{
		State:     HealthHealthy,
		LastCheck: time.Now(),
		Data: map[string]interface{}{
			"tasks":          stats.Tasks,
			"live":           stats.Live,
			"created":        stats.Created,
			"failed":         stats.Failed,
			"worker_threads": stats.WorkerThreads,
			"shared_used":    stats.SharedArena.Used,
		},
	}, nil
}

// ConfigWatcherService reloads the configuration file when it changes and
// applies the new log level. Without a file it does nothing.
type ConfigWatcherService struct {
	file     string
	loader   *config.Loader
	level    zap.AtomicLevel
	logger   *zap.Logger
	onChange config.ConfigChangeCallback
	debounce time.Duration

	mu      sync.RWMutex
	watcher *config.Watcher
}

// NewConfigWatcherService creates the service. onChange may be nil.
func NewConfigWatcherService(file string, loader *config.Loader, level zap.AtomicLevel, logger *zap.Logger, onChange config.ConfigChangeCallback) *ConfigWatcherService {
	return &ConfigWatcherService{
		file:     file,
		loader:   loader,
		level:    level,
		logger:   logger,
		onChange: onChange,
	}
}

func (s *ConfigWatcherService) Name() string {
	return ConfigWatcherServiceName
}

// SetDebounce overrides the watcher's reload delay. Call before Start.
func (s *ConfigWatcherService) SetDebounce(d time.Duration) {
	s.debounce = d
}

func (s *ConfigWatcherService) Start(ctx context.Context) error {
	if s.file == "" {
		return nil
	}

	w, err := config.NewWatcher(s.file, s.loader, s.logger)
	if err != nil {
		return err
	}
	if s.debounce > 0 {
		w.SetDebounce(s.debounce)
	}

	w.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			if err := logging.UpdateLevel(s.level, newConfig.Log.Level); err != nil {
				s.logger.Warn("ignoring log level change", zap.Error(err))
			} else {
				s.logger.Info("log level changed",
					zap.Stringer("from", oldConfig.Log.Level),
					zap.Stringer("to", newConfig.Log.Level))
			}
		}
		if s.onChange != nil {
			s.onChange(oldConfig, newConfig)
		}
	})

	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *ConfigWatcherService) Stop(ctx context.Context) error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop()
}

func (s *ConfigWatcherService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.RLock()
	w := s.watcher
	s.mu.RUnlock()

	if w == nil {
		return HealthStatus{State: HealthStopped, LastCheck: time.Now()}, nil
	}
	return HealthStatus{
		State:     HealthHealthy,
		LastCheck: time.Now(),
		Data:      map[string]interface{}{"file": s.file},
	}, nil
}

// Watcher returns the running watcher, or nil
func (s *ConfigWatcherService) Watcher() *config.Watcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watcher
}
