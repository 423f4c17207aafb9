package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/najoast/taskrt/config"
	"github.com/najoast/taskrt/core"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContainer(t *testing.T) {
	container := NewContainer()

	calls := 0
	err := container.Register("test-service", func(c Container) (interface{}, error) {
		calls++
		return "test-instance", nil
	})
	if err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}

	for i := 0; i < 2; i++ {
		instance, err := container.Resolve("test-service")
		if err != nil {
			t.Fatalf("Failed to resolve service: %v", err)
		}
		if instance != "test-instance" {
			t.Errorf("Expected 'test-instance', got %v", instance)
		}
	}
	if calls != 1 {
		t.Errorf("Expected factory to run once, ran %d times", calls)
	}

	if err := container.RegisterInstance("answer", 42); err != nil {
		t.Fatalf("Failed to register instance: %v", err)
	}
	if !container.Has("test-service") || !container.Has("answer") {
		t.Error("Container should have test-service and answer")
	}

	names := container.Names()
	if !reflect.DeepEqual(names, []string{"answer", "test-service"}) {
		t.Errorf("Expected [answer test-service], got %v", names)
	}
}

func TestContainerErrors(t *testing.T) {
	container := NewContainer()
	factoryErr := errors.New("boom")

	container.RegisterInstance("dup", 1)
	container.Register("broken", func(Container) (interface{}, error) {
		return nil, factoryErr
	})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"empty name", container.RegisterInstance("", 1), ErrEmptyName},
		{"nil instance", container.RegisterInstance("x", nil), ErrNilService},
		{"nil factory", container.Register("y", nil), ErrNilService},
		{"duplicate", container.RegisterInstance("dup", 2), ErrAlreadyRegistered},
		{"duplicate factory", container.Register("dup", func(Container) (interface{}, error) { return 1, nil }), ErrAlreadyRegistered},
		{"missing", resolveErr(container, "missing"), ErrNotRegistered},
		{"factory error", resolveErr(container, "broken"), factoryErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, tt.err)
			}
		})
	}
}

func resolveErr(c Container, name string) error {
	_, err := c.Resolve(name)
	return err
}

func TestResolveAs(t *testing.T) {
	container := NewContainer()
	svc := &TestService{name: "svc"}
	container.RegisterInstance("svc", svc)

	var asService Service
	if err := container.ResolveAs("svc", &asService); err != nil {
		t.Fatalf("Failed to resolve as Service: %v", err)
	}
	if asService != svc {
		t.Error("Expected the registered instance")
	}

	var wrong string
	if err := container.ResolveAs("svc", &wrong); err == nil {
		t.Error("Expected error resolving into an incompatible type")
	}
	if err := container.ResolveAs("svc", asService); err == nil {
		t.Error("Expected error for a non-pointer target")
	}
}

func TestFactoryResolvesDependencies(t *testing.T) {
	container := NewContainer()
	container.RegisterInstance("base", 2)
	container.Register("derived", func(c Container) (interface{}, error) {
		var base int
		if err := c.ResolveAs("base", &base); err != nil {
			return nil, err
		}
		return base * 21, nil
	})

	done := make(chan interface{}, 1)
	go func() {
		v, _ := container.Resolve("derived")
		done <- v
	}()

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Expected 42, got %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Factory resolving a dependency deadlocked")
	}
}

func TestLifecycleManager(t *testing.T) {
	lm := NewLifecycleManager(NewContainer(), nil)
	testService := &TestService{name: "test"}

	if err := lm.Register("test", testService); err != nil {
		t.Fatalf("Failed to register service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	if !testService.started {
		t.Error("Test service should be started")
	}
	if !lm.IsStarted() {
		t.Error("Lifecycle manager should report started")
	}
	if err := lm.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	if err := lm.Register("late", &TestService{name: "late"}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted registering late, got %v", err)
	}

	health, err := lm.Health(ctx)
	if err != nil {
		t.Fatalf("Failed to get health status: %v", err)
	}
	if health["test"].State != HealthHealthy {
		t.Errorf("Expected healthy state, got %v", health["test"].State)
	}
	if health["test"].LastCheck.IsZero() {
		t.Error("Expected LastCheck to be set")
	}

	if err := lm.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop services: %v", err)
	}
	if !testService.stopped {
		t.Error("Test service should be stopped")
	}
	if err := lm.Stop(ctx); err != nil {
		t.Errorf("Second stop should be a no-op, got %v", err)
	}
}

func TestLifecycleDependencyOrder(t *testing.T) {
	var rec recorder
	lm := NewLifecycleManager(NewContainer(), nil)

	lm.Register("app", rec.service("app"), "db", "cache")
	lm.Register("cache", rec.service("cache"), "db")
	lm.Register("db", rec.service("db"))
	lm.Register("metrics", rec.service("metrics"))

	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	if err := lm.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop services: %v", err)
	}

	expected := []string{
		"start db", "start metrics", "start cache", "start app",
		"stop app", "stop cache", "stop metrics", "stop db",
	}
	if got := rec.list(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestLifecycleOrderErrors(t *testing.T) {
	t.Run("circular", func(t *testing.T) {
		lm := NewLifecycleManager(NewContainer(), nil)
		lm.Register("a", &TestService{name: "a"}, "b")
		lm.Register("b", &TestService{name: "b"}, "a")
		if err := lm.Start(context.Background()); !errors.Is(err, ErrCircularDependency) {
			t.Errorf("Expected ErrCircularDependency, got %v", err)
		}
	})

	t.Run("missing dependency", func(t *testing.T) {
		lm := NewLifecycleManager(NewContainer(), nil)
		lm.Register("a", &TestService{name: "a"}, "ghost")
		if err := lm.Start(context.Background()); !errors.Is(err, ErrNotRegistered) {
			t.Errorf("Expected ErrNotRegistered, got %v", err)
		}
	})
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	var rec recorder
	startErr := errors.New("cannot start")
	lm := NewLifecycleManager(NewContainer(), nil)

	lm.Register("a", rec.service("a"))
	lm.Register("b", &recordingService{name: "b", rec: &rec, startErr: startErr}, "a")
	lm.Register("c", rec.service("c"), "b")

	err := lm.Start(context.Background())
	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Service != "b" || !errors.Is(err, startErr) {
		t.Fatalf("Expected start error for service b, got %v", err)
	}

	expected := []string{"start a", "stop a"}
	if got := rec.list(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
	if lm.IsStarted() {
		t.Error("Lifecycle manager should not report started")
	}
}

func TestLifecycleStopCollectsErrors(t *testing.T) {
	var rec recorder
	lm := NewLifecycleManager(NewContainer(), nil)
	lm.Register("a", &recordingService{name: "a", rec: &rec, stopErr: errors.New("a failed")})
	lm.Register("b", &recordingService{name: "b", rec: &rec, stopErr: errors.New("b failed")}, "a")

	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	err := lm.Stop(ctx)
	if errs := multierr.Errors(err); len(errs) != 2 {
		t.Fatalf("Expected 2 stop errors, got %v", err)
	}
	if got := rec.list(); !reflect.DeepEqual(got, []string{"start a", "start b", "stop b", "stop a"}) {
		t.Errorf("Expected every service to be stopped, got %v", got)
	}
}

func TestLifecycleEvents(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	lm := NewLifecycleManager(NewContainer(), zap.New(obs))

	var types []string
	lm.AddListener(func(e LifecycleEvent) {
		types = append(types, e.Type+":"+e.Service)
	})
	lm.AddListener(func(LifecycleEvent) {
		panic("listener bug")
	})

	lm.Register("svc", &TestService{name: "svc"})
	ctx := context.Background()
	lm.Start(ctx)
	lm.Stop(ctx)

	expected := []string{
		EventServiceRegistered + ":svc",
		EventServiceStarting + ":svc",
		EventServiceStarted + ":svc",
		EventLifecycleStarted + ":",
		EventServiceStopping + ":svc",
		EventServiceStopped + ":svc",
		EventLifecycleStopped + ":",
	}
	if !reflect.DeepEqual(types, expected) {
		t.Errorf("Expected %v, got %v", expected, types)
	}

	if n := logs.FilterMessage("lifecycle listener panicked").Len(); n != len(expected) {
		t.Errorf("Expected %d listener panics logged, got %d", len(expected), n)
	}

	select {
	case e := <-lm.Events():
		if e.Type != EventServiceRegistered {
			t.Errorf("Expected first event %s, got %s", EventServiceRegistered, e.Type)
		}
	default:
		t.Error("Expected buffered events")
	}
}

func newTestApplication(t *testing.T, opts ...Option) *DefaultApplication {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Runtime.WorkerThreads = 2
	cfg.Runtime.ShutdownTimeout = 5 * time.Second

	base := []Option{WithConfig(cfg), WithLogger(zap.NewNop()), WithoutSignals()}
	app, err := NewApplication(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	return app
}

func TestApplication(t *testing.T) {
	app := newTestApplication(t)

	expected := []string{ConfigWatcherServiceName, KernelServiceName}
	if got := app.LifecycleManager().Services(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected services %v, got %v", expected, got)
	}

	var cfg *config.Config
	if err := app.Container().ResolveAs("config", &cfg); err != nil {
		t.Fatalf("Failed to resolve config: %v", err)
	}
	if cfg != app.Config() {
		t.Error("Container config should be the application config")
	}
	if app.Kernel() != nil {
		t.Error("Kernel should not exist before Run")
	}

	next := config.DefaultConfig()
	next.App.Name = "reconfigured"
	if err := app.Configure(next); err != nil {
		t.Fatalf("Failed to configure application: %v", err)
	}
	if app.Config().App.Name != "reconfigured" {
		t.Errorf("Expected reconfigured, got %s", app.Config().App.Name)
	}

	invalid := config.DefaultConfig()
	invalid.Runtime.MaxTasks = 0
	if err := app.Configure(invalid); !errors.Is(err, config.ErrInvalidMaxTasks) {
		t.Errorf("Expected ErrInvalidMaxTasks, got %v", err)
	}
}

func TestApplicationRun(t *testing.T) {
	app := newTestApplication(t)

	var (
		kernel *core.Kernel
		got    []byte
	)
	err := app.Run(context.Background(), func(task *core.Task) error {
		kernel = task.Kernel()

		p, err := task.NewPort(4)
		if err != nil {
			return err
		}
		ch, err := core.NewChannel(p)
		if err != nil {
			return err
		}

		task.Spawn("child", func(child *core.Task) error {
			child.Send(ch, []byte("ping"))
			return nil
		})

		got = make([]byte, 4)
		task.Receive(p, got)
		if err := ch.Drop(); err != nil {
			return err
		}
		task.DeletePort(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if string(got) != "ping" {
		t.Errorf("Expected ping, got %q", got)
	}
	if kernel == nil || kernel.Stats().Live != 0 {
		t.Error("Expected every task to be dead after Run")
	}
	if app.Kernel() != nil {
		t.Error("Kernel should be released after Run")
	}
	if app.IsRunning() {
		t.Error("Application should not be running after Run")
	}
}

func TestApplicationRunMainFails(t *testing.T) {
	app := newTestApplication(t)
	mainErr := errors.New("main failed")

	err := app.Run(context.Background(), func(*core.Task) error {
		return mainErr
	})

	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Service != "main" {
		t.Fatalf("Expected ApplicationError for main, got %v", err)
	}
	if !errors.Is(err, mainErr) {
		t.Errorf("Expected error to wrap %v, got %v", mainErr, err)
	}
}

func TestApplicationRunContextCancel(t *testing.T) {
	app := newTestApplication(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := app.Run(ctx, func(task *core.Task) error {
		p, err := task.NewPort(1)
		if err != nil {
			return err
		}
		close(started)
		task.Receive(p, make([]byte, 1))
		return nil
	})
	if err != nil {
		t.Errorf("Expected clean shutdown after cancel, got %v", err)
	}
}

func TestApplicationRunWithService(t *testing.T) {
	var rec recorder
	app := newTestApplication(t, WithService(rec.service("extra")))

	err := app.Run(context.Background(), func(task *core.Task) error {
		health, err := app.LifecycleManager().Health(context.Background())
		if err != nil {
			return err
		}
		if health[KernelServiceName].State != HealthHealthy {
			return errors.New("kernel not healthy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := rec.list(); !reflect.DeepEqual(got, []string{"start extra", "stop extra"}) {
		t.Errorf("Expected extra service started and stopped, got %v", got)
	}
}

func TestConfigWatcherServiceUpdatesLevel(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "taskrt.yaml")
	if err := os.WriteFile(file, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	changed := make(chan *config.Config, 1)
	svc := NewConfigWatcherService(file, config.NewLoader(), level, zap.NewNop(),
		func(_, newConfig *config.Config) {
			select {
			case changed <- newConfig:
			default:
			}
		})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer svc.Stop(ctx)

	if err := os.WriteFile(file, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if err := svc.Watcher().Reload(); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Log.Level != config.LogLevelDebug {
			t.Errorf("Expected debug, got %s", cfg.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Change callback not invoked")
	}
	if level.Level() != zapcore.DebugLevel {
		t.Errorf("Expected debug level, got %s", level.Level())
	}
}

func TestConfigWatcherServiceWithoutFile(t *testing.T) {
	svc := NewConfigWatcherService("", config.NewLoader(), zap.NewAtomicLevel(), zap.NewNop(), nil)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start without file should succeed: %v", err)
	}
	status, _ := svc.Health(ctx)
	if status.State != HealthStopped {
		t.Errorf("Expected stopped, got %s", status.State)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Errorf("Stop without file should succeed: %v", err)
	}
}

// TestService is a simple service implementation for testing
type TestService struct {
	name    string
	started bool
	stopped bool
}

func (s *TestService) Name() string {
	return s.name
}

func (s *TestService) Start(ctx context.Context) error {
	s.started = true
	return nil
}

func (s *TestService) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func (s *TestService) Health(ctx context.Context) (HealthStatus, error) {
	if s.started && !s.stopped {
		return HealthStatus{State: HealthHealthy, Message: "Service is running"}, nil
	}
	return HealthStatus{State: HealthUnhealthy, Message: "Service is not running"}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) service(name string) *recordingService {
	return &recordingService{name: name, rec: r}
}

type recordingService struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
}

func (s *recordingService) Name() string {
	return s.name
}

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.rec.add("start " + s.name)
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.rec.add("stop " + s.name)
	return s.stopErr
}

func (s *recordingService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy}, nil
}
