package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/najoast/taskrt/config"
	"github.com/najoast/taskrt/memory"
	"go.uber.org/zap"
)

// Kernel is the registry of tasks and the scheduler they run on. It is
// safe for concurrent use.
type Kernel struct {
	cfg    config.RuntimeConfig
	logger *zap.Logger

	// per-category loggers
	kernelLog *zap.Logger
	commLog   *zap.Logger
	memLog    *zap.Logger

	mu     sync.RWMutex
	tasks  map[TaskID]*Task
	live   int
	idle   chan struct{}
	closed bool

	nextID    atomic.Uint32
	created   atomic.Uint64
	failed    atomic.Uint64
	reclaimed atomic.Uint64

	sched  *scheduler
	shared *memory.SharedArena
	gcHook func(t *Task)

	// failed tasks already reclaimed, oldest first, guarded by mu
	reaped      map[TaskID]struct{}
	reapedOrder []TaskID
}

// reapedLimit bounds how many reclaimed failures Join can still report.
const reapedLimit = 1024

// KernelStats contains runtime statistics for a Kernel.
type KernelStats struct {
	// Registered tasks, including dead ones still referenced
	Tasks int

	// Tasks that are not dead
	Live int

	// Lifetime counters
	Created   uint64
	Failed    uint64
	Reclaimed uint64

	// Number of worker slots
	WorkerThreads int

	// Shared arena accounting
	SharedArena memory.ArenaStats
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithConfig sets the runtime configuration.
func WithConfig(cfg config.RuntimeConfig) Option {
	return func(k *Kernel) {
		k.cfg = cfg
	}
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithGCHook sets the function run by Task.GC.
func WithGCHook(fn func(t *Task)) Option {
	return func(k *Kernel) {
		k.gcHook = fn
	}
}

// NewKernel creates a kernel. Without options it uses the default
// runtime configuration and a no-op logger.
func NewKernel(opts ...Option) *Kernel {
	k := &Kernel{
		cfg:    config.DefaultConfig().Runtime,
		logger: zap.NewNop(),
		tasks:  make(map[TaskID]*Task),
		idle:   make(chan struct{}),
		reaped: make(map[TaskID]struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	close(k.idle)

	k.kernelLog = k.logger.Named("kernel")
	k.commLog = k.logger.Named("comm")
	k.memLog = k.logger.Named("mem")
	k.sched = newScheduler(k.cfg.WorkerThreads)
	k.shared = memory.NewSharedArena("shared", k.cfg.SharedArenaLimit)

	k.kernelLog.Info("kernel created",
		zap.Int("worker_threads", k.sched.workers),
		zap.Int("max_tasks", k.cfg.MaxTasks))
	return k
}

// NumWorkerThreads returns the number of worker slots.
func (k *Kernel) NumWorkerThreads() int {
	return k.sched.workers
}

// SharedArena returns the arena used for data crossing task boundaries.
func (k *Kernel) SharedArena() memory.Arena {
	return k.shared
}

// Logger returns the kernel's base logger.
func (k *Kernel) Logger() *zap.Logger {
	return k.logger
}

// CreateTask registers a new task in state New and returns its identity.
// parent may be nil for root tasks.
func (k *Kernel) CreateTask(parent *Task, name string, fn TaskFunc) (TaskID, error) {
	if fn == nil {
		return 0, fmt.Errorf("cannot create task with nil body")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return 0, ErrKernelShutdown
	}
	if k.cfg.MaxTasks > 0 && len(k.tasks) >= k.cfg.MaxTasks {
		return 0, fmt.Errorf("%w: limit %d", ErrTooManyTasks, k.cfg.MaxTasks)
	}

	id := TaskID(k.nextID.Add(1))
	t := newTask(k, id, parent, name, fn)
	k.tasks[id] = t
	if k.live == 0 {
		k.idle = make(chan struct{})
	}
	k.live++
	k.created.Add(1)

	k.kernelLog.Debug("task created",
		zap.Uint32("task", uint32(id)),
		zap.String("name", t.name),
		zap.Uint32("parent", uint32(t.parentID)))
	return id, nil
}

// StartTask launches a task created by CreateTask.
func (k *Kernel) StartTask(id TaskID) error {
	k.mu.RLock()
	t, ok := k.tasks[id]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return t.start()
}

// Spawn creates and starts a task.
func (k *Kernel) Spawn(parent *Task, name string, fn TaskFunc) (TaskID, error) {
	id, err := k.CreateTask(parent, name, fn)
	if err != nil {
		return 0, err
	}
	if err := k.StartTask(id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetTaskByID returns the task with a reference taken. The caller must
// release it with Deref.
func (k *Kernel) GetTaskByID(id TaskID) (*Task, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	t, ok := k.tasks[id]
	if !ok || !t.tryRef() {
		return nil, false
	}
	return t, true
}

// SendByID delivers data to a port addressed by identity. A missing task
// or port drops the message and returns nil.
func (k *Kernel) SendByID(taskID TaskID, portID PortID, data []byte) error {
	_, err := k.sendByID(taskID, portID, data)
	return err
}

// sendByID reports whether the message was delivered or silently dropped.
func (k *Kernel) sendByID(taskID TaskID, portID PortID, data []byte) (bool, error) {
	t, ok := k.GetTaskByID(taskID)
	if !ok {
		k.commLog.Debug("dropped message for missing task",
			zap.Uint32("task", uint32(taskID)),
			zap.Uint32("port", uint32(portID)))
		return false, nil
	}
	defer t.Deref()

	p, ok := t.Port(portID)
	if !ok {
		k.commLog.Debug("dropped message for missing port",
			zap.Uint32("task", uint32(taskID)),
			zap.Uint32("port", uint32(portID)))
		return false, nil
	}

	if err := p.send(p.remote, data); err != nil {
		if errors.Is(err, ErrPortClosed) {
			k.commLog.Debug("dropped message for closed port",
				zap.Uint32("task", uint32(taskID)),
				zap.Uint32("port", uint32(portID)))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns statistics for every registered task ordered by identity.
func (k *Kernel) List() []TaskStats {
	k.mu.RLock()
	tasks := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.mu.RUnlock()

	stats := make([]TaskStats, 0, len(tasks))
	for _, t := range tasks {
		stats = append(stats, t.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Stats returns kernel statistics.
func (k *Kernel) Stats() KernelStats {
	k.mu.RLock()
	tasks, live := len(k.tasks), k.live
	k.mu.RUnlock()

	return KernelStats{
		Tasks:         tasks,
		Live:          live,
		Created:       k.created.Load(),
		Failed:        k.failed.Load(),
		Reclaimed:     k.reclaimed.Load(),
		WorkerThreads: k.sched.workers,
		SharedArena:   k.shared.Stats(),
	}
}

// Wait blocks until every task is dead or ctx is done. Tasks that were
// created but never started count as live.
func (k *Kernel) Wait(ctx context.Context) error {
	for {
		k.mu.RLock()
		live, idle := k.live, k.idle
		k.mu.RUnlock()
		if live == 0 {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops task creation, kills every live task and waits for them
// to die.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	k.closed = true
	tasks := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.mu.Unlock()

	k.kernelLog.Info("kernel shutting down", zap.Int("tasks", len(tasks)))
	for _, t := range tasks {
		t.Kill()
	}

	if err := k.Wait(ctx); err != nil {
		k.kernelLog.Warn("kernel shutdown timed out", zap.Error(err))
		return err
	}

	if used := k.shared.Stats().Used; used > 0 {
		k.memLog.Debug("shared arena still in use at shutdown", zap.Int64("bytes", used))
	}
	return nil
}

// taskDied updates the live count once a task is dead.
func (k *Kernel) taskDied(t *Task) {
	if t.Failed() {
		k.failed.Add(1)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.live--
	if k.live == 0 {
		close(k.idle)
	}
}

// reclaim removes a dead task with no references left.
func (k *Kernel) reclaim(t *Task) {
	failed := t.Failed()

	k.mu.Lock()
	if k.tasks[t.id] == t {
		delete(k.tasks, t.id)
	}
	if failed {
		k.reaped[t.id] = struct{}{}
		k.reapedOrder = append(k.reapedOrder, t.id)
		if len(k.reapedOrder) > reapedLimit {
			delete(k.reaped, k.reapedOrder[0])
			k.reapedOrder = k.reapedOrder[1:]
		}
	}
	k.mu.Unlock()

	k.reclaimed.Add(1)
	k.kernelLog.Debug("task reclaimed", zap.Uint32("task", uint32(t.id)))
}

// reapedFailure reports whether id names a failed task that has already
// been reclaimed. Only the most recent reapedLimit failures are kept.
func (k *Kernel) reapedFailure(id TaskID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.reaped[id]
	return ok
}

// propagateFailure kills the parent of a failed supervised task.
func (k *Kernel) propagateFailure(child *Task, err error) {
	parent, ok := k.GetTaskByID(child.parentID)
	if !ok {
		return
	}
	defer parent.Deref()

	k.kernelLog.Debug("propagating failure to parent",
		zap.Uint32("task", uint32(child.id)),
		zap.Uint32("parent", uint32(parent.id)),
		zap.Error(err))
	parent.kill(fmt.Errorf("%w: task %d: %v", ErrChildFailed, child.id, err))
}

// gc runs the collection hook on behalf of t.
func (k *Kernel) gc(t *Task) {
	if k.gcHook == nil {
		return
	}
	k.gcHook(t)
}
