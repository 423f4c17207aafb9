package core

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/taskrt/memory"
	"github.com/najoast/taskrt/osrt"
	"go.uber.org/zap"
)

// Task is one cooperatively scheduled unit of execution. It owns a
// task-local arena, a lifecycle state and the ports it receives on.
//
// Methods that suspend or fail the task (Yield, Block, Join, Sleep, Pin,
// Fail, Receive and the memory and messaging wrappers) must only be called
// from the task's own body. Kill, Wakeup, Stats and the reference count
// methods are safe from any goroutine.
type Task struct {
	id        TaskID
	name      string
	parentID  TaskID
	kernel    *Kernel
	fn        TaskFunc
	arena     *memory.LocalArena
	logger    *zap.Logger
	createdAt time.Time

	// stateMu is a leaf lock
	stateMu     sync.Mutex
	state       TaskState
	blockedOn   Resource
	blockReason string
	failure     error

	// joinMu guards joiners and dead; it is taken before stateMu
	joinMu  sync.Mutex
	joiners []*Task
	dead    bool

	wake     chan struct{}
	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once
	killErr  error

	portsMu  sync.Mutex
	ports    map[PortID]*Port
	nextPort PortID

	refs       atomic.Int32
	supervised atomic.Bool
	pins       atomic.Int32

	// Owned by the task's goroutine
	holdsSlot bool
	failing   error
	pending   *Port
	rng       *osrt.Rand

	sent     atomic.Uint64
	received atomic.Uint64
	yields   atomic.Uint64
}

func newTask(k *Kernel, id TaskID, parent *Task, name string, fn TaskFunc) *Task {
	if name == "" {
		name = fmt.Sprintf("task-%d", id)
	}
	t := &Task{
		id:        id,
		name:      name,
		kernel:    k,
		fn:        fn,
		arena:     memory.NewLocalArena(name, k.cfg.TaskArenaLimit),
		logger:    k.logger.Named("task").With(zap.Uint32("task", uint32(id)), zap.String("name", name)),
		createdAt: time.Now(),
		state:     TaskStateNew,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		killed:    make(chan struct{}),
		ports:     make(map[PortID]*Port),
	}
	if parent != nil {
		t.parentID = parent.id
	}
	// The body holds one reference until the task dies.
	t.refs.Store(1)
	t.supervised.Store(true)
	return t
}

// ID returns the task's identity.
func (t *Task) ID() TaskID {
	return t.id
}

// Name returns the task's name.
func (t *Task) Name() string {
	return t.name
}

// Parent returns the identity of the creating task, zero for root tasks.
func (t *Task) Parent() TaskID {
	return t.parentID
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.kernel
}

// String names the task as a blocking resource.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.id, t.name)
}

// Log returns the task-scoped logger.
func (t *Task) Log() *zap.Logger {
	return t.logger
}

// Arena returns the task-local arena. Only the task itself may use it.
func (t *Task) Arena() memory.Arena {
	return t.arena
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// Failed reports whether the task died failing.
func (t *Task) Failed() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state == TaskStateDead && t.failure != nil
}

// Failure returns the reason a dead task failed, or nil.
func (t *Task) Failure() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.failure
}

// Done is closed once the task is dead.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Ref takes a reference on the task.
func (t *Task) Ref() {
	t.refs.Add(1)
}

// Deref releases a reference. A dead task with no references left is
// removed from the kernel registry.
func (t *Task) Deref() {
	n := t.refs.Add(-1)
	if n < 0 {
		t.logger.Error("task reference count underflow", zap.Int32("refs", n))
		return
	}
	if n == 0 {
		t.kernel.reclaim(t)
	}
}

// tryRef takes a reference unless the count already reached zero.
func (t *Task) tryRef() bool {
	for {
		n := t.refs.Load()
		if n <= 0 {
			return false
		}
		if t.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Stats returns current runtime statistics for this Task.
func (t *Task) Stats() TaskStats {
	t.stateMu.Lock()
	state := t.state
	reason := t.blockReason
	failure := t.failure
	var blockedOn string
	if t.blockedOn != nil {
		blockedOn = t.blockedOn.String()
	}
	t.stateMu.Unlock()

	t.portsMu.Lock()
	ports := len(t.ports)
	t.portsMu.Unlock()

	return TaskStats{
		ID:               t.id,
		Name:             t.name,
		Parent:           t.parentID,
		State:            state,
		BlockedOn:        blockedOn,
		BlockReason:      reason,
		Failed:           state == TaskStateDead && failure != nil,
		Failure:          failure,
		Pinned:           t.pins.Load() > 0,
		Supervised:       t.supervised.Load(),
		Ports:            ports,
		RefCount:         t.refs.Load(),
		MessagesSent:     t.sent.Load(),
		MessagesReceived: t.received.Load(),
		Yields:           t.yields.Load(),
		CreatedAt:        t.createdAt,
	}
}

// start moves a new task to Runnable and launches its body.
func (t *Task) start() error {
	t.stateMu.Lock()
	if t.state != TaskStateNew {
		t.stateMu.Unlock()
		return ErrTaskStarted
	}
	t.state = TaskStateRunnable
	t.stateMu.Unlock()

	go t.run()
	return nil
}

// run executes the body on the task's goroutine.
func (t *Task) run() {
	t.acquireSlot()

	completed := false
	var err error
	defer func() {
		if !completed {
			if r := recover(); r != nil {
				err = &TaskError{Op: "run", Task: t.id, Err: fmt.Errorf("panic: %v", r)}
			} else if t.failing != nil {
				err = t.failing
			} else {
				err = &TaskError{Op: "run", Task: t.id, Err: ErrExited}
			}
		}
		t.finish(err)
		if t.holdsSlot {
			t.releaseSlot()
		}
	}()

	if rerr := t.fn(t); rerr != nil {
		err = &TaskError{Op: "run", Task: t.id, Err: rerr}
	}
	completed = true
}

// finish moves the task to Dead and releases everything it owns.
func (t *Task) finish(err error) {
	t.closePorts()

	if leaks := t.arena.Release(); len(leaks) > 0 && t.kernel.cfg.LeakCheck {
		for _, l := range leaks {
			t.kernel.memLog.Warn("leaked allocation",
				zap.Uint32("task", uint32(t.id)),
				zap.String("tag", l.Tag),
				zap.Int("size", l.Size))
		}
	}

	t.stateMu.Lock()
	t.state = TaskStateDead
	t.blockedOn = nil
	t.blockReason = ""
	t.failure = err
	t.stateMu.Unlock()

	t.joinMu.Lock()
	t.dead = true
	joiners := t.joiners
	t.joiners = nil
	t.joinMu.Unlock()

	close(t.done)
	for _, j := range joiners {
		j.Wakeup(t)
	}

	if err != nil {
		t.logger.Warn("task failed", zap.Error(err))
		if t.supervised.Load() && t.parentID != 0 {
			t.kernel.propagateFailure(t, err)
		}
	} else {
		t.logger.Debug("task finished")
	}

	t.kernel.taskDied(t)
	t.Deref()
}

// closePorts tears down every port still owned by the task.
func (t *Task) closePorts() {
	t.portsMu.Lock()
	ports := t.ports
	t.ports = make(map[PortID]*Port)
	t.portsMu.Unlock()

	for _, p := range ports {
		if refs := p.close(); refs > 0 {
			t.kernel.commLog.Debug("port closed with bound channels",
				zap.Uint32("task", uint32(t.id)),
				zap.Uint32("port", uint32(p.id)),
				zap.Int32("refs", refs))
		}
		t.Deref()
	}
	t.pending = nil
}

func (t *Task) acquireSlot() {
	t.kernel.sched.acquire()
	t.holdsSlot = true
}

func (t *Task) releaseSlot() {
	t.holdsSlot = false
	t.kernel.sched.release()
}

// Fail marks the task failed and stops its goroutine; it does not return.
// Joiners see JoinFailure and a supervising parent is killed.
func (t *Task) Fail(err error) {
	if err == nil {
		err = errors.New("task failed")
	}
	t.failing = err
	runtime.Goexit()
}

func (t *Task) fail(op string, err error) {
	t.Fail(&TaskError{Op: op, Task: t.id, Err: err})
}

// Kill asks the task to die. A task that has not started dies at once;
// otherwise it fails at its next suspension point, or immediately when it
// is blocked or sleeping.
func (t *Task) Kill() {
	t.kill(ErrKilled)
}

func (t *Task) kill(reason error) {
	t.killOnce.Do(func() {
		t.killErr = reason
		close(t.killed)
	})

	t.stateMu.Lock()
	if t.state != TaskStateNew {
		t.stateMu.Unlock()
		return
	}
	// Claim the task so a concurrent start cannot run it.
	t.state = TaskStateDead
	t.stateMu.Unlock()

	t.finish(&TaskError{Op: "kill", Task: t.id, Err: t.killErr})
}

func (t *Task) checkKilled() {
	select {
	case <-t.killed:
		t.fail("kill", t.killErr)
	default:
	}
}

// Yield gives up the worker slot. A runnable task resumes in the next
// scheduling round; a blocked task first waits for Wakeup.
func (t *Task) Yield(cp Checkpoint) {
	t.checkKilled()
	t.yields.Add(1)
	t.logger.Debug("yield", zap.Stringer("checkpoint", cp))

	t.releaseSlot()
	if err := t.waitRunnable(); err != nil {
		t.fail(cp.String(), err)
	}
	t.acquireSlot()
}

// waitRunnable parks the goroutine while the task is blocked.
func (t *Task) waitRunnable() error {
	for {
		t.stateMu.Lock()
		blocked := t.state == TaskStateBlocked
		t.stateMu.Unlock()
		if !blocked {
			return nil
		}

		select {
		case <-t.wake:
		case <-t.killed:
			return t.killErr
		}
	}
}

// Block marks the task as waiting on a port or another task. It must be
// followed by Yield; the resource calls Wakeup when the awaited condition
// holds.
func (t *Task) Block(on Resource, reason string) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state != TaskStateRunnable {
		return
	}
	t.state = TaskStateBlocked
	t.blockedOn = on
	t.blockReason = reason
}

// Wakeup makes a task blocked on from runnable again.
func (t *Task) Wakeup(from Resource) {
	t.stateMu.Lock()
	if t.state != TaskStateBlocked || t.blockedOn != from {
		t.stateMu.Unlock()
		return
	}
	t.state = TaskStateRunnable
	t.blockedOn = nil
	t.blockReason = ""
	t.stateMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Join waits for the target task to die. It returns JoinFailure when the
// target failed, including a recently reclaimed failed task, and
// JoinSuccess otherwise, also for identities never registered.
func (t *Task) Join(id TaskID) int {
	t.checkKilled()
	if id == t.id {
		t.fail("join", ErrSelfJoin)
	}

	target, ok := t.kernel.GetTaskByID(id)
	if !ok {
		if t.kernel.reapedFailure(id) {
			return JoinFailure
		}
		return JoinSuccess
	}
	defer target.Deref()

	target.joinMu.Lock()
	if target.dead {
		target.joinMu.Unlock()
	} else {
		t.Block(target, "joining")
		target.joiners = append(target.joiners, t)
		target.joinMu.Unlock()
		t.Yield(CheckpointJoin)
	}

	if target.Failed() {
		return JoinFailure
	}
	return JoinSuccess
}

// Sleep suspends the task for at least d.
func (t *Task) Sleep(d time.Duration) {
	t.checkKilled()
	t.releaseSlot()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.killed:
		t.fail("sleep", t.killErr)
	}
	t.acquireSlot()
}

// Pin locks the task to its current OS thread. Calls nest.
func (t *Task) Pin() {
	runtime.LockOSThread()
	t.pins.Add(1)
}

// Unpin undoes one Pin. Unbalanced calls are ignored.
func (t *Task) Unpin() {
	if t.pins.Load() == 0 {
		return
	}
	t.pins.Add(-1)
	runtime.UnlockOSThread()
}

// Rand returns the task's random generator, seeded from the OS on first
// use. Only the task itself may call it.
func (t *Task) Rand() *osrt.Rand {
	if t.rng == nil {
		r, err := osrt.NewRand()
		if err != nil {
			t.fail("rand", err)
		}
		t.rng = r
	}
	return t.rng
}

// Unsupervise stops failure of this task from killing its parent.
func (t *Task) Unsupervise() {
	t.supervised.Store(false)
}

// Spawn creates and starts a child task. Failing to create it fails t.
func (t *Task) Spawn(name string, fn TaskFunc) TaskID {
	id, err := t.kernel.Spawn(t, name, fn)
	if err != nil {
		t.fail("spawn", err)
	}
	return id
}

// GC invokes the kernel's collection hook for this task.
func (t *Task) GC() {
	t.kernel.gc(t)
}

// AllowLeaks suppresses the leak report when the task arena is released.
func (t *Task) AllowLeaks() {
	t.arena.AllowLeaks()
}
