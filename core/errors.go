package core

import (
	"errors"
	"fmt"
)

// Task errors
var (
	// ErrTaskNotFound is returned when a task ID is not registered
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskStarted is returned when starting a task twice
	ErrTaskStarted = errors.New("task already started")

	// ErrTooManyTasks is returned when the task limit is reached
	ErrTooManyTasks = errors.New("too many tasks")

	// ErrKernelShutdown is returned when creating tasks on a stopped kernel
	ErrKernelShutdown = errors.New("kernel is shutting down")

	// ErrKilled is the failure of a task that was killed
	ErrKilled = errors.New("task killed")

	// ErrChildFailed is the failure of a task whose supervised child failed
	ErrChildFailed = errors.New("supervised child failed")

	// ErrSelfJoin is returned when a task joins itself
	ErrSelfJoin = errors.New("task cannot join itself")

	// ErrExited is the failure of a body that called runtime.Goexit
	ErrExited = errors.New("task body exited")
)

// Messaging errors
var (
	// ErrUnitSize is returned when data is shorter than the port unit size
	ErrUnitSize = errors.New("data shorter than port unit size")

	// ErrInvalidUnitSize is returned when creating a port with a bad unit size
	ErrInvalidUnitSize = errors.New("invalid port unit size")

	// ErrPortInUse is returned when deleting a port with bound channels
	ErrPortInUse = errors.New("port has outstanding references")

	// ErrPortNotOwned is returned when a task uses another task's port
	ErrPortNotOwned = errors.New("port not owned by task")

	// ErrPortClosed is returned when a port has been torn down
	ErrPortClosed = errors.New("port closed")

	// ErrChannelDropped is returned when using a channel with no references
	ErrChannelDropped = errors.New("channel has no references")

	// ErrPortRefCount is returned when a port reference is dropped twice
	ErrPortRefCount = errors.New("port reference count underflow")
)

// TaskError records why a task failed.
type TaskError struct {
	Op   string
	Task TaskID
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %s failed: %v", e.Task, e.Op, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
