package core

import (
	"fmt"
	"time"
)

// TaskID identifies a task within a kernel. IDs are never reused.
type TaskID uint32

// PortID identifies a port within its owning task.
type PortID uint32

// TaskFunc is the body of a task. Returning a non-nil error fails the task.
type TaskFunc func(t *Task) error

// TaskState represents the lifecycle state of a Task.
type TaskState uint8

const (
	// TaskStateNew means the task is registered but not started
	TaskStateNew TaskState = iota

	// TaskStateRunnable means the task is running or waiting for a worker
	TaskStateRunnable

	// TaskStateBlocked means the task waits for a port or another task
	TaskStateBlocked

	// TaskStateDead means the task has finished, failed or been killed
	TaskStateDead
)

// String returns the string representation of TaskState.
func (s TaskState) String() string {
	switch s {
	case TaskStateNew:
		return "new"
	case TaskStateRunnable:
		return "runnable"
	case TaskStateBlocked:
		return "blocked"
	case TaskStateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Checkpoint tags the call site of a yield for diagnostics.
type Checkpoint int

const (
	CheckpointYield   Checkpoint = 1
	CheckpointJoin    Checkpoint = 2
	CheckpointReceive Checkpoint = 3
)

// String returns the string representation of Checkpoint.
func (c Checkpoint) String() string {
	switch c {
	case CheckpointYield:
		return "yield"
	case CheckpointJoin:
		return "join"
	case CheckpointReceive:
		return "receive"
	default:
		return fmt.Sprintf("checkpoint(%d)", int(c))
	}
}

// Join results.
const (
	JoinSuccess = 0
	JoinFailure = -1
)

// Resource is something a task can block on: a *Port or a *Task.
type Resource interface {
	String() string
}

// TaskStats contains runtime statistics for a Task.
type TaskStats struct {
	// ID of the task
	ID TaskID

	// Name of the task
	Name string

	// Parent is the creating task, zero for root tasks
	Parent TaskID

	// Current state
	State TaskState

	// BlockedOn names the resource of a blocked task
	BlockedOn string

	// BlockReason is the reason given to Block
	BlockReason string

	// Failed is set once a dead task has failed
	Failed bool

	// Failure is the reason a failed task died
	Failure error

	// Pinned reports whether the task is locked to its OS thread
	Pinned bool

	// Supervised reports whether failure propagates to the parent
	Supervised bool

	// Ports is the number of live ports owned by the task
	Ports int

	// RefCount is the number of outstanding references
	RefCount int32

	// Message and scheduling counters
	MessagesSent     uint64
	MessagesReceived uint64
	Yields           uint64

	// Time when the task was created
	CreatedAt time.Time
}

// PortStats contains delivery statistics for a Port.
type PortStats struct {
	// ID of the port
	ID PortID

	// Owner of the port
	Owner TaskID

	// UnitSize is the size of each message in bytes
	UnitSize int

	// RefCount is the number of bound channels
	RefCount int32

	// Queued is the number of buffered messages
	Queued int

	// Deliveries copied straight into a waiting receiver
	Rendezvous uint64

	// Deliveries that went through a channel queue
	Buffered uint64
}
