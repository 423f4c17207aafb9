package core

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// scheduler hands out worker slots. A task runs only while it holds one.
// Waiters are served in FIFO order, so a task that gives its slot up and
// asks again runs after every task already waiting.
type scheduler struct {
	slots   *semaphore.Weighted
	workers int
}

func newScheduler(workers int) *scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &scheduler{
		slots:   semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}
}

// acquire blocks until a worker slot is free.
func (s *scheduler) acquire() {
	// Acquire only fails when its context is done.
	_ = s.slots.Acquire(context.Background(), 1)
}

func (s *scheduler) release() {
	s.slots.Release(1)
}
