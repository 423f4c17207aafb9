package core

import (
	"github.com/najoast/taskrt/memory"
)

// Reserve grows b in the task arena. Allocation failure fails the task.
func (t *Task) Reserve(b *memory.Buffer, elemSize, n int) {
	if err := b.Reserve(t.arena, elemSize, n); err != nil {
		t.fail("reserve", err)
	}
}

// ReserveShared grows b in the shared arena, for buffers that cross task
// boundaries.
func (t *Task) ReserveShared(b *memory.Buffer, elemSize, n int) {
	if err := b.Reserve(t.kernel.shared, elemSize, n); err != nil {
		t.fail("reserve shared", err)
	}
}

// CopyFromBuf fills an empty buffer with count elements of src from the
// task arena. A non-empty buffer fails the task and is left unchanged.
func (t *Task) CopyFromBuf(b *memory.Buffer, elemSize int, src []byte, count int) {
	if err := b.CopyFromBuf(t.arena, elemSize, src, count); err != nil {
		t.fail("copy from buf", err)
	}
}

// CopyFromBufShared is CopyFromBuf backed by the shared arena.
func (t *Task) CopyFromBufShared(b *memory.Buffer, elemSize int, src []byte, count int) {
	if err := b.CopyFromBuf(t.kernel.shared, elemSize, src, count); err != nil {
		t.fail("copy from buf shared", err)
	}
}

// NewBox allocates a box described by td in the task arena.
func (t *Task) NewBox(td *memory.TypeDesc) *memory.Box {
	b, err := memory.NewBox(t.arena, td)
	if err != nil {
		t.fail("box", err)
	}
	return b
}

// NewSharedBox allocates a box in the shared arena.
func (t *Task) NewSharedBox(td *memory.TypeDesc) *memory.Box {
	b, err := memory.NewBox(t.kernel.shared, td)
	if err != nil {
		t.fail("box", err)
	}
	return b
}

// NewStr allocates a string of capacity n in the task arena.
func (t *Task) NewStr(n int) *memory.Str {
	s, err := memory.NewStr(t.arena, n)
	if err != nil {
		t.fail("str", err)
	}
	return s
}
