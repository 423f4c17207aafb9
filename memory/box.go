package memory

import "sync/atomic"

// Box is a reference-counted heap cell holding a type-erased payload sized
// by its TypeDesc.
type Box struct {
	own     Ownership
	desc    *TypeDesc
	block   *Block
	payload []byte
	leaked  atomic.Bool
}

// NewBox allocates a uniquely owned box for one value of type t.
func NewBox(a Arena, t *TypeDesc) (*Box, error) {
	blk, err := a.Alloc(int(t.Size), "box")
	if err != nil {
		return nil, err
	}

	b := &Box{desc: t, block: blk, payload: blk.Data}
	b.own.initUnique()
	return b, nil
}

// StaticBox wraps statically allocated data. The result is immortal: its
// count never changes and it is never freed.
func StaticBox(t *TypeDesc, payload []byte) *Box {
	b := &Box{desc: t, payload: payload}
	b.own.initImmortal()
	return b
}

// Desc returns the type descriptor of the payload.
func (b *Box) Desc() *TypeDesc {
	return b.desc
}

// Payload returns the payload bytes.
func (b *Box) Payload() []byte {
	return b.payload
}

// Ownership reports the current ownership variant.
func (b *Box) Ownership() OwnershipKind {
	return b.own.Kind()
}

// RefCount returns the number of references, or ImmortalRefCount.
func (b *Box) RefCount() int64 {
	return b.own.Count()
}

// Ref adds a reference.
func (b *Box) Ref() error {
	return b.own.Inc()
}

// Deref drops a reference and frees the payload when it was the last one.
func (b *Box) Deref() (bool, error) {
	last, err := b.own.Dec()
	if err != nil || !last {
		return false, err
	}
	if b.block != nil && !b.leaked.Load() {
		b.block.arena.Free(b.block)
	}
	b.block = nil
	return true, nil
}

// Leak gives up ownership of the payload without running its destructor.
// The arena stops tracking the block and Deref will not free it.
func (b *Box) Leak() {
	if b.own.Kind() == OwnershipImmortal || b.leaked.Swap(true) {
		return
	}
	if b.block != nil {
		b.block.arena.Forget(b.block)
	}
}

// Leaked reports whether Leak was called.
func (b *Box) Leaked() bool {
	return b.leaked.Load()
}

// PtrEq reports whether a and b are the same cell.
func PtrEq(a, b *Box) bool {
	return a == b
}
