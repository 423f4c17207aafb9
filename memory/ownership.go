package memory

import (
	"fmt"
	"sync/atomic"
)

// ImmortalRefCount is reported as the count of statically allocated values.
const ImmortalRefCount int64 = 0x7badface

// OwnershipKind classifies how an allocation is owned.
type OwnershipKind uint8

const (
	// OwnershipUnique means exactly one reference exists
	OwnershipUnique OwnershipKind = iota

	// OwnershipShared means more than one counted reference exists
	OwnershipShared

	// OwnershipImmortal means the value is static and never freed
	OwnershipImmortal
)

// String returns the string representation of OwnershipKind.
func (k OwnershipKind) String() string {
	switch k {
	case OwnershipUnique:
		return "unique"
	case OwnershipShared:
		return "shared"
	case OwnershipImmortal:
		return "immortal"
	default:
		return "unknown"
	}
}

// Ownership is a reference count that may be marked immortal.
// It is safe for concurrent use.
type Ownership struct {
	count    atomic.Int64
	immortal bool
}

func (o *Ownership) initUnique() {
	o.immortal = false
	o.count.Store(1)
}

func (o *Ownership) initImmortal() {
	o.immortal = true
}

// Kind reports the current ownership variant.
func (o *Ownership) Kind() OwnershipKind {
	if o.immortal {
		return OwnershipImmortal
	}
	if o.count.Load() > 1 {
		return OwnershipShared
	}
	return OwnershipUnique
}

// Count returns the number of references, or ImmortalRefCount.
func (o *Ownership) Count() int64 {
	if o.immortal {
		return ImmortalRefCount
	}
	return o.count.Load()
}

// Inc adds a reference.
func (o *Ownership) Inc() error {
	if o.immortal {
		return ErrImmortal
	}
	o.count.Add(1)
	return nil
}

// Dec drops a reference and reports whether it was the last one.
func (o *Ownership) Dec() (bool, error) {
	if o.immortal {
		return false, ErrImmortal
	}
	n := o.count.Add(-1)
	if n < 0 {
		o.count.Add(1)
		return false, fmt.Errorf("%w: count was already zero", ErrRefCount)
	}
	return n == 0, nil
}
