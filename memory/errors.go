package memory

import "errors"

// Allocation errors
var (
	ErrOutOfMemory   = errors.New("arena limit exceeded")
	ErrArenaReleased = errors.New("arena already released")
	ErrInvalidSize   = errors.New("invalid allocation size")
	ErrForeignBlock  = errors.New("block belongs to another arena")
)

// Contract violations
var (
	ErrBufferNotEmpty = errors.New("buffer is not empty")
	ErrShortSource    = errors.New("source shorter than requested copy")
	ErrImmortal       = errors.New("immortal value cannot change its reference count")
	ErrRefCount       = errors.New("reference count underflow")
	ErrOutOfRange     = errors.New("index out of range")
)
