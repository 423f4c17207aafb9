package memory

// TypeDesc is externally supplied layout metadata for a value type.
// The runtime reads it and never constructs or mutates one.
type TypeDesc struct {
	// Size of one element in bytes
	Size uintptr

	// Alignment of one element in bytes
	Align uintptr

	// Stateful is set when the value contains pointers or needs destruction
	Stateful bool

	// FirstParam points at the first type parameter descriptor, if any
	FirstParam uintptr

	// Ops is the per-type operation table supplied by the compiler
	Ops any
}

// ByteDesc describes a single byte.
var ByteDesc = &TypeDesc{Size: 1, Align: 1}

// SizeOf returns the size recorded in t.
func SizeOf(t *TypeDesc) uintptr {
	return t.Size
}

// AlignOf returns the alignment recorded in t.
func AlignOf(t *TypeDesc) uintptr {
	return t.Align
}
