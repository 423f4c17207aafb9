package memory

import "fmt"

// InlineBytes is the storage available before a Buffer spills to the heap.
const InlineBytes = 32

// Representation tags where a Buffer's bytes currently live.
type Representation uint8

const (
	// Inline means the bytes live inside the Buffer value
	Inline Representation = iota

	// Spilled means the bytes live in a HeapBlock
	Spilled
)

// String returns the string representation of Representation.
func (r Representation) String() string {
	switch r {
	case Inline:
		return "inline"
	case Spilled:
		return "spilled"
	default:
		return "unknown"
	}
}

// HeapBlock is the out-of-line part of a spilled Buffer. It carries its own
// fill count.
type HeapBlock struct {
	Fill  int
	block *Block
}

// Block returns the arena allocation backing the heap part.
func (h *HeapBlock) Block() *Block {
	return h.block
}

// Buffer is a growable byte sequence that keeps small payloads inline and
// spills to an arena-allocated block once it outgrows InlineBytes.
// Only one representation is authoritative at a time; every accessor
// switches on the tag. The zero value is an empty inline buffer.
type Buffer struct {
	rep    Representation
	fill   int
	inline [InlineBytes]byte
	heap   *HeapBlock
}

// NewBuffer returns an empty inline buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Rep returns the active representation.
func (b *Buffer) Rep() Representation {
	return b.rep
}

// OnHeap reports whether the buffer has spilled.
func (b *Buffer) OnHeap() bool {
	return b.rep == Spilled
}

// Len returns the number of bytes in use.
func (b *Buffer) Len() int {
	switch b.rep {
	case Spilled:
		return b.heap.Fill
	default:
		return b.fill
	}
}

// Cap returns the number of bytes available without reallocation.
func (b *Buffer) Cap() int {
	switch b.rep {
	case Spilled:
		return len(b.heap.block.Data)
	default:
		return InlineBytes
	}
}

// Data returns the live bytes of whichever representation is active.
// The slice aliases the buffer and is invalidated by Reserve.
func (b *Buffer) Data() []byte {
	switch b.rep {
	case Spilled:
		return b.heap.block.Data[:b.heap.Fill]
	default:
		return b.inline[:b.fill]
	}
}

// Bytes returns a copy of the live bytes.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.Len())
	copy(out, b.Data())
	return out
}

// Heap returns the heap part, or nil while inline.
func (b *Buffer) Heap() *HeapBlock {
	if b.rep != Spilled {
		return nil
	}
	return b.heap
}

// Reserve ensures room for n elements of elemSize bytes. Growth is exact.
// An inline buffer spills into a block from a; a spilled buffer is resized
// in place, or moved into a when its block came from a different arena.
func (b *Buffer) Reserve(a Arena, elemSize, n int) error {
	want, err := byteCount(elemSize, n)
	if err != nil {
		return err
	}
	if want <= b.Cap() {
		return nil
	}

	switch b.rep {
	case Inline:
		blk, err := a.Alloc(want, "buffer reserve heap part")
		if err != nil {
			return err
		}
		copy(blk.Data, b.inline[:b.fill])
		b.heap = &HeapBlock{Fill: b.fill, block: blk}
		b.fill = 0
		b.rep = Spilled

	case Spilled:
		old := b.heap.block
		if old.arena == a {
			return a.Realloc(old, want)
		}
		blk, err := a.Alloc(want, old.tag)
		if err != nil {
			return err
		}
		copy(blk.Data, old.Data[:b.heap.Fill])
		old.arena.Free(old)
		b.heap.block = blk
	}
	return nil
}

// CopyFromBuf fills an empty buffer with count elements read from src.
// It fails with ErrBufferNotEmpty, leaving the buffer untouched, if the
// buffer already holds data.
func (b *Buffer) CopyFromBuf(a Arena, elemSize int, src []byte, count int) error {
	if b.Len() != 0 {
		return fmt.Errorf("%w: fill is %d", ErrBufferNotEmpty, b.Len())
	}
	size, err := byteCount(elemSize, count)
	if err != nil {
		return err
	}
	if len(src) < size {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortSource, len(src), size)
	}
	if err := b.Reserve(a, elemSize, count); err != nil {
		return err
	}

	switch b.rep {
	case Spilled:
		copy(b.heap.block.Data, src[:size])
		b.heap.Fill = size
	default:
		copy(b.inline[:], src[:size])
		b.fill = size
	}
	return nil
}

// Append adds p to the end of the buffer, doubling capacity when it grows.
func (b *Buffer) Append(a Arena, p []byte) error {
	need := b.Len() + len(p)
	if need > b.Cap() {
		if err := b.Reserve(a, 1, max(need, 2*b.Cap())); err != nil {
			return err
		}
	}

	switch b.rep {
	case Spilled:
		copy(b.heap.block.Data[b.heap.Fill:], p)
		b.heap.Fill = need
	default:
		copy(b.inline[b.fill:], p)
		b.fill = need
	}
	return nil
}

// Truncate discards all bytes but keeps the current representation.
func (b *Buffer) Truncate() {
	switch b.rep {
	case Spilled:
		b.heap.Fill = 0
	default:
		b.fill = 0
	}
}

// Free releases the heap part, if any, and resets to an empty inline buffer.
func (b *Buffer) Free() {
	if b.rep == Spilled {
		blk := b.heap.block
		blk.arena.Free(blk)
	}
	*b = Buffer{}
}

func byteCount(elemSize, n int) (int, error) {
	if elemSize < 0 || n < 0 {
		return 0, ErrInvalidSize
	}
	if elemSize != 0 && n > int(^uint(0)>>1)/elemSize {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrInvalidSize, n, elemSize)
	}
	return elemSize * n, nil
}
