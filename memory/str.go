package memory

import (
	"fmt"
	"math/bits"
)

// Str is a reference-counted byte string stored with a trailing NUL.
// Storage is allocated in power-of-two blocks so PushByte can usually
// append in place.
type Str struct {
	own   Ownership
	block *Block
	fill  int
}

// NewStr allocates an empty string with room for n bytes.
func NewStr(a Arena, n int) (*Str, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}
	return allocStr(a, n+1, nil)
}

// StrFromBytes copies p into a new string.
func StrFromBytes(a Arena, p []byte) (*Str, error) {
	return allocStr(a, len(p)+1, p)
}

// StrFromBuffer copies the live bytes of buf into a new string.
func StrFromBuffer(a Arena, buf *Buffer) (*Str, error) {
	return allocStr(a, buf.Len()+1, buf.Data())
}

func allocStr(a Arena, capacity int, p []byte) (*Str, error) {
	blk, err := a.Alloc(nextPowerOfTwo(capacity), "str")
	if err != nil {
		return nil, err
	}
	n := copy(blk.Data, p)
	blk.Data[n] = 0

	s := &Str{block: blk, fill: n + 1}
	s.own.initUnique()
	return s, nil
}

// ByteLen returns the length without the terminator.
func (s *Str) ByteLen() int {
	return s.fill - 1
}

// Cap returns the allocated size including the terminator.
func (s *Str) Cap() int {
	return len(s.block.Data)
}

// Bytes returns the string contents without the terminator.
// The slice aliases the string.
func (s *Str) Bytes() []byte {
	return s.block.Data[:s.fill-1]
}

// CString returns the contents including the terminating NUL.
func (s *Str) CString() []byte {
	return s.block.Data[:s.fill]
}

// String returns the contents as a Go string.
func (s *Str) String() string {
	return string(s.Bytes())
}

// RefCount returns the number of references.
func (s *Str) RefCount() int64 {
	return s.own.Count()
}

// Ref adds a reference.
func (s *Str) Ref() error {
	return s.own.Inc()
}

// Deref drops a reference and frees the storage when it was the last one.
func (s *Str) Deref() (bool, error) {
	last, err := s.own.Dec()
	if err != nil || !last {
		return last, err
	}
	s.block.arena.Free(s.block)
	return true, nil
}

// PushByte appends c. When s is shared or full the result is a fresh copy
// allocated from a and s is left unchanged; otherwise s is extended in
// place and returned.
func (s *Str) PushByte(a Arena, c byte) (*Str, error) {
	out := s
	if s.own.Count() > 1 || s.fill+1 > len(s.block.Data) {
		fresh, err := allocStr(a, s.fill+1, s.Bytes())
		if err != nil {
			return nil, err
		}
		out = fresh
	}
	out.block.Data[out.fill-1] = c
	out.block.Data[out.fill] = 0
	out.fill++
	return out, nil
}

// Slice copies bytes [begin, end) into a new string.
func (s *Str) Slice(a Arena, begin, end int) (*Str, error) {
	if begin < 0 || end < begin || end > s.ByteLen() {
		return nil, fmt.Errorf("%w: [%d:%d] of %d bytes", ErrOutOfRange, begin, end, s.ByteLen())
	}
	return allocStr(a, end-begin+1, s.Bytes()[begin:end])
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
