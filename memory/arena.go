package memory

import (
	"fmt"
	"sync"
)

// Block is a single allocation handed out by an Arena.
type Block struct {
	// Data is the allocated storage; len(Data) is the block size
	Data []byte

	tag   string
	arena Arena
}

// Tag returns the description given at allocation time.
func (b *Block) Tag() string {
	return b.tag
}

// Arena returns the arena that owns the block.
func (b *Block) Arena() Arena {
	return b.arena
}

// Leak describes a block still live when its arena was released.
type Leak struct {
	Tag  string
	Size int
}

// ArenaStats contains accounting information for an Arena.
type ArenaStats struct {
	// Name of the arena
	Name string

	// Bytes currently allocated
	Used int64

	// Byte limit, zero when unlimited
	Limit int64

	// Number of live blocks
	Live int

	// Total allocations and frees
	Allocs uint64
	Frees  uint64

	// Released is set once the arena has been torn down
	Released bool
}

// Arena is an allocation source with its own lifetime.
type Arena interface {
	// Alloc returns a zeroed block of n bytes.
	Alloc(n int, tag string) (*Block, error)

	// Realloc resizes b to n bytes, preserving its prefix.
	Realloc(b *Block, n int) error

	// Free returns b to the arena.
	Free(b *Block)

	// Forget stops tracking b without freeing it.
	Forget(b *Block)

	// Release tears the arena down and reports blocks that were never freed.
	Release() []Leak

	// AllowLeaks suppresses the leak report of Release.
	AllowLeaks()

	// Stats returns current accounting information.
	Stats() ArenaStats
}

// LocalArena is an arena owned by a single task. It is not synchronized.
type LocalArena struct {
	name       string
	limit      int64
	used       int64
	live       map[*Block]struct{}
	allocs     uint64
	frees      uint64
	allowLeaks bool
	released   bool
}

// NewLocalArena creates a task-local arena. A zero limit means unlimited.
func NewLocalArena(name string, limit int64) *LocalArena {
	return &LocalArena{
		name:  name,
		limit: limit,
		live:  make(map[*Block]struct{}),
	}
}

// Alloc returns a zeroed block of n bytes.
func (a *LocalArena) Alloc(n int, tag string) (*Block, error) {
	if n < 0 {
		return nil, ErrInvalidSize
	}
	if a.released {
		return nil, ErrArenaReleased
	}
	if a.limit > 0 && a.used+int64(n) > a.limit {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrOutOfMemory, tag, n, a.used, a.limit)
	}

	b := &Block{Data: make([]byte, n), tag: tag, arena: a}
	a.live[b] = struct{}{}
	a.used += int64(n)
	a.allocs++
	return b, nil
}

// Realloc resizes b to n bytes, preserving its prefix.
func (a *LocalArena) Realloc(b *Block, n int) error {
	if n < 0 {
		return ErrInvalidSize
	}
	if a.released {
		return ErrArenaReleased
	}
	if _, ok := a.live[b]; !ok {
		return ErrForeignBlock
	}

	delta := int64(n - len(b.Data))
	if delta > 0 && a.limit > 0 && a.used+delta > a.limit {
		return fmt.Errorf("%w: %s grows by %d bytes, %d of %d in use",
			ErrOutOfMemory, b.tag, delta, a.used, a.limit)
	}

	data := make([]byte, n)
	copy(data, b.Data)
	b.Data = data
	a.used += delta
	return nil
}

// Free returns b to the arena. Freeing an unknown block is ignored.
func (a *LocalArena) Free(b *Block) {
	if b == nil {
		return
	}
	if _, ok := a.live[b]; !ok {
		return
	}
	delete(a.live, b)
	a.used -= int64(len(b.Data))
	a.frees++
}

// Forget stops tracking b without counting it as freed.
func (a *LocalArena) Forget(b *Block) {
	if b == nil {
		return
	}
	if _, ok := a.live[b]; !ok {
		return
	}
	delete(a.live, b)
	a.used -= int64(len(b.Data))
}

// Release tears the arena down and reports blocks that were never freed.
func (a *LocalArena) Release() []Leak {
	if a.released {
		return nil
	}
	a.released = true

	var leaks []Leak
	if !a.allowLeaks {
		for b := range a.live {
			leaks = append(leaks, Leak{Tag: b.tag, Size: len(b.Data)})
		}
	}
	a.live = make(map[*Block]struct{})
	a.used = 0
	return leaks
}

// AllowLeaks suppresses the leak report of Release.
func (a *LocalArena) AllowLeaks() {
	a.allowLeaks = true
}

// Stats returns current accounting information.
func (a *LocalArena) Stats() ArenaStats {
	return ArenaStats{
		Name:     a.name,
		Used:     a.used,
		Limit:    a.limit,
		Live:     len(a.live),
		Allocs:   a.allocs,
		Frees:    a.frees,
		Released: a.released,
	}
}

// SharedArena is an arena used concurrently by many tasks. Blocks that
// outlive their creating task or cross a task boundary come from here.
type SharedArena struct {
	mu    sync.Mutex
	inner *LocalArena
}

// NewSharedArena creates a synchronized arena. A zero limit means unlimited.
func NewSharedArena(name string, limit int64) *SharedArena {
	s := &SharedArena{inner: NewLocalArena(name, limit)}
	return s
}

// Alloc returns a zeroed block of n bytes.
func (s *SharedArena) Alloc(n int, tag string) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.inner.Alloc(n, tag)
	if err != nil {
		return nil, err
	}
	b.arena = s
	return b, nil
}

// Realloc resizes b to n bytes, preserving its prefix.
func (s *SharedArena) Realloc(b *Block, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Realloc(b, n)
}

// Free returns b to the arena.
func (s *SharedArena) Free(b *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Free(b)
}

// Forget stops tracking b without counting it as freed.
func (s *SharedArena) Forget(b *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Forget(b)
}

// Release tears the arena down and reports blocks that were never freed.
func (s *SharedArena) Release() []Leak {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Release()
}

// AllowLeaks suppresses the leak report of Release.
func (s *SharedArena) AllowLeaks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.AllowLeaks()
}

// Stats returns current accounting information.
func (s *SharedArena) Stats() ArenaStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Stats()
}
