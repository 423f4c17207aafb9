package osrt

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// Rand is a pseudo-random generator owned by a single task. It is not
// safe for concurrent use.
type Rand struct {
	r *rand.Rand
}

// NewRand returns a generator seeded from the operating system's entropy
// source.
func NewRand() (*Rand, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed generator: %w", err)
	}
	return NewRandSeed(int64(binary.LittleEndian.Uint64(seed[:]))), nil
}

// NewRandSeed returns a generator with a fixed seed. Equal seeds produce
// equal sequences.
func NewRandSeed(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Next returns the next 32-bit value.
func (r *Rand) Next() uint32 {
	return r.r.Uint32()
}
