// Package rng provides the seedable random source consumed by effect resolution.
package rng

import (
	"hash/fnv"
	"math/rand"
	"sync"
)

// Source produces random values in a half-open range.
// Implementations must return the same sequence for the same seed.
type Source interface {
	// Intn returns a value in [0, n). n <= 0 yields 0.
	Intn(n int) int
}

// DeriveSeed mixes a root seed with a label so independent streams
// (one per battle, one per subsystem) never share a sequence.
func DeriveSeed(root int64, label string) int64 {
	h := fnv.New64a()
	var b [8]byte
	for i := range b {
		b[i] = byte(root >> (8 * i))
	}
	h.Write(b[:])
	h.Write([]byte{0})
	h.Write([]byte(label))
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// Seeded is a Source backed by math/rand. Safe for concurrent use.
type Seeded struct {
	mu   sync.Mutex
	seed int64
	r    *rand.Rand
}

// New returns a Seeded source for the given seed.
func New(seed int64) *Seeded {
	return &Seeded{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// NewDerived returns a Seeded source for DeriveSeed(root, label).
func NewDerived(root int64, label string) *Seeded {
	return New(DeriveSeed(root, label))
}

// Seed returns the seed the source was created with.
func (s *Seeded) Seed() int64 {
	return s.seed
}

func (s *Seeded) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

// Fixed replays a fixed sequence of values, cycling when exhausted.
// Values are reduced modulo n. An empty Fixed always returns 0.
type Fixed struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixed returns a Fixed source replaying values.
func NewFixed(values ...int) *Fixed {
	return &Fixed{values: values}
}

func (f *Fixed) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0
	}
	v := f.values[f.next%len(f.values)]
	f.next++
	if v < 0 {
		v = -v
	}
	return v % n
}

// Calls reports how many values have been drawn.
func (f *Fixed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}
