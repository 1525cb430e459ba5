package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeyGenerator generates predictable UUIDv7-shaped keys:
// 00000000-0000-7000-8000-000000000001, ...002, and so on.
//
// It replaces the time-based generator in tests so generated primary keys
// (and therefore identity keys and golden output) are stable across runs.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialKeyGenerator struct {
	mu  sync.Mutex
	seq int64
}

// NewSequentialKeyGenerator creates a generator whose first key ends in 1.
func NewSequentialKeyGenerator() *SequentialKeyGenerator {
	return &SequentialKeyGenerator{}
}

// Generate returns the next key.
func (g *SequentialKeyGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", g.seq)
}

// Reset restarts the sequence so a scenario can be replayed with identical
// keys.
func (g *SequentialKeyGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
