// Package keylock provides striped mutexes that serialize work per key while
// letting unrelated keys proceed concurrently.
package keylock

import (
	"hash/fnv"
	"sync"
)

// DefaultStripes is used when NewStriped is given a non-positive count
const DefaultStripes = 256

// Striped maps keys onto a fixed set of mutexes
type Striped struct {
	stripes []sync.Mutex
}

// NewStriped creates a lock set with n stripes
func NewStriped(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[s.index(key)]
	mu.Lock()
	return mu.Unlock
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}
