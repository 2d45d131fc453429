// Package accel provides utilities for accelerated batch processing.
package accel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Batch splits work into fixed-size chunks processed by a bounded set of goroutines
type Batch struct {
	size    int
	workers int
}

// NewBatch creates a new batch processor with the given size
func NewBatch(size int) *Batch {
	if size <= 0 {
		size = 100
	}
	return &Batch{size: size, workers: runtime.GOMAXPROCS(0)}
}

// WithWorkers sets how many chunks run concurrently
func (b *Batch) WithWorkers(n int) *Batch {
	if n > 0 {
		b.workers = n
	}
	return b
}

// Size returns the batch size
func (b *Batch) Size() int {
	return b.size
}

// Workers returns the concurrency limit
func (b *Batch) Workers() int {
	return b.workers
}

// Chunks splits n items into half-open [start, end) ranges of at most Size items
func (b *Batch) Chunks(n int) [][2]int {
	if n <= 0 {
		return nil
	}
	out := make([][2]int, 0, (n+b.size-1)/b.size)
	for start := 0; start < n; start += b.size {
		end := start + b.size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// Each runs fn over every chunk of n items. The first error cancels the
// context passed to the remaining chunks and is returned.
func (b *Batch) Each(ctx context.Context, n int, fn func(ctx context.Context, start, end int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, c := range b.Chunks(n) {
		start, end := c[0], c[1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, start, end)
		})
	}
	return g.Wait()
}
