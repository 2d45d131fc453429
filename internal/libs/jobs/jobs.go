// Package jobs provides a bounded background queue for fire-and-forget work.
package jobs

import (
	"sync"
	"sync/atomic"
)

// DefaultSize is used when NewQueue is given a non-positive size
const DefaultSize = 1024

// Handler processes one job
type Handler[T any] func(job T)

// Queue runs jobs on a fixed set of workers. Enqueue never blocks: when the
// buffer is full the job is dropped.
type Queue[T any] struct {
	jobs    chan T
	handle  Handler[T]
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	done    atomic.Int64
	dropped atomic.Int64
}

// NewQueue creates a queue of the given size served by workers goroutines
func NewQueue[T any](size, workers int, handle Handler[T]) *Queue[T] {
	if size <= 0 {
		size = DefaultSize
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue[T]{
		jobs:   make(chan T, size),
		handle: handle,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.handle(job)
		q.done.Add(1)
	}
}

// Enqueue submits job and reports whether it was accepted
func (q *Queue[T]) Enqueue(job T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Count returns the number of jobs waiting to run
func (q *Queue[T]) Count() int {
	return len(q.jobs)
}

// Processed returns the number of jobs that have run
func (q *Queue[T]) Processed() int64 {
	return q.done.Load()
}

// Dropped returns the number of jobs rejected because the queue was full or closed
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting jobs and waits for queued ones to finish
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}
