package jobs

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewQueue(t *testing.T) {
	q := NewQueue(0, 0, func(int) {})
	defer q.Close()

	if q == nil {
		t.Fatal("NewQueue() returned nil")
	}
	if cap(q.jobs) != DefaultSize {
		t.Errorf("expected default size %d, got %d", DefaultSize, cap(q.jobs))
	}
	if q.Count() != 0 {
		t.Errorf("new queue should be empty, got %d jobs", q.Count())
	}
}

func TestEnqueueRunsJobs(t *testing.T) {
	var sum atomic.Int64
	q := NewQueue(16, 4, func(n int) { sum.Add(int64(n)) })

	for i := 1; i <= 10; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("job %d rejected", i)
		}
	}
	q.Close()

	if sum.Load() != 55 {
		t.Errorf("expected sum 55, got %d", sum.Load())
	}
	if q.Processed() != 10 {
		t.Errorf("expected 10 processed jobs, got %d", q.Processed())
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	q := NewQueue(1, 1, func(int) {
		once.Do(func() { close(started) })
		<-release
	})

	q.Enqueue(1) // picked up by the worker
	<-started
	if !q.Enqueue(2) {
		t.Fatal("expected buffered job to be accepted")
	}
	if q.Enqueue(3) {
		t.Error("expected job to be dropped when queue is full")
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped job, got %d", q.Dropped())
	}

	close(release)
	q.Close()
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewQueue(4, 1, func(int) {})
	q.Close()
	q.Close()

	if q.Enqueue(1) {
		t.Error("expected closed queue to reject jobs")
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped job, got %d", q.Dropped())
	}
}
