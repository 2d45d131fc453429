package accel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewBatch(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		expected int
	}{
		{"valid size", 50, 50},
		{"zero defaults to 100", 0, 100},
		{"negative defaults to 100", -1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := NewBatch(tt.size)
			if batch.Size() != tt.expected {
				t.Errorf("expected size %d, got %d", tt.expected, batch.Size())
			}
			if batch.Workers() < 1 {
				t.Errorf("expected at least one worker, got %d", batch.Workers())
			}
		})
	}
}

func TestChunks(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		n        int
		expected int
		lastEnd  int
	}{
		{"empty", 10, 0, 0, 0},
		{"exact", 10, 30, 3, 30},
		{"remainder", 10, 25, 3, 25},
		{"single", 100, 7, 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := NewBatch(tt.size).Chunks(tt.n)
			if len(chunks) != tt.expected {
				t.Fatalf("expected %d chunks, got %d", tt.expected, len(chunks))
			}
			if tt.expected > 0 && chunks[len(chunks)-1][1] != tt.lastEnd {
				t.Errorf("expected last end %d, got %d", tt.lastEnd, chunks[len(chunks)-1][1])
			}
		})
	}
}

func TestEachVisitsEveryItem(t *testing.T) {
	var total atomic.Int64
	err := NewBatch(7).WithWorkers(3).Each(context.Background(), 100, func(_ context.Context, start, end int) error {
		total.Add(int64(end - start))
		return nil
	})
	if err != nil {
		t.Fatalf("Each() failed: %v", err)
	}
	if total.Load() != 100 {
		t.Errorf("expected 100 items visited, got %d", total.Load())
	}
}

func TestEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := NewBatch(1).WithWorkers(1).Each(context.Background(), 10, func(_ context.Context, start, _ int) error {
		if start == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestEachCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewBatch(1).Each(ctx, 5, func(context.Context, int, int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
