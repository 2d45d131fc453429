package keylock

import (
	"sync"
	"testing"
)

func TestNewStriped(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		expected int
	}{
		{"explicit", 8, 8},
		{"zero defaults", 0, DefaultStripes},
		{"negative defaults", -3, DefaultStripes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStriped(tt.n)
			if len(s.stripes) != tt.expected {
				t.Errorf("expected %d stripes, got %d", tt.expected, len(s.stripes))
			}
		})
	}
}

func TestLockSerializesSameKey(t *testing.T) {
	s := NewStriped(4)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("doc-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 increments, got %d", counter)
	}
}

func TestSameKeySameStripe(t *testing.T) {
	s := NewStriped(16)
	if s.index("abc") != s.index("abc") {
		t.Error("same key mapped to different stripes")
	}
}
