package trigram

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrams(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"too short", "ab", nil},
		{"exactly three", "Abc", []string{"abc"}},
		{"overlapping", "piano", []string{"pia", "ian", "ano"}},
		{"dedup", "aaaa", []string{"aaa"}},
		{"spaces kept between tokens", "a b", []string{"a b"}},
		{"punctuation separates", "Do-Re!", []string{"do ", "o r", " re"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Grams(tt.input))
		})
	}
}

func TestSimilarRanksByJaccard(t *testing.T) {
	x := New()
	x.IndexString("q1", FieldQuery, "piano tutorial")
	x.IndexString("q2", FieldQuery, "piano tutorials")
	x.IndexString("q3", FieldQuery, "guitar lessons")

	got := x.Similar("piano tutorial", 0.3, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, "q2", got[1].ID)
	assert.Less(t, got[1].Similarity, 1.0)
	assert.Greater(t, got[1].Similarity, 0.3)
}

func TestSimilarThresholdIsStrict(t *testing.T) {
	x := New()
	// "abcd" vs "abce": grams {abc,bcd} and {abc,bce}, jaccard 1/3
	x.IndexString("s1", FieldQuery, "abce")

	assert.Len(t, x.Similar("abcd", 0.3, 10), 1)
	assert.Empty(t, x.Similar("abcd", 1.0/3.0, 10))
}

func TestSimilarShortStringFallback(t *testing.T) {
	x := New()
	x.IndexString("short", FieldTitle, "Go")
	x.IndexString("long", FieldTitle, "Go tutorial")
	x.IndexString("other", FieldTitle, "Rust")

	// short query matches by substring only
	got := x.Similar("go", 0.9, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "short", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, "long", got[1].ID)
	assert.InDelta(t, 2.0/11.0, got[1].Similarity, 1e-9)

	// short source still reachable from a long query
	got = x.Similar("go tutorial", 0.3, 10)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "short")
	assert.Contains(t, ids, "long")
}

func TestSimilarLimitAndFields(t *testing.T) {
	x := New()
	for i := 0; i < 5; i++ {
		x.IndexString(fmt.Sprintf("q%d", i), FieldQuery, "piano")
	}
	x.IndexString("v1", FieldTitle, "piano")

	assert.Len(t, x.Similar("piano", 0.1, 3), 3)
	assert.Empty(t, x.Similar("piano", 0.1, 0))

	onlyTitles := x.Similar("piano", 0.1, 10, FieldTitle)
	require.Len(t, onlyTitles, 1)
	assert.Equal(t, "v1", onlyTitles[0].ID)
}

func TestIndexStringReplaces(t *testing.T) {
	x := New()
	x.IndexString("v1", FieldTitle, "Cats playing piano")
	x.IndexString("v1", FieldTitle, "Dogs barking")

	assert.Empty(t, x.Similar("cats playing piano", 0.3, 10))
	assert.Empty(t, x.Contains("piano"))
	src, ok := x.Get("v1", FieldTitle)
	require.True(t, ok)
	assert.Equal(t, "dogs barking", src.Text)
}

func TestChurnDropsEmptyGramSets(t *testing.T) {
	x := New()
	x.IndexString("keep", FieldTitle, "abc")
	for i := 0; i < 40; i++ {
		x.IndexString("v1", FieldTitle, fmt.Sprintf("abc title %d", i))
	}

	// grams of "abc" and "abc title 39" only
	assert.Equal(t, len(Grams("abc title 39")), countPostings(x))
	assert.Len(t, x.Contains("title 39"), 1)
	assert.Empty(t, x.Contains("title 38"))

	x.Remove("v1")
	assert.Equal(t, 1, countPostings(x))
	got := x.Contains("abc")
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)

	x.Remove("keep")
	assert.Equal(t, 0, countPostings(x))
}

func countPostings(x *Index) int {
	n := 0
	x.postings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestRemove(t *testing.T) {
	x := New()
	x.IndexString("v1", FieldTitle, "Cats playing piano")
	x.IndexString("v1", FieldChannel, "Cat TV")
	x.IndexString("v2", FieldTitle, "Piano basics")

	x.Remove("v1")
	x.Remove("unknown")

	for _, s := range x.Contains("piano") {
		assert.NotEqual(t, "v1", s.ID)
	}
	_, ok := x.Get("v1", FieldChannel)
	assert.False(t, ok)
	assert.Len(t, x.Contains("piano"), 1)
}

func TestContains(t *testing.T) {
	x := New()
	x.IndexString("v1", FieldTitle, "Piano Basics")
	x.IndexString("v2", FieldTitle, "Learn the piano")
	x.IndexString("v3", FieldChannel, "Piano World")
	x.IndexString("v4", FieldTitle, "Guitar")

	got := x.Contains("PIA", FieldTitle)
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].ID)
	assert.Equal(t, "v2", got[1].ID)

	assert.Len(t, x.Contains("pi"), 3)
	assert.Empty(t, x.Contains("violin"))
	assert.Empty(t, x.Contains(""))
}

func TestConcurrentIndexAndRead(t *testing.T) {
	x := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			x.IndexString(fmt.Sprintf("q%d", i), FieldQuery, fmt.Sprintf("piano lesson %d", i))
		}(i)
		go func() {
			defer wg.Done()
			_ = x.Similar("piano lesson", 0.2, 5)
		}()
	}
	wg.Wait()

	assert.Len(t, x.Similar("piano lesson", 0.2, 100), 16)
}
