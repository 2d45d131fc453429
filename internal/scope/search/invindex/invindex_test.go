package invindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

func TestUpsertAndLookup(t *testing.T) {
	x := New()
	require.NoError(t, x.Upsert("v1", FieldTitle, "piano", WeightTitle))
	require.NoError(t, x.Upsert("v1", FieldKeyword, "piano", WeightKeyword))
	require.NoError(t, x.Upsert("v2", FieldDescription, "piano", WeightDescription))

	got := x.Lookup("piano")
	want := []Posting{
		{DocID: "v1", Field: FieldTitle, Weight: WeightTitle},
		{DocID: "v1", Field: FieldKeyword, Weight: WeightKeyword},
		{DocID: "v2", Field: FieldDescription, Weight: WeightDescription},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 2, x.DocCount())
}

func TestUpsertIdempotent(t *testing.T) {
	x := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, x.Upsert("v1", FieldTitle, "cats", WeightTitle))
	}
	assert.Len(t, x.Lookup("cats"), 1)
	assert.Equal(t, 1, x.DocCount())
}

func TestUpsertRejectsBadPostings(t *testing.T) {
	x := New()

	tests := []struct {
		name    string
		docID   string
		field   Field
		token   string
		weight  float64
		wantErr error
	}{
		{"empty doc", "", FieldTitle, "a", WeightTitle, video.ErrValidation},
		{"empty token", "v1", FieldTitle, "", WeightTitle, video.ErrValidation},
		{"unknown field", "v1", Field(42), "a", 1, video.ErrValidation},
		{"weight drift", "v1", FieldTitle, "a", 0.5, video.ErrInvariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := x.Upsert(tt.docID, tt.field, tt.token, tt.weight)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, x.DocCount())
}

func TestLookupUnknownToken(t *testing.T) {
	x := New()
	got := x.Lookup("nothing")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRemove(t *testing.T) {
	x := New()
	require.NoError(t, x.Upsert("v1", FieldTitle, "cats", WeightTitle))
	require.NoError(t, x.Upsert("v1", FieldChannel, "pets", WeightChannel))
	require.NoError(t, x.Upsert("v2", FieldTitle, "cats", WeightTitle))

	require.NoError(t, x.Remove("v1"))

	for _, p := range x.Lookup("cats") {
		assert.NotEqual(t, "v1", p.DocID)
	}
	assert.Empty(t, x.Lookup("pets"))
	assert.False(t, x.Has("v1"))
	assert.Equal(t, 1, x.DocCount())

	// unknown ids are a no-op
	require.NoError(t, x.Remove("missing"))
	require.NoError(t, x.Remove("v1"))
}

func TestReplaceDropsStaleTokens(t *testing.T) {
	x := New()
	require.NoError(t, x.Replace("v1", map[string][]Posting{
		"old":    {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
		"shared": {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
	}))
	require.NoError(t, x.Replace("v1", map[string][]Posting{
		"new":    {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
		"shared": {{DocID: "v1", Field: FieldKeyword, Weight: WeightKeyword}},
	}))

	assert.Empty(t, x.Lookup("old"))
	assert.Len(t, x.Lookup("new"), 1)
	assert.Equal(t, []Posting{{DocID: "v1", Field: FieldKeyword, Weight: WeightKeyword}}, x.Lookup("shared"))
	assert.Equal(t, 1, x.DocCount())
}

func TestChurnDropsEmptyTermSets(t *testing.T) {
	x := New()
	require.NoError(t, x.Upsert("keep", FieldTitle, "shared", WeightTitle))
	for i := 0; i < 50; i++ {
		require.NoError(t, x.Replace("v1", map[string][]Posting{
			fmt.Sprintf("title%d", i): {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
			"shared":                  {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
		}))
	}

	// shared plus the latest title token
	assert.Equal(t, 2, countTerms(x))
	assert.Len(t, x.Lookup("title49"), 1)
	assert.Empty(t, x.Lookup("title0"))

	require.NoError(t, x.Remove("v1"))
	assert.Equal(t, 1, countTerms(x))
	assert.Equal(t, []Posting{{DocID: "keep", Field: FieldTitle, Weight: WeightTitle}}, x.Lookup("shared"))

	require.NoError(t, x.Remove("keep"))
	assert.Equal(t, 0, countTerms(x))
}

func countTerms(x *Index) int {
	n := 0
	x.terms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestReplaceEmptyRemoves(t *testing.T) {
	x := New()
	require.NoError(t, x.Upsert("v1", FieldTitle, "cats", WeightTitle))
	require.NoError(t, x.Replace("v1", nil))
	assert.False(t, x.Has("v1"))
	assert.Empty(t, x.Lookup("cats"))
}

func TestReplaceRejectsForeignPosting(t *testing.T) {
	x := New()
	err := x.Replace("v1", map[string][]Posting{
		"cats": {{DocID: "v2", Field: FieldTitle, Weight: WeightTitle}},
	})
	assert.ErrorIs(t, err, video.ErrInvariant)
	assert.False(t, x.Has("v1"))
}

func TestReplaceAtomicForReaders(t *testing.T) {
	x := New()
	setA := map[string][]Posting{
		"alpha": {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
		"one":   {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
	}
	setB := map[string][]Posting{
		"beta": {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
		"two":  {{DocID: "v1", Field: FieldTitle, Weight: WeightTitle}},
	}
	require.NoError(t, x.Replace("v1", setA))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			set := setA
			if i%2 == 0 {
				set = setB
			}
			_ = x.Replace("v1", set)
		}
		close(stop)
	}()

	// a reader snapshotting the document's postings must see exactly one of the two sets
	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		ps := x.Postings("v1")
		_, hasAlpha := ps["alpha"]
		_, hasOne := ps["one"]
		_, hasBeta := ps["beta"]
		_, hasTwo := ps["two"]
		if hasAlpha != hasOne || hasBeta != hasTwo || hasAlpha == hasBeta {
			t.Fatalf("observed partial posting set: %v", ps)
		}
	}
}

func TestConcurrentWritersDifferentDocs(t *testing.T) {
	x := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("v%d", i)
			assert.NoError(t, x.Upsert(id, FieldTitle, "shared", WeightTitle))
			assert.NoError(t, x.Upsert(id, FieldTitle, id, WeightTitle))
		}(i)
	}
	wg.Wait()

	assert.Len(t, x.Lookup("shared"), 32)
	assert.Equal(t, 32, x.DocCount())
}

func TestFieldWeightsOrdered(t *testing.T) {
	assert.Greater(t, FieldTitle.Weight(), FieldKeyword.Weight())
	assert.Greater(t, FieldKeyword.Weight(), FieldChannel.Weight())
	assert.Greater(t, FieldChannel.Weight(), FieldDescription.Weight())
	assert.Equal(t, "keyword", FieldKeyword.String())
}
