package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsjohal14/vidsearch/internal/libs/accel"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/search/invindex"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]video.Document
	deleted map[string]time.Time
	failErr error
}

func newFakeStore(docs ...video.Document) *fakeStore {
	s := &fakeStore{docs: make(map[string]video.Document), deleted: make(map[string]time.Time)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) FetchChangedSince(_ context.Context, ts time.Time) ([]video.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	var out []video.Document
	for _, d := range s.docs {
		if changedAt(d).After(ts) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Fetch(_ context.Context, id string) (video.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return video.Document{}, video.ErrNotFound
	}
	return d, nil
}

func (s *fakeStore) FetchDeletedSince(_ context.Context, ts time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, at := range s.deleted {
		if at.After(ts) {
			out = append(out, id)
		}
	}
	return out, nil
}

func newIndexer() *Indexer {
	return New(invindex.New(), trigram.New(), WithMetrics(obs.NewMetrics()))
}

func sampleDoc() video.Document {
	return video.Document{
		ID:          "v1",
		Title:       "Cats playing piano",
		Description: "A cat plays the piano",
		ChannelName: "Pet TV",
		Keywords:    []string{"cats", "music"},
		Views:       1000,
		Likes:       50,
		CreatedAt:   time.Now(),
	}
}

func TestReindexPopulatesIndexes(t *testing.T) {
	ix := newIndexer()
	require.NoError(t, ix.Reindex(sampleDoc()))

	assert.Equal(t, 1, ix.Count())
	assert.NotEmpty(t, ix.Inverted().Lookup("piano"))
	assert.NotEmpty(t, ix.Inverted().Lookup("music"))

	_, ok := ix.Trigrams().Get("v1", trigram.FieldTitle)
	assert.True(t, ok)
	_, ok = ix.Trigrams().Get("v1", trigram.FieldChannel)
	assert.True(t, ok)

	e, ok := ix.Get("v1")
	require.True(t, ok)
	assert.Equal(t, invindex.WeightTitle, e.Terms["cats"])
	assert.Equal(t, invindex.WeightDescription, e.Terms["cat"])
	assert.Equal(t, "cats playing piano", e.Title)
}

func TestBuildPostingsFieldWeights(t *testing.T) {
	postings := BuildPostings(sampleDoc())

	// "cats" occurs in title and keyword
	require.Len(t, postings["cats"], 2)
	assert.Equal(t, invindex.FieldTitle, postings["cats"][0].Field)
	assert.Equal(t, invindex.FieldKeyword, postings["cats"][1].Field)

	// "piano" occurs in title and description
	fields := map[invindex.Field]bool{}
	for _, p := range postings["piano"] {
		fields[p.Field] = true
		assert.Equal(t, p.Field.Weight(), p.Weight)
	}
	assert.True(t, fields[invindex.FieldTitle])
	assert.True(t, fields[invindex.FieldDescription])
}

func TestReindexIdempotent(t *testing.T) {
	ix := newIndexer()
	doc := sampleDoc()
	require.NoError(t, ix.Reindex(doc))
	first, _ := ix.Get("v1")
	before := ix.Inverted().Lookup("piano")

	require.NoError(t, ix.Reindex(doc))
	second, _ := ix.Get("v1")

	assert.Same(t, first, second)
	assert.Equal(t, before, ix.Inverted().Lookup("piano"))
	assert.Equal(t, 1, ix.Count())
}

func TestReindexLastWriteWins(t *testing.T) {
	ix := newIndexer()
	require.NoError(t, ix.Reindex(sampleDoc()))

	updated := sampleDoc()
	updated.Title = "Dogs barking"
	updated.Description = ""
	updated.Keywords = nil
	require.NoError(t, ix.Reindex(updated))

	assert.Empty(t, ix.Inverted().Lookup("piano"))
	assert.Empty(t, ix.Inverted().Lookup("music"))
	assert.NotEmpty(t, ix.Inverted().Lookup("dogs"))
	assert.Equal(t, 1, ix.Count())
}

func TestReindexRejectsInvalid(t *testing.T) {
	ix := newIndexer()
	err := ix.Reindex(video.Document{Title: "no id"})
	assert.ErrorIs(t, err, video.ErrValidation)
	assert.Equal(t, 0, ix.Count())
}

func TestDelete(t *testing.T) {
	ix := newIndexer()
	require.NoError(t, ix.Reindex(sampleDoc()))
	require.NoError(t, ix.Delete("v1"))

	assert.Equal(t, 0, ix.Count())
	assert.Empty(t, ix.Inverted().Lookup("piano"))
	assert.Empty(t, ix.Trigrams().Contains("piano"))
	_, ok := ix.Get("v1")
	assert.False(t, ok)

	// unknown id is a no-op
	require.NoError(t, ix.Delete("missing"))

	// re-index after delete behaves as a fresh insert
	require.NoError(t, ix.Reindex(sampleDoc()))
	assert.Equal(t, 1, ix.Count())
	assert.Len(t, ix.Inverted().Lookup("playing"), 1)
}

func TestReindexByID(t *testing.T) {
	ix := newIndexer()
	store := newFakeStore(sampleDoc())
	ctx := context.Background()

	require.NoError(t, ix.ReindexByID(ctx, store, "v1"))
	assert.Equal(t, 1, ix.Count())

	// gone from the store: removed from the index
	delete(store.docs, "v1")
	require.NoError(t, ix.ReindexByID(ctx, store, "v1"))
	assert.Equal(t, 0, ix.Count())

	// unknown everywhere: no-op
	require.NoError(t, ix.ReindexByID(ctx, store, "never"))
}

func TestSync(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var docs []video.Document
	for i := 0; i < 25; i++ {
		docs = append(docs, video.Document{
			ID:        fmt.Sprintf("v%02d", i),
			Title:     fmt.Sprintf("video number %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	docs = append(docs, video.Document{Title: "invalid, no id", CreatedAt: base})
	store := newFakeStore(docs...)

	ix := New(invindex.New(), trigram.New(), WithBatch(accel.NewBatch(4).WithWorkers(3)))
	res, err := ix.Sync(context.Background(), store, base.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 25, res.Indexed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, base.Add(24*time.Minute), res.Watermark)
	assert.Equal(t, 25, ix.Count())

	// deletions are applied through the tombstone listing
	store.deleted["v03"] = base.Add(time.Hour)
	res, err = ix.Sync(context.Background(), store, res.Watermark)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 24, ix.Count())
}

func TestSyncFetchError(t *testing.T) {
	store := newFakeStore()
	store.failErr = errors.New("connection refused")

	_, err := newIndexer().Sync(context.Background(), store, time.Time{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestConcurrentReindexSameDoc(t *testing.T) {
	ix := newIndexer()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := sampleDoc()
			doc.Views = int64(i)
			assert.NoError(t, ix.Reindex(doc))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ix.Count())
	assert.Len(t, ix.Inverted().Lookup("piano"), 2)
}

func TestEntryContainsText(t *testing.T) {
	ix := newIndexer()
	require.NoError(t, ix.Reindex(sampleDoc()))
	e, _ := ix.Get("v1")

	assert.True(t, e.ContainsText("playing pi"))
	assert.True(t, e.ContainsText("pet"))
	assert.True(t, e.ContainsText("musi"))
	assert.False(t, e.ContainsText("guitar"))
	assert.False(t, e.ContainsText(""))
}
