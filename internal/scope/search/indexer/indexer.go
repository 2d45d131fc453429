// Package indexer builds and maintains the inverted and trigram indexes from
// video documents and owns the in-memory document catalog readers score against.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/accel"
	"github.com/dsjohal14/vidsearch/internal/libs/keylock"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/search/invindex"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// Entry is the immutable catalog record of an indexed document
type Entry struct {
	Doc     video.Document
	Version uint64

	// Terms maps each token to the highest field weight it occurs with
	Terms map[string]float64

	// Lowercased field text for substring matching
	Title       string
	Description string
	Channel     string
	Keywords    []string
}

// Indexer owns mutation of the inverted index, trigram index and catalog
type Indexer struct {
	inv     *invindex.Index
	tri     *trigram.Index
	catalog sync.Map // docID -> *Entry
	count   atomic.Int64
	version atomic.Uint64
	locks   *keylock.Striped
	batch   *accel.Batch
	metrics *obs.Metrics
	logger  zerolog.Logger
}

// Option configures an Indexer
type Option func(*Indexer)

// WithMetrics records index mutations in m
func WithMetrics(m *obs.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithBatch sets the chunking used by Sync
func WithBatch(b *accel.Batch) Option {
	return func(ix *Indexer) { ix.batch = b }
}

// New creates an indexer over the given indexes
func New(inv *invindex.Index, tri *trigram.Index, opts ...Option) *Indexer {
	ix := &Indexer{
		inv:    inv,
		tri:    tri,
		locks:  keylock.NewStriped(0),
		batch:  accel.NewBatch(100),
		logger: obs.Logger("indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Inverted returns the inverted index
func (ix *Indexer) Inverted() *invindex.Index {
	return ix.inv
}

// Trigrams returns the trigram index
func (ix *Indexer) Trigrams() *trigram.Index {
	return ix.tri
}

// Reindex makes doc searchable, replacing any earlier version of the same id.
// Re-indexing identical content is a no-op.
func (ix *Indexer) Reindex(doc video.Document) error {
	if err := video.Validate(doc); err != nil {
		ix.metrics.RecordReindex("failed", ix.Count())
		return err
	}
	doc = doc.Clone()
	doc.Quality = video.NormalizeQuality(doc.Quality)

	unlock := ix.locks.Lock(doc.ID)
	defer unlock()

	if cur := ix.load(doc.ID); cur != nil && cur.Doc.Equal(doc) {
		ix.metrics.RecordReindex("unchanged", ix.Count())
		return nil
	}

	postings := BuildPostings(doc)
	if err := ix.inv.Replace(doc.ID, postings); err != nil {
		ix.logger.Error().Err(err).Str("doc_id", doc.ID).Msg("reindex rejected")
		ix.metrics.RecordReindex("failed", ix.Count())
		return fmt.Errorf("failed to replace postings for %s: %w", doc.ID, err)
	}
	ix.tri.IndexString(doc.ID, trigram.FieldTitle, doc.Title)
	ix.tri.IndexString(doc.ID, trigram.FieldChannel, doc.ChannelName)

	entry := newEntry(doc, postings, ix.version.Add(1))
	if _, loaded := ix.catalog.Swap(doc.ID, entry); !loaded {
		ix.count.Add(1)
	}

	ix.metrics.RecordReindex("indexed", ix.Count())
	ix.logger.Debug().Str("doc_id", doc.ID).Int("tokens", len(postings)).Msg("document indexed")
	return nil
}

// Delete removes id from every index. Unknown ids are a no-op.
func (ix *Indexer) Delete(id string) error {
	unlock := ix.locks.Lock(id)
	defer unlock()

	if _, loaded := ix.catalog.LoadAndDelete(id); loaded {
		ix.count.Add(-1)
	}
	if err := ix.inv.Remove(id); err != nil {
		ix.logger.Error().Err(err).Str("doc_id", id).Msg("delete rejected")
		return fmt.Errorf("failed to remove postings for %s: %w", id, err)
	}
	ix.tri.Remove(id)

	ix.metrics.RecordReindex("deleted", ix.Count())
	return nil
}

// ReindexByID fetches id from store and reindexes it. A document the store
// no longer has is removed from the indexes.
func (ix *Indexer) ReindexByID(ctx context.Context, store video.DocumentStore, id string) error {
	doc, err := store.Fetch(ctx, id)
	if errors.Is(err, video.ErrNotFound) {
		return ix.Delete(id)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	return ix.Reindex(doc)
}

// SyncResult summarizes one incremental sync
type SyncResult struct {
	Indexed   int
	Deleted   int
	Skipped   int
	Watermark time.Time
}

// Sync reindexes every document changed after since and applies deletions
// when the store reports them. Invalid documents are skipped and logged; an
// invariant violation aborts the sync.
func (ix *Indexer) Sync(ctx context.Context, store video.DocumentStore, since time.Time) (SyncResult, error) {
	start := time.Now()
	defer func() { ix.metrics.ObserveSync(time.Since(start)) }()

	res := SyncResult{Watermark: since}

	docs, err := store.FetchChangedSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("failed to fetch changed documents: %w", err)
	}

	var indexed, skipped atomic.Int64
	err = ix.batch.Each(ctx, len(docs), func(ctx context.Context, lo, hi int) error {
		for _, doc := range docs[lo:hi] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ix.Reindex(doc); err != nil {
				if errors.Is(err, video.ErrInvariant) {
					return err
				}
				ix.logger.Warn().Err(err).Str("doc_id", doc.ID).Msg("skipping document")
				skipped.Add(1)
				continue
			}
			indexed.Add(1)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to sync documents: %w", err)
	}

	for _, doc := range docs {
		if ts := changedAt(doc); ts.After(res.Watermark) {
			res.Watermark = ts
		}
	}
	res.Indexed = int(indexed.Load())
	res.Skipped = int(skipped.Load())

	if tombs, ok := store.(video.TombstoneSource); ok {
		ids, err := tombs.FetchDeletedSince(ctx, since)
		if err != nil {
			return res, fmt.Errorf("failed to fetch deletions: %w", err)
		}
		for _, id := range ids {
			if err := ix.Delete(id); err != nil {
				return res, err
			}
			res.Deleted++
		}
	}

	ix.logger.Info().
		Int("indexed", res.Indexed).
		Int("deleted", res.Deleted).
		Int("skipped", res.Skipped).
		Time("watermark", res.Watermark).
		Msg("sync complete")
	return res, nil
}

// Get returns the catalog entry for id
func (ix *Indexer) Get(id string) (*Entry, bool) {
	e := ix.load(id)
	return e, e != nil
}

// Range calls fn for every catalog entry until fn returns false
func (ix *Indexer) Range(fn func(*Entry) bool) {
	ix.catalog.Range(func(_, v any) bool {
		return fn(v.(*Entry))
	})
}

// Count returns the number of indexed documents
func (ix *Indexer) Count() int {
	return int(ix.count.Load())
}

func (ix *Indexer) load(id string) *Entry {
	v, ok := ix.catalog.Load(id)
	if !ok {
		return nil
	}
	return v.(*Entry)
}

// BuildPostings tokenizes every weighted field of doc
func BuildPostings(doc video.Document) map[string][]invindex.Posting {
	out := make(map[string][]invindex.Posting)
	add := func(field invindex.Field, text string) {
		for _, tok := range tokenize.Normalize(text) {
			ps := out[tok]
			dup := false
			for _, p := range ps {
				if p.Field == field {
					dup = true
					break
				}
			}
			if !dup {
				out[tok] = append(ps, invindex.Posting{DocID: doc.ID, Field: field, Weight: field.Weight()})
			}
		}
	}

	add(invindex.FieldTitle, doc.Title)
	add(invindex.FieldDescription, doc.Description)
	add(invindex.FieldChannel, doc.ChannelName)
	for _, kw := range doc.Keywords {
		add(invindex.FieldKeyword, kw)
	}
	return out
}

func newEntry(doc video.Document, postings map[string][]invindex.Posting, version uint64) *Entry {
	terms := make(map[string]float64, len(postings))
	for tok, ps := range postings {
		best := 0.0
		for _, p := range ps {
			if p.Weight > best {
				best = p.Weight
			}
		}
		terms[tok] = best
	}

	keywords := make([]string, 0, len(doc.Keywords))
	for _, kw := range doc.Keywords {
		if k := tokenize.Fold(kw); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Entry{
		Doc:         doc,
		Version:     version,
		Terms:       terms,
		Title:       tokenize.Fold(doc.Title),
		Description: tokenize.Fold(doc.Description),
		Channel:     tokenize.Fold(doc.ChannelName),
		Keywords:    keywords,
	}
}

// ContainsText reports whether any searchable field contains the folded substring
func (e *Entry) ContainsText(folded string) bool {
	if folded == "" {
		return false
	}
	if strings.Contains(e.Title, folded) || strings.Contains(e.Description, folded) ||
		strings.Contains(e.Channel, folded) {
		return true
	}
	for _, kw := range e.Keywords {
		if strings.Contains(kw, folded) {
			return true
		}
	}
	return false
}

func changedAt(doc video.Document) time.Time {
	if doc.UpdatedAt.After(doc.CreatedAt) {
		return doc.UpdatedAt
	}
	return doc.CreatedAt
}
