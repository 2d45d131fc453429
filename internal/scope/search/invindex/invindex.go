// Package invindex maps tokens to postings lists.
//
// Each document owns an immutable segment holding every posting it
// contributes. Writers build a new segment off to the side and swap it in
// with one atomic store, so readers see either the old or the new posting set
// of a document and never a mix. Readers take no locks.
package invindex

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dsjohal14/vidsearch/internal/libs/keylock"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// Posting records that a token occurs in a document field
type Posting struct {
	DocID  string
	Field  Field
	Weight float64
}

// fieldWeight is one field entry of a token inside a segment
type fieldWeight struct {
	field  Field
	weight float64
}

// segment is the immutable posting set of one document
type segment struct {
	docID   string
	version uint64
	terms   map[string][]fieldWeight
}

// termSet is the set of document ids that may hold a token.
// It can contain stale ids; the document's current segment is authoritative.
type termSet struct {
	ids sync.Map // docID -> struct{}
}

// Index is a concurrent inverted index
type Index struct {
	docs      sync.Map // docID -> *segment
	terms     sync.Map // token -> *termSet
	locks     *keylock.Striped
	termLocks *keylock.Striped // guards termSet membership and deletion per token
	version   atomic.Uint64
	nDocs     atomic.Int64
}

// New creates an empty index
func New() *Index {
	return &Index{locks: keylock.NewStriped(0), termLocks: keylock.NewStriped(0)}
}

// Upsert sets the posting for (docID, field, token). Re-upserting replaces the weight.
func (x *Index) Upsert(docID string, field Field, token string, weight float64) error {
	if err := checkPosting(docID, field, token, weight); err != nil {
		return err
	}

	unlock := x.locks.Lock(docID)
	defer unlock()

	cur := x.load(docID)
	terms := make(map[string][]fieldWeight)
	if cur != nil {
		for t, fws := range cur.terms {
			terms[t] = fws
		}
	}
	terms[token] = setField(terms[token], field, weight)

	return x.swapLocked(docID, cur, terms)
}

// Replace atomically swaps the whole posting set of docID for postings grouped
// by token. An empty map removes the document.
func (x *Index) Replace(docID string, tokens map[string][]Posting) error {
	terms := make(map[string][]fieldWeight, len(tokens))
	for token, ps := range tokens {
		for _, p := range ps {
			if p.DocID != docID {
				return fmt.Errorf("%w: posting for %q in replace of %q", video.ErrInvariant, p.DocID, docID)
			}
			if err := checkPosting(p.DocID, p.Field, token, p.Weight); err != nil {
				return err
			}
			terms[token] = setField(terms[token], p.Field, p.Weight)
		}
	}

	unlock := x.locks.Lock(docID)
	defer unlock()

	cur := x.load(docID)
	if len(terms) == 0 {
		return x.removeLocked(docID, cur)
	}
	return x.swapLocked(docID, cur, terms)
}

// Remove deletes every posting of docID. Unknown ids are a no-op.
func (x *Index) Remove(docID string) error {
	unlock := x.locks.Lock(docID)
	defer unlock()

	cur := x.load(docID)
	if cur == nil {
		return nil
	}
	return x.removeLocked(docID, cur)
}

// Lookup returns every posting for token ordered by document id then field.
// Unknown tokens yield an empty slice.
func (x *Index) Lookup(token string) []Posting {
	v, ok := x.terms.Load(token)
	if !ok {
		return []Posting{}
	}

	out := make([]Posting, 0, 4)
	v.(*termSet).ids.Range(func(key, _ any) bool {
		docID := key.(string)
		seg := x.load(docID)
		if seg == nil {
			return true
		}
		for _, fw := range seg.terms[token] {
			out = append(out, Posting{DocID: docID, Field: fw.field, Weight: fw.weight})
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].DocID != out[j].DocID {
			return out[i].DocID < out[j].DocID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Has reports whether docID has any postings
func (x *Index) Has(docID string) bool {
	return x.load(docID) != nil
}

// Postings returns every posting of docID keyed by token
func (x *Index) Postings(docID string) map[string][]Posting {
	seg := x.load(docID)
	if seg == nil {
		return nil
	}
	out := make(map[string][]Posting, len(seg.terms))
	for t, fws := range seg.terms {
		ps := make([]Posting, 0, len(fws))
		for _, fw := range fws {
			ps = append(ps, Posting{DocID: docID, Field: fw.field, Weight: fw.weight})
		}
		out[t] = ps
	}
	return out
}

// DocCount returns the number of documents with postings
func (x *Index) DocCount() int {
	return int(x.nDocs.Load())
}

// Version returns the number of segment swaps applied so far
func (x *Index) Version() uint64 {
	return x.version.Load()
}

func (x *Index) load(docID string) *segment {
	v, ok := x.docs.Load(docID)
	if !ok {
		return nil
	}
	return v.(*segment)
}

// swapLocked publishes a new segment for docID. Caller holds the doc lock.
// New tokens are registered before the swap so a reader that sees the new
// segment can always reach it; dropped tokens are unregistered after.
func (x *Index) swapLocked(docID string, cur *segment, terms map[string][]fieldWeight) error {
	next := &segment{
		docID:   docID,
		version: x.version.Add(1),
		terms:   terms,
	}
	if cur != nil && next.version <= cur.version {
		return fmt.Errorf("%w: segment version regressed for %q (%d -> %d)", video.ErrInvariant, docID, cur.version, next.version)
	}

	for token := range terms {
		x.register(token, docID)
	}

	prev, loaded := x.docs.Swap(docID, next)
	if loaded && prev.(*segment) != cur {
		return fmt.Errorf("%w: concurrent unlocked write to %q", video.ErrInvariant, docID)
	}
	if !loaded && cur != nil {
		return fmt.Errorf("%w: segment for %q vanished during write", video.ErrInvariant, docID)
	}
	if !loaded {
		x.nDocs.Add(1)
	}

	if cur != nil {
		for token := range cur.terms {
			if _, still := terms[token]; !still {
				x.unregister(token, docID)
			}
		}
	}
	return nil
}

func (x *Index) removeLocked(docID string, cur *segment) error {
	if cur == nil {
		return nil
	}
	if !x.docs.CompareAndDelete(docID, cur) {
		return fmt.Errorf("%w: concurrent unlocked write to %q", video.ErrInvariant, docID)
	}
	x.nDocs.Add(-1)
	for token := range cur.terms {
		x.unregister(token, docID)
	}
	return nil
}

func (x *Index) register(token, docID string) {
	unlock := x.termLocks.Lock(token)
	defer unlock()

	v, _ := x.terms.LoadOrStore(token, &termSet{})
	v.(*termSet).ids.Store(docID, struct{}{})
}

// unregister drops docID from token and deletes the set once it is empty
func (x *Index) unregister(token, docID string) {
	unlock := x.termLocks.Lock(token)
	defer unlock()

	v, ok := x.terms.Load(token)
	if !ok {
		return
	}
	set := v.(*termSet)
	set.ids.Delete(docID)
	if isEmpty(&set.ids) {
		x.terms.CompareAndDelete(token, set)
	}
}

func isEmpty(m *sync.Map) bool {
	empty := true
	m.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	return empty
}

func checkPosting(docID string, field Field, token string, weight float64) error {
	if docID == "" || token == "" {
		return fmt.Errorf("%w: empty document id or token", video.ErrValidation)
	}
	if !field.Valid() {
		return fmt.Errorf("%w: unknown field %d", video.ErrValidation, field)
	}
	if weight != field.Weight() {
		return fmt.Errorf("%w: weight %.2f for field %s, expected %.2f", video.ErrInvariant, weight, field, field.Weight())
	}
	return nil
}

// setField returns fws with field set to weight, copying so published slices stay immutable
func setField(fws []fieldWeight, field Field, weight float64) []fieldWeight {
	out := make([]fieldWeight, 0, len(fws)+1)
	replaced := false
	for _, fw := range fws {
		if fw.field == field {
			out = append(out, fieldWeight{field: field, weight: weight})
			replaced = true
			continue
		}
		out = append(out, fw)
	}
	if !replaced {
		out = append(out, fieldWeight{field: field, weight: weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].field < out[j].field })
	return out
}
