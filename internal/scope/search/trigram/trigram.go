// Package trigram indexes short strings by their character 3-grams for fuzzy
// matching and substring candidate lookup.
package trigram

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"github.com/dsjohal14/vidsearch/internal/libs/keylock"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
)

// Source fields the indexer registers
const (
	FieldTitle   = "title"
	FieldChannel = "channel"
	FieldQuery   = "query"
)

// Source is one indexed string
type Source struct {
	ID    string
	Field string
	Text  string // normalized form
}

// Candidate is a source scored against a query
type Candidate struct {
	Source
	Similarity float64
}

type sourceKey struct {
	id    string
	field string
}

// entry is immutable once published
type entry struct {
	Source
	runes int
	grams *roaring.Bitmap // interned gram codes; empty for strings under 3 runes
}

type keySet struct {
	keys sync.Map // sourceKey -> struct{}
}

// Index is a concurrent trigram index. Readers take no locks.
type Index struct {
	sources   sync.Map // sourceKey -> *entry
	postings  sync.Map // gram code (uint32) -> *keySet
	short     sync.Map // sourceKey -> struct{}, sources under 3 runes
	fields    sync.Map // field -> struct{}
	codes     sync.Map // gram -> uint32
	next      atomic.Uint32
	locks     *keylock.Striped
	gramLocks *keylock.Striped // guards keySet membership and deletion per gram
}

// New creates an empty trigram index
func New() *Index {
	return &Index{locks: keylock.NewStriped(0), gramLocks: keylock.NewStriped(0)}
}

// Grams returns the distinct overlapping 3-grams of the normalized text, in first-seen order
func Grams(text string) []string {
	runes := []rune(normalize(text))
	if len(runes) < 3 {
		return nil
	}
	seen := make(map[string]struct{}, len(runes))
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		g := string(runes[i : i+3])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// IndexString records text under (sourceID, field), replacing any earlier text.
// Empty text removes the source.
func (x *Index) IndexString(sourceID, field, text string) {
	key := sourceKey{id: sourceID, field: field}
	unlock := x.locks.Lock(sourceID)
	defer unlock()

	x.fields.Store(field, struct{}{})
	norm := normalize(text)
	prev := x.load(key)
	if norm == "" {
		x.removeLocked(key, prev)
		return
	}
	if prev != nil && prev.Text == norm {
		return
	}

	next := &entry{
		Source: Source{ID: sourceID, Field: field, Text: norm},
		runes:  len([]rune(norm)),
		grams:  roaring.New(),
	}
	for _, g := range Grams(norm) {
		next.grams.Add(x.code(g))
	}

	// register before publishing so readers that see the entry can reach it
	it := next.grams.Iterator()
	for it.HasNext() {
		x.register(it.Next(), key)
	}
	if next.runes < 3 {
		x.short.Store(key, struct{}{})
	}

	x.sources.Store(key, next)

	if prev != nil {
		stale := roaring.AndNot(prev.grams, next.grams)
		x.unregister(stale, key)
		if prev.runes < 3 && next.runes >= 3 {
			x.short.Delete(key)
		}
	}
}

// Remove drops every field indexed under sourceID. Unknown ids are a no-op.
func (x *Index) Remove(sourceID string) {
	unlock := x.locks.Lock(sourceID)
	defer unlock()

	x.fields.Range(func(f, _ any) bool {
		key := sourceKey{id: sourceID, field: f.(string)}
		x.removeLocked(key, x.load(key))
		return true
	})
}

// Similar returns sources whose trigram-set Jaccard similarity to query
// exceeds minSimilarity, best first, capped at limit. When the query or a
// source is shorter than 3 runes it matches only by exact substring, scored
// as the rune-length ratio of the shorter to the longer string.
// Restricting to fields is optional.
func (x *Index) Similar(query string, minSimilarity float64, limit int, fields ...string) []Candidate {
	if limit <= 0 {
		return []Candidate{}
	}
	q := normalize(query)
	if q == "" {
		return []Candidate{}
	}
	allowed := fieldFilter(fields)

	qGrams := x.lookupCodes(Grams(q))
	qRunes := len([]rune(q))

	scored := make(map[sourceKey]Candidate)
	consider := func(key sourceKey) {
		if _, done := scored[key]; done || !allowed(key.field) {
			return
		}
		e := x.load(key)
		if e == nil {
			return
		}
		if qRunes < 3 || e.runes < 3 {
			if sim, ok := substringScore(q, e.Text); ok {
				scored[key] = Candidate{Source: e.Source, Similarity: sim}
			}
			return
		}
		if sim := jaccard(qGrams, e.grams); sim > minSimilarity {
			scored[key] = Candidate{Source: e.Source, Similarity: sim}
		}
	}

	if qRunes < 3 {
		x.sources.Range(func(k, _ any) bool {
			consider(k.(sourceKey))
			return true
		})
	} else {
		it := qGrams.Iterator()
		for it.HasNext() {
			if v, ok := x.postings.Load(it.Next()); ok {
				v.(*keySet).keys.Range(func(k, _ any) bool {
					consider(k.(sourceKey))
					return true
				})
			}
		}
		x.short.Range(func(k, _ any) bool {
			consider(k.(sourceKey))
			return true
		})
	}

	out := make([]Candidate, 0, len(scored))
	for _, c := range scored {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Text != out[j].Text {
			return out[i].Text < out[j].Text
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Field < out[j].Field
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Contains returns sources whose normalized text contains the normalized
// substring, ordered by id then field. Grams narrow the scan when the
// substring is at least 3 runes long.
func (x *Index) Contains(substr string, fields ...string) []Source {
	q := normalize(substr)
	if q == "" {
		return []Source{}
	}
	allowed := fieldFilter(fields)

	var out []Source
	check := func(key sourceKey) {
		if !allowed(key.field) {
			return
		}
		if e := x.load(key); e != nil && strings.Contains(e.Text, q) {
			out = append(out, e.Source)
		}
	}

	grams := Grams(q)
	if len(grams) == 0 {
		x.sources.Range(func(k, _ any) bool {
			check(k.(sourceKey))
			return true
		})
	} else {
		for _, k := range x.intersect(grams) {
			check(k)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Field < out[j].Field
	})
	if out == nil {
		return []Source{}
	}
	return out
}

// Get returns the source indexed under (sourceID, field)
func (x *Index) Get(sourceID, field string) (Source, bool) {
	e := x.load(sourceKey{id: sourceID, field: field})
	if e == nil {
		return Source{}, false
	}
	return e.Source, true
}

// intersect returns the keys present in the postings of every gram
func (x *Index) intersect(grams []string) []sourceKey {
	var acc map[sourceKey]struct{}
	for _, g := range grams {
		c, ok := x.lookupCode(g)
		if !ok {
			return nil
		}
		v, ok := x.postings.Load(c)
		if !ok {
			return nil
		}
		cur := make(map[sourceKey]struct{})
		v.(*keySet).keys.Range(func(k, _ any) bool {
			key := k.(sourceKey)
			if acc == nil {
				cur[key] = struct{}{}
			} else if _, ok := acc[key]; ok {
				cur[key] = struct{}{}
			}
			return true
		})
		acc = cur
		if len(acc) == 0 {
			return nil
		}
	}
	out := make([]sourceKey, 0, len(acc))
	for k := range acc {
		out = append(out, k)
	}
	return out
}

func (x *Index) removeLocked(key sourceKey, prev *entry) {
	if prev == nil {
		return
	}
	x.sources.Delete(key)
	x.short.Delete(key)
	x.unregister(prev.grams, key)
}

// unregister drops key from each gram's set and deletes sets left empty
func (x *Index) unregister(codes *roaring.Bitmap, key sourceKey) {
	it := codes.Iterator()
	for it.HasNext() {
		code := it.Next()
		unlock := x.gramLocks.Lock(gramLockKey(code))
		if v, ok := x.postings.Load(code); ok {
			set := v.(*keySet)
			set.keys.Delete(key)
			if isEmpty(&set.keys) {
				x.postings.CompareAndDelete(code, set)
			}
		}
		unlock()
	}
}

func (x *Index) register(code uint32, key sourceKey) {
	unlock := x.gramLocks.Lock(gramLockKey(code))
	defer unlock()

	v, _ := x.postings.LoadOrStore(code, &keySet{})
	v.(*keySet).keys.Store(key, struct{}{})
}

func gramLockKey(code uint32) string {
	return strconv.FormatUint(uint64(code), 36)
}

func isEmpty(m *sync.Map) bool {
	empty := true
	m.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	return empty
}

func (x *Index) load(key sourceKey) *entry {
	v, ok := x.sources.Load(key)
	if !ok {
		return nil
	}
	return v.(*entry)
}

// code interns a gram. Concurrent callers agree on the stored value.
func (x *Index) code(gram string) uint32 {
	if c, ok := x.lookupCode(gram); ok {
		return c
	}
	v, _ := x.codes.LoadOrStore(gram, x.next.Add(1))
	return v.(uint32)
}

func (x *Index) lookupCode(gram string) (uint32, bool) {
	v, ok := x.codes.Load(gram)
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

// lookupCodes maps query grams to codes. Grams never indexed get codes
// outside the interned range so they still count toward the union.
func (x *Index) lookupCodes(grams []string) *roaring.Bitmap {
	bm := roaring.New()
	var unknown uint32 = ^uint32(0)
	for _, g := range grams {
		if c, ok := x.lookupCode(g); ok {
			bm.Add(c)
			continue
		}
		bm.Add(unknown)
		unknown--
	}
	return bm
}

func jaccard(a, b *roaring.Bitmap) float64 {
	union := a.OrCardinality(b)
	if union == 0 {
		return 0
	}
	return float64(a.AndCardinality(b)) / float64(union)
}

// substringScore matches strings when one contains the other
func substringScore(a, b string) (float64, bool) {
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if !strings.Contains(longer, shorter) {
		return 0, false
	}
	return float64(len([]rune(shorter))) / float64(len([]rune(longer))), true
}

func fieldFilter(fields []string) func(string) bool {
	if len(fields) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return func(f string) bool {
		_, ok := set[f]
		return ok
	}
}

func normalize(text string) string {
	return tokenize.NormalizeQuery(text)
}
