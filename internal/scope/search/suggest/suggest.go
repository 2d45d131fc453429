// Package suggest serves autocomplete, related-query and trending lookups
// from the catalog, the trigram index and the query log.
package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/search/indexer"
	"github.com/dsjohal14/vidsearch/internal/scope/search/querylog"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// RelatedThreshold is the minimum trigram similarity for related queries
const RelatedThreshold = 0.3

// Suggestion categories
const (
	CategoryQuery   = "query"
	CategoryVideo   = "video"
	CategoryChannel = "channel"
	CategoryKeyword = "keyword"
)

// Suggestion sources, in merge order
const (
	SourcePopular  = "popular"
	SourceTitles   = "titles"
	SourceChannels = "channels"
)

// Suggestion is one autocomplete candidate
type Suggestion struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

// Related is a popular query similar to the one asked about
type Related struct {
	Text        string  `json:"text"`
	Similarity  float64 `json:"similarity"`
	SearchCount int64   `json:"search_count"`
}

// Trend is a query's occurrence count inside a window
type Trend struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Split weights how the suggestion limit is shared between sources. Each
// source gets ceil(limit * weight / total).
type Split struct {
	Popular  int `yaml:"popular"`
	Titles   int `yaml:"titles"`
	Channels int `yaml:"channels"`
}

// DefaultSplit shares the limit in equal thirds
func DefaultSplit() Split {
	return Split{Popular: 1, Titles: 1, Channels: 1}
}

// Caps returns the per-source caps for limit
func (s Split) Caps(limit int) (popular, titles, channels int) {
	total := s.Popular + s.Titles + s.Channels
	if total <= 0 || limit <= 0 {
		return 0, 0, 0
	}
	share := func(w int) int {
		if w <= 0 {
			return 0
		}
		return (limit*w + total - 1) / total
	}
	return share(s.Popular), share(s.Titles), share(s.Channels)
}

// Catalog is the read side of the document catalog
type Catalog interface {
	Get(id string) (*indexer.Entry, bool)
	Range(fn func(*indexer.Entry) bool)
}

// Queries is the read side of the query log
type Queries interface {
	PrefixPopular(prefix string, limit int) []querylog.Popular
	SimilarPopular(query string, minSimilarity float64, limit int) []querylog.Match
	Recent(since time.Time) []querylog.Entry
}

// Option configures an Engine
type Option func(*Engine)

// WithSplit overrides the per-source share of the limit
func WithSplit(s Split) Option {
	return func(e *Engine) { e.split = s }
}

// WithClock overrides the time source used for trend windows
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine answers suggestion queries. Like the ranking engine it only reads.
type Engine struct {
	catalog Catalog
	titles  *trigram.Index
	queries Queries
	split   Split
	now     func() time.Time
}

// New creates a suggestion engine
func New(catalog Catalog, titles *trigram.Index, queries Queries, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		titles:  titles,
		queries: queries,
		split:   DefaultSplit(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest merges popular queries, video titles and channel names/keywords
// matching partial. Each source is capped to its share of limit, results are
// concatenated in source order and de-duplicated case-insensitively.
func (e *Engine) Suggest(ctx context.Context, partial string, limit int) ([]Suggestion, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative, got %d", video.ErrValidation, limit)
	}
	folded := tokenize.Fold(partial)
	if folded == "" || limit == 0 {
		return []Suggestion{}, nil
	}
	popularCap, titleCap, channelCap := e.split.Caps(limit)

	var merged []Suggestion
	for _, p := range e.queries.PrefixPopular(partial, popularCap) {
		merged = append(merged, Suggestion{Text: p.Text, Category: CategoryQuery, Source: SourcePopular})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged = append(merged, e.titleMatches(folded, titleCap)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	merged = append(merged, e.channelMatches(folded, channelCap)...)

	seen := make(map[string]struct{}, len(merged))
	out := make([]Suggestion, 0, limit)
	for _, s := range merged {
		key := tokenize.Fold(s.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type viewed struct {
	text     string
	category string
	views    int64
}

// titleMatches returns titles containing folded, most viewed first
func (e *Engine) titleMatches(folded string, limit int) []Suggestion {
	if limit <= 0 {
		return nil
	}
	var hits []viewed
	for _, src := range e.titles.Contains(folded, trigram.FieldTitle) {
		entry, ok := e.catalog.Get(src.ID)
		if !ok {
			continue
		}
		hits = append(hits, viewed{text: entry.Doc.Title, category: CategoryVideo, views: entry.Doc.Views})
	}
	return topViewed(hits, limit, SourceTitles)
}

// channelMatches returns channel names and keywords containing folded, most
// viewed first. A name shared by several videos ranks by its best video.
func (e *Engine) channelMatches(folded string, limit int) []Suggestion {
	if limit <= 0 {
		return nil
	}
	best := make(map[string]viewed)
	consider := func(text, category string, views int64) {
		key := category + "\x00" + tokenize.Fold(text)
		if cur, ok := best[key]; !ok || views > cur.views {
			best[key] = viewed{text: text, category: category, views: views}
		}
	}

	e.catalog.Range(func(entry *indexer.Entry) bool {
		if strings.Contains(entry.Channel, folded) {
			consider(entry.Doc.ChannelName, CategoryChannel, entry.Doc.Views)
		}
		for _, kw := range entry.Doc.Keywords {
			if strings.Contains(tokenize.Fold(kw), folded) {
				consider(strings.TrimSpace(kw), CategoryKeyword, entry.Doc.Views)
			}
		}
		return true
	})

	hits := make([]viewed, 0, len(best))
	for _, v := range best {
		hits = append(hits, v)
	}
	return topViewed(hits, limit, SourceChannels)
}

func topViewed(hits []viewed, limit int, source string) []Suggestion {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].views != hits[j].views {
			return hits[i].views > hits[j].views
		}
		if hits[i].text != hits[j].text {
			return hits[i].text < hits[j].text
		}
		return hits[i].category < hits[j].category
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Suggestion, len(hits))
	for i, h := range hits {
		out[i] = Suggestion{Text: h.text, Category: h.category, Source: source}
	}
	return out
}

// Related returns popular queries similar to query, excluding query itself,
// by similarity then search count
func (e *Engine) Related(ctx context.Context, query string, limit int) ([]Related, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative, got %d", video.ErrValidation, limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches := e.queries.SimilarPopular(query, RelatedThreshold, limit)
	out := make([]Related, len(matches))
	for i, m := range matches {
		out[i] = Related{Text: m.Text, Similarity: m.Similarity, SearchCount: m.SearchCount}
	}
	return out, nil
}

// Trending counts logged searches in the trailing window by normalized query,
// most frequent first, then most recent, then text
func (e *Engine) Trending(ctx context.Context, window time.Duration, limit int) ([]Trend, error) {
	if limit < 0 || window < 0 {
		return nil, fmt.Errorf("%w: window and limit must be non-negative (window=%s, limit=%d)", video.ErrValidation, window, limit)
	}
	if limit == 0 || window == 0 {
		return []Trend{}, nil
	}

	type agg struct {
		count int
		last  time.Time
	}
	groups := make(map[string]*agg)
	for _, entry := range e.queries.Recent(e.now().Add(-window)) {
		if entry.Normalized == "" {
			continue
		}
		g, ok := groups[entry.Normalized]
		if !ok {
			g = &agg{}
			groups[entry.Normalized] = g
		}
		g.count++
		if entry.Timestamp.After(g.last) {
			g.last = entry.Timestamp
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(groups))
	for text := range groups {
		texts = append(texts, text)
	}
	sort.Slice(texts, func(i, j int) bool {
		a, b := groups[texts[i]], groups[texts[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		if !a.last.Equal(b.last) {
			return a.last.After(b.last)
		}
		return texts[i] < texts[j]
	})
	if len(texts) > limit {
		texts = texts[:limit]
	}

	out := make([]Trend, len(texts))
	for i, text := range texts {
		out[i] = Trend{Text: text, Count: groups[text].count}
	}
	return out, nil
}
