// Package rank scores and orders candidate documents for a query.
package rank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/search/indexer"
	"github.com/dsjohal14/vidsearch/internal/scope/search/invindex"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// SortBy selects the result ordering
type SortBy string

// Sort modes
const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
	SortViews     SortBy = "views"
)

// ParseSort maps a caller string to a sort mode. Empty means relevance.
func ParseSort(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortDate:
		return SortDate, nil
	case SortViews:
		return SortViews, nil
	default:
		return "", fmt.Errorf("%w: sort must be one of [relevance date views], got %q", video.ErrValidation, s)
	}
}

// Query is one ranking request
type Query struct {
	Text    string
	Filters video.FilterSet
	Sort    SortBy
	Limit   int
	Offset  int
}

// Result is one ranked document
type Result struct {
	DocID     string
	Score     float64
	Breakdown Breakdown
	Doc       video.Document
}

// Page is a window of ranked results and the total match count
type Page struct {
	Results []Result
	Total   int
}

// Postings is the read side of the inverted index
type Postings interface {
	Lookup(token string) []invindex.Posting
}

// Catalog is the read side of the document catalog
type Catalog interface {
	Get(id string) (*indexer.Entry, bool)
	Range(fn func(*indexer.Entry) bool)
}

// Engine ranks documents. It holds no locks and does no I/O.
type Engine struct {
	postings Postings
	catalog  Catalog
	now      func() time.Time
}

// New creates a ranking engine
func New(postings Postings, catalog Catalog) *Engine {
	return &Engine{postings: postings, catalog: catalog, now: time.Now}
}

// WithClock overrides the time source used for recency
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rank returns the requested page of documents matching q.
// Only validation errors and context cancellation are returned.
func (e *Engine) Rank(ctx context.Context, q Query) (Page, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return Page{}, fmt.Errorf("%w: limit and offset must be non-negative (limit=%d, offset=%d)", video.ErrValidation, q.Limit, q.Offset)
	}
	sortBy, err := ParseSort(string(q.Sort))
	if err != nil {
		return Page{}, err
	}
	if err := q.Filters.Validate(); err != nil {
		return Page{}, err
	}

	all, err := e.score(ctx, q)
	if err != nil {
		return Page{}, err
	}
	Order(all, sortBy)

	return Page{Results: Paginate(all, q.Limit, q.Offset), Total: len(all)}, nil
}

// score collects and scores every matching candidate
func (e *Engine) score(ctx context.Context, q Query) ([]Result, error) {
	tokens := tokenize.Unique(tokenize.Normalize(q.Text))
	folded := tokenize.Fold(q.Text)
	if len(tokens) == 0 || folded == "" {
		return []Result{}, nil
	}

	candidates := make(map[string]*indexer.Entry)
	for _, tok := range tokens {
		for _, p := range e.postings.Lookup(tok) {
			if _, ok := candidates[p.DocID]; ok {
				continue
			}
			if entry, ok := e.catalog.Get(p.DocID); ok {
				candidates[p.DocID] = entry
			}
		}
	}

	scanned := 0
	e.catalog.Range(func(entry *indexer.Entry) bool {
		scanned++
		if scanned%1024 == 0 && ctx.Err() != nil {
			return false
		}
		if _, ok := candidates[entry.Doc.ID]; !ok && entry.ContainsText(folded) {
			candidates[entry.Doc.ID] = entry
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]Result, 0, len(candidates))
	for id, entry := range candidates {
		if !q.Filters.Match(entry.Doc) {
			continue
		}
		b := ScoreEntry(entry, tokens, folded, now)
		// a stale posting can name a document whose current entry no longer matches
		if b.Relevance == 0 && !entry.ContainsText(folded) {
			continue
		}
		out = append(out, Result{DocID: id, Score: b.Total(), Breakdown: b, Doc: entry.Doc})
	}
	return out, nil
}

// ScoreEntry computes every score component of one catalog entry
func ScoreEntry(entry *indexer.Entry, tokens []string, folded string, now time.Time) Breakdown {
	doc := entry.Doc
	return Breakdown{
		Relevance:        Relevance(tokens, entry.Terms),
		ExactTitle:       ExactTitle(entry.Title, folded),
		TitlePrefix:      TitlePrefix(entry.Title, folded),
		TitleSubstring:   TitleSubstring(entry.Title, folded),
		ExactKeyword:     ExactKeyword(entry.Keywords, folded),
		KeywordSubstring: KeywordSubstring(entry.Keywords, folded),
		Channel:          ChannelSubstring(entry.Channel, folded),
		Description:      DescriptionSubstring(entry.Description, folded),
		Popularity:       Popularity(doc.Views),
		Engagement:       Engagement(doc.Views, doc.Likes),
		Recency:          Recency(doc.CreatedAt, now),
	}
}

// Order sorts results in place for the given mode. Ties fall back to views
// descending and finally document id ascending.
func Order(results []Result, by SortBy) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch by {
		case SortDate:
			if !a.Doc.CreatedAt.Equal(b.Doc.CreatedAt) {
				return a.Doc.CreatedAt.After(b.Doc.CreatedAt)
			}
		case SortViews:
		default:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		if a.Doc.Views != b.Doc.Views {
			return a.Doc.Views > b.Doc.Views
		}
		return a.DocID < b.DocID
	})
}

// Paginate returns the [offset, offset+limit) window. Out of range yields an empty page.
func Paginate(results []Result, limit, offset int) []Result {
	if limit <= 0 || offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) || end < offset {
		end = len(results)
	}
	return results[offset:end]
}
