// Package search is the façade callers use: ranking, suggestions, trends and
// index maintenance behind one Service.
package search

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/jobs"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/search/indexer"
	"github.com/dsjohal14/vidsearch/internal/scope/search/querylog"
	"github.com/dsjohal14/vidsearch/internal/scope/search/rank"
	"github.com/dsjohal14/vidsearch/internal/scope/search/suggest"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// Request is one search call
type Request struct {
	Query    string
	Filters  video.FilterSet
	Sort     rank.SortBy
	Limit    int
	Offset   int
	CallerID string
}

// Response is a page of results. LogID identifies the logged search for
// RecordClick; it is empty when the query was not logged.
type Response struct {
	Results []rank.Result
	Total   int
	LogID   string
}

// Option configures a Service
type Option func(*Service)

// WithMetrics sets the metrics sink
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogQueueSize bounds the number of searches waiting to be logged
func WithLogQueueSize(n int) Option {
	return func(s *Service) { s.queueSize = n }
}

// WithSuggestSplit sets the per-source share of suggestion limits
func WithSuggestSplit(split suggest.Split) Option {
	return func(s *Service) { s.split = split }
}

// WithClock overrides the time source for recency and trend windows
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service answers queries against the indexes and feeds the query log
type Service struct {
	indexer *indexer.Indexer
	log     *querylog.Log
	ranker  *rank.Engine
	suggest *suggest.Engine
	queue   *jobs.Queue[querylog.Entry]

	queueSize int
	split     suggest.Split
	now       func() time.Time
	metrics   *obs.Metrics
	logger    zerolog.Logger
}

// New creates a service over ix and log. The caller owns log and closes it
// after Close.
func New(ix *indexer.Indexer, log *querylog.Log, opts ...Option) *Service {
	s := &Service{
		indexer:   ix,
		log:       log,
		queueSize: jobs.DefaultSize,
		split:     suggest.DefaultSplit(),
		now:       time.Now,
		logger:    obs.Logger("search"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ranker = rank.New(ix.Inverted(), ix).WithClock(s.now)
	s.suggest = suggest.New(ix, ix.Trigrams(), log, suggest.WithSplit(s.split), suggest.WithClock(s.now))
	s.queue = jobs.NewQueue(s.queueSize, 1, func(e querylog.Entry) {
		log.LogSearch(e)
	})
	return s
}

// Search ranks documents for req and logs the query in the background.
// Only validation errors and context cancellation are returned.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	page, err := s.ranker.Rank(ctx, rank.Query{
		Text:    req.Query,
		Filters: req.Filters,
		Sort:    req.Sort,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
	if err != nil {
		return Response{}, err
	}

	sortBy := req.Sort
	if sortBy == "" {
		sortBy = rank.SortRelevance
	}
	s.metrics.ObserveSearch(string(sortBy), page.Total, time.Since(start))

	resp := Response{Results: page.Results, Total: page.Total}
	if tokenize.NormalizeQuery(req.Query) != "" {
		resp.LogID = s.enqueueLog(req, page.Total)
	}

	s.logger.Debug().
		Str("query", req.Query).
		Int("results", page.Total).
		Dur("took", time.Since(start)).
		Msg("search")
	return resp, nil
}

// enqueueLog hands the search to the query log without waiting. A full queue drops it.
func (s *Service) enqueueLog(req Request, total int) string {
	entry := querylog.Entry{
		ID:           uuid.NewString(),
		Query:        req.Query,
		CallerID:     req.CallerID,
		ResultsCount: total,
		Filters:      req.Filters.Snapshot(),
		Timestamp:    s.now(),
	}
	if !s.queue.Enqueue(entry) {
		s.metrics.RecordQueryLog(true)
		s.logger.Debug().Str("query", req.Query).Msg("query log queue full, entry dropped")
		return ""
	}
	return entry.ID
}

// Suggest returns autocomplete candidates for partial
func (s *Service) Suggest(ctx context.Context, partial string, limit int) ([]suggest.Suggestion, error) {
	s.metrics.IncSuggest("suggest")
	return s.suggest.Suggest(ctx, partial, limit)
}

// Related returns popular queries similar to query
func (s *Service) Related(ctx context.Context, query string, limit int) ([]suggest.Related, error) {
	s.metrics.IncSuggest("related")
	return s.suggest.Related(ctx, query, limit)
}

// Trending returns the most searched queries in the trailing window
func (s *Service) Trending(ctx context.Context, window time.Duration, limit int) ([]suggest.Trend, error) {
	s.metrics.IncSuggest("trending")
	return s.suggest.Trending(ctx, window, limit)
}

// Index makes doc searchable, replacing any earlier version
func (s *Service) Index(ctx context.Context, doc video.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.indexer.Reindex(doc)
}

// Unindex removes a document. Unknown ids are a no-op.
func (s *Service) Unindex(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.indexer.Delete(id)
}

// ReindexByID refreshes one document from store
func (s *Service) ReindexByID(ctx context.Context, store video.DocumentStore, id string) error {
	return s.indexer.ReindexByID(ctx, store, id)
}

// Sync reindexes documents changed in store after since
func (s *Service) Sync(ctx context.Context, store video.DocumentStore, since time.Time) (indexer.SyncResult, error) {
	return s.indexer.Sync(ctx, store, since)
}

// RecordClick attaches a clicked document to a logged search. Unknown ids
// are ignored and reported as false.
func (s *Service) RecordClick(logID, docID string) bool {
	return s.log.AttachClick(logID, docID)
}

// Stats summarizes index and log state
type Stats struct {
	Documents      int   `json:"documents"`
	PopularQueries int   `json:"popular_queries"`
	PendingLogs    int   `json:"pending_logs"`
	DroppedLogs    int64 `json:"dropped_logs"`
}

// Stats returns current counters
func (s *Service) Stats() Stats {
	return Stats{
		Documents:      s.indexer.Count(),
		PopularQueries: s.log.PopularCount(),
		PendingLogs:    s.queue.Count(),
		DroppedLogs:    s.queue.Dropped(),
	}
}

// Close waits for queued log entries to be written
func (s *Service) Close() {
	s.queue.Close()
}
