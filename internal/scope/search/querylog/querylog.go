// Package querylog records searches and clicks, aggregates popular queries and
// persists both through the write-ahead log.
package querylog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/keylock"
	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/db/wal"
	"github.com/dsjohal14/vidsearch/internal/scope/search/tokenize"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
)

// Entry is one logged search. Entries are immutable once published; a click
// publishes a copy.
type Entry struct {
	ID           string            `json:"id"`
	Query        string            `json:"query"`
	Normalized   string            `json:"normalized"`
	CallerID     string            `json:"caller_id,omitempty"`
	ResultsCount int               `json:"results_count"`
	ClickedDocID string            `json:"clicked_doc_id,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Popular is the aggregate for one normalized query
type Popular struct {
	Text           string    `json:"text"`
	SearchCount    int64     `json:"search_count"`
	LastSearchedAt time.Time `json:"last_searched_at"`
}

// Match is a popular query scored against another query
type Match struct {
	Popular
	Similarity float64
}

// Config controls durability and retention of the log
type Config struct {
	// Dir holds WAL segments; empty keeps the log in memory only
	Dir string

	SyncPolicy     wal.SyncPolicy
	MaxSegmentSize int64
	Compress       bool

	// Retention bounds how long individual entries are kept (0 = forever).
	// Popular counters are kept forever.
	Retention time.Duration

	// SegmentMaxAge forces rotation of the active segment so it can be compacted
	SegmentMaxAge time.Duration

	// MaintenanceInterval is how often Start runs rotation, expiry and compaction
	MaintenanceInterval time.Duration
}

// DefaultConfig returns an in-memory configuration with a week of retention
func DefaultConfig() Config {
	return Config{
		SyncPolicy:          wal.DefaultSyncPolicy(),
		MaxSegmentSize:      wal.DefaultMaxSegmentSize,
		Compress:            true,
		Retention:           7 * 24 * time.Hour,
		SegmentMaxAge:       time.Hour,
		MaintenanceInterval: 5 * time.Minute,
	}
}

// Option configures a Log
type Option func(*Log)

// WithManifest tracks WAL segments in a manifest store
func WithManifest(m wal.ManifestStore) Option {
	return func(l *Log) {
		l.manifest = m
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *obs.Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Log is the query log and trend aggregator. Readers take no locks.
type Log struct {
	cfg      Config
	entries  sync.Map // id -> *Entry
	popular  sync.Map // normalized text -> *Popular
	nPopular atomic.Int64
	queries  *trigram.Index
	locks    *keylock.Striped

	manifest  wal.ManifestStore
	writer    *wal.WALWriter
	roller    *wal.SegmentRoller
	compactor *wal.Compactor

	metrics *obs.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Open creates a log, replaying any WAL segments found in cfg.Dir
func Open(ctx context.Context, cfg Config, opts ...Option) (*Log, error) {
	l := &Log{
		cfg:     cfg,
		queries: trigram.New(),
		locks:   keylock.NewStriped(0),
		logger:  obs.Logger("querylog"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.Dir == "" {
		return l, nil
	}

	rm := wal.NewRecoveryManager(l.manifest, cfg.Dir)
	stats, err := rm.Recover(ctx, l.apply)
	if err != nil {
		return nil, fmt.Errorf("failed to recover query log: %w", err)
	}

	segmentID := stats.LatestWALSegment
	if _, latest, err := wal.FindLatestWALSegment(cfg.Dir); err == nil && latest > segmentID {
		segmentID = latest
	}
	if segmentID == 0 {
		segmentID = 1
	}

	writerOpts := []wal.WALWriterOption{
		wal.WithSyncPolicy(cfg.SyncPolicy),
		wal.WithCompression(cfg.Compress),
		wal.WithInitialLSN(stats.NextLSN()),
		wal.WithInitialSegmentID(segmentID),
	}
	if cfg.MaxSegmentSize > 0 {
		writerOpts = append(writerOpts, wal.WithMaxSegmentSize(cfg.MaxSegmentSize))
	}
	if l.manifest != nil {
		writerOpts = append(writerOpts, wal.WithManifest(l.manifest))
	}

	writer, err := wal.NewWALWriter(cfg.Dir, writerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open query log WAL: %w", err)
	}
	l.writer = writer
	l.roller = wal.NewSegmentRoller(cfg.Dir, l.manifest, wal.WithMaxAge(cfg.SegmentMaxAge))

	if l.manifest != nil {
		ccfg := wal.DefaultCompactorConfig()
		ccfg.MinSegmentAge = cfg.Retention
		ccfg.TmpDir = filepath.Join(cfg.Dir, ".tmp")
		l.compactor = wal.NewCompactor(l.manifest, Reduce, cfg.Dir, ccfg)
	}

	l.metrics.SetPopularQueries(l.PopularCount())
	l.logger.Info().
		Int("entries", stats.RecordsApplied).
		Int("popular", l.PopularCount()).
		Uint64("next_lsn", stats.NextLSN()).
		Msg("query log opened")
	return l, nil
}

// LogSearch records a search and bumps its popular counter. It always
// succeeds: persistence failures are logged and counted, never returned.
// An empty ID is assigned a new UUID; the entry ID is returned.
func (l *Log) LogSearch(e Entry) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Normalized = tokenize.NormalizeQuery(e.Query)
	if len(e.Filters) > 0 {
		filters := make(map[string]string, len(e.Filters))
		for k, v := range e.Filters {
			filters[k] = v
		}
		e.Filters = filters
	}

	entry := &e

	// queries without tokens are logged but have no popular key
	var count int64
	if entry.Normalized != "" {
		unlock := l.locks.Lock(entry.Normalized)
		defer unlock()

		count = l.bump(entry.Normalized, entry.Timestamp)
	}

	// visible to AttachClick only once its record is appended
	err := l.appendRecord(wal.RecordTypeSearchLogged, entry.ID, searchRecord{Entry: *entry, Count: count})
	l.entries.Store(entry.ID, entry)
	if err == nil {
		l.metrics.RecordQueryLog(false)
	}
	return entry.ID
}

// bump increments the popular counter; the caller holds the key lock
func (l *Log) bump(text string, at time.Time) int64 {
	next := &Popular{Text: text, SearchCount: 1, LastSearchedAt: at}
	if prev := l.loadPopular(text); prev != nil {
		next.SearchCount = prev.SearchCount + 1
		if prev.LastSearchedAt.After(at) {
			next.LastSearchedAt = prev.LastSearchedAt
		}
	} else {
		l.queries.IndexString(text, trigram.FieldQuery, text)
		l.metrics.SetPopularQueries(int(l.nPopular.Add(1)))
	}
	l.popular.Store(text, next)
	return next.SearchCount
}

// AttachClick records a click on docID for a logged search. Unknown ids are a no-op.
func (l *Log) AttachClick(id, docID string) bool {
	unlock := l.locks.Lock(id)
	defer unlock()

	prev, ok := l.entries.Load(id)
	if !ok {
		return false
	}
	next := *prev.(*Entry)
	next.ClickedDocID = docID
	l.entries.Store(id, &next)

	_ = l.appendRecord(wal.RecordTypeClickAttached, id, clickRecord{DocID: docID, At: l.now()})
	return true
}

// Get returns a logged entry
func (l *Log) Get(id string) (Entry, bool) {
	v, ok := l.entries.Load(id)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// Popular returns the aggregate for a query, normalizing it first
func (l *Log) Popular(query string) (Popular, bool) {
	p := l.loadPopular(tokenize.NormalizeQuery(query))
	if p == nil {
		return Popular{}, false
	}
	return *p, true
}

// PopularCount returns the number of distinct normalized queries
func (l *Log) PopularCount() int {
	return int(l.nPopular.Load())
}

// PrefixPopular returns popular queries starting with the normalized prefix,
// most searched first, then by text
func (l *Log) PrefixPopular(prefix string, limit int) []Popular {
	if limit <= 0 {
		return []Popular{}
	}
	p := tokenize.Fold(prefix)
	if p == "" {
		return []Popular{}
	}

	var out []Popular
	l.popular.Range(func(_, v any) bool {
		pq := v.(*Popular)
		if strings.HasPrefix(pq.Text, p) {
			out = append(out, *pq)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SearchCount != out[j].SearchCount {
			return out[i].SearchCount > out[j].SearchCount
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		return []Popular{}
	}
	return out
}

// SimilarPopular returns popular queries whose trigram similarity to query
// exceeds minSimilarity, excluding the query itself. Results are ordered by
// similarity then search count, both descending.
func (l *Log) SimilarPopular(query string, minSimilarity float64, limit int) []Match {
	if limit <= 0 {
		return []Match{}
	}
	self := tokenize.NormalizeQuery(query)
	if self == "" {
		return []Match{}
	}

	// every candidate above the threshold, so search count can break similarity ties
	candidates := l.queries.Similar(self, minSimilarity, l.PopularCount()+1, trigram.FieldQuery)
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		// short-string matches bypass the threshold inside the index
		if c.ID == self || c.Similarity <= minSimilarity {
			continue
		}
		p := l.loadPopular(c.ID)
		if p == nil {
			continue
		}
		out = append(out, Match{Popular: *p, Similarity: c.Similarity})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].SearchCount != out[j].SearchCount {
			return out[i].SearchCount > out[j].SearchCount
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Recent returns entries logged at or after since, in no particular order
func (l *Log) Recent(since time.Time) []Entry {
	var out []Entry
	l.entries.Range(func(_, v any) bool {
		e := v.(*Entry)
		if !e.Timestamp.Before(since) {
			out = append(out, *e)
		}
		return true
	})
	return out
}

// Expire drops entries older than the retention window. Popular counters stay.
func (l *Log) Expire() int {
	if l.cfg.Retention <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.cfg.Retention)
	expired := 0
	l.entries.Range(func(k, v any) bool {
		if v.(*Entry).Timestamp.Before(cutoff) && l.entries.CompareAndDelete(k, v) {
			expired++
		}
		return true
	})
	return expired
}

// Maintain runs one round of expiry, segment rotation and compaction
func (l *Log) Maintain(ctx context.Context) error {
	expired := l.Expire()
	if l.writer == nil {
		return nil
	}

	reason, err := l.roller.RotateIfDue(l.writer)
	if err != nil {
		return fmt.Errorf("failed to rotate query log segment: %w", err)
	}

	var compacted int
	if l.compactor != nil {
		stats, err := l.compactor.Compact(ctx)
		if err != nil {
			return fmt.Errorf("failed to compact query log: %w", err)
		}
		compacted = stats.SegmentsMerged
		if _, err := l.roller.CleanupOldSegments(ctx); err != nil {
			return err
		}
	}

	l.logger.Debug().
		Int("expired", expired).
		Str("rotated", reason).
		Int("compacted_segments", compacted).
		Msg("query log maintenance")
	return nil
}

// Start runs Maintain every MaintenanceInterval until ctx ends or Close is called
func (l *Log) Start(ctx context.Context) {
	if l.cfg.MaintenanceInterval <= 0 || l.stopCh != nil {
		return
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(l.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				if err := l.Maintain(ctx); err != nil {
					l.logger.Error().Err(err).Msg("query log maintenance failed")
				}
			}
		}
	}()
}

// Close stops maintenance and flushes the WAL
func (l *Log) Close() error {
	l.stopOnce.Do(func() {
		if l.stopCh != nil {
			close(l.stopCh)
			<-l.doneCh
		}
	})
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			return fmt.Errorf("failed to close query log WAL: %w", err)
		}
	}
	return nil
}

func (l *Log) loadPopular(text string) *Popular {
	v, ok := l.popular.Load(text)
	if !ok {
		return nil
	}
	return v.(*Popular)
}

// appendRecord persists a record; failures are logged and returned
func (l *Log) appendRecord(recType wal.RecordType, key string, body any) error {
	if l.writer == nil {
		return nil
	}
	data, err := json.Marshal(body)
	if err == nil {
		_, err = l.writer.AppendKeyed(recType, key, data)
	}
	l.metrics.RecordWALAppend(recType.String(), err)
	if err != nil {
		l.logger.Error().Err(err).Str("type", recType.String()).Str("key", key).Msg("failed to persist query log record")
		return fmt.Errorf("failed to append %s record: %w", recType, err)
	}
	return nil
}
