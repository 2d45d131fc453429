package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the search service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Search path
	SearchDuration *prometheus.HistogramVec
	SearchResults  prometheus.Histogram
	SuggestTotal   *prometheus.CounterVec

	// Indexing
	IndexedDocuments prometheus.Gauge
	ReindexTotal     *prometheus.CounterVec
	SyncDuration     prometheus.Histogram

	// Query log
	QueryLogWritten prometheus.Counter
	QueryLogDropped prometheus.Counter
	PopularQueries  prometheus.Gauge
	WALAppendTotal  *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a registry with every collector registered
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initSearchMetrics()
	m.initIndexMetrics()
	m.initQueryLogMetrics()
	m.initHTTPMetrics()
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) initSearchMetrics() {
	m.SearchDuration = promauto.With(m.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidsearch_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"sort"}, // relevance, date, views
	)

	m.SearchResults = promauto.With(m.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsearch_search_results",
			Help:    "Total matching documents per search",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)

	m.SuggestTotal = promauto.With(m.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsearch_suggest_requests_total",
			Help: "Suggestion engine calls by kind",
		},
		[]string{"kind"}, // suggest, related, trending
	)
}

func (m *Metrics) initIndexMetrics() {
	m.IndexedDocuments = promauto.With(m.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsearch_indexed_documents",
			Help: "Documents currently searchable",
		},
	)

	m.ReindexTotal = promauto.With(m.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsearch_reindex_total",
			Help: "Index mutations by outcome",
		},
		[]string{"status"}, // indexed, unchanged, deleted, failed
	)

	m.SyncDuration = promauto.With(m.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsearch_sync_duration_seconds",
			Help:    "Duration of incremental document store syncs",
			Buckets: prometheus.DefBuckets,
		},
	)
}

func (m *Metrics) initQueryLogMetrics() {
	m.QueryLogWritten = promauto.With(m.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "vidsearch_querylog_written_total",
			Help: "Search log entries recorded",
		},
	)

	m.QueryLogDropped = promauto.With(m.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "vidsearch_querylog_dropped_total",
			Help: "Search log entries dropped because the queue was full",
		},
	)

	m.PopularQueries = promauto.With(m.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsearch_popular_queries",
			Help: "Distinct normalized queries tracked",
		},
	)

	m.WALAppendTotal = promauto.With(m.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsearch_wal_append_total",
			Help: "Query log WAL appends by record type and status",
		},
		[]string{"type", "status"},
	)
}

func (m *Metrics) initHTTPMetrics() {
	m.HTTPRequestsTotal = promauto.With(m.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsearch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = promauto.With(m.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidsearch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// ObserveSearch records one search
func (m *Metrics) ObserveSearch(sort string, total int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(sort).Observe(d.Seconds())
	m.SearchResults.Observe(float64(total))
}

// IncSuggest counts a suggestion engine call
func (m *Metrics) IncSuggest(kind string) {
	if m == nil {
		return
	}
	m.SuggestTotal.WithLabelValues(kind).Inc()
}

// RecordReindex counts an index mutation and updates the document gauge
func (m *Metrics) RecordReindex(status string, indexed int) {
	if m == nil {
		return
	}
	m.ReindexTotal.WithLabelValues(status).Inc()
	m.IndexedDocuments.Set(float64(indexed))
}

// ObserveSync records the duration of one store sync
func (m *Metrics) ObserveSync(d time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(d.Seconds())
}

// RecordQueryLog counts a written or dropped log entry
func (m *Metrics) RecordQueryLog(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.QueryLogDropped.Inc()
		return
	}
	m.QueryLogWritten.Inc()
}

// SetPopularQueries updates the distinct query gauge
func (m *Metrics) SetPopularQueries(n int) {
	if m == nil {
		return
	}
	m.PopularQueries.Set(float64(n))
}

// RecordWALAppend counts a WAL append
func (m *Metrics) RecordWALAppend(recordType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.WALAppendTotal.WithLabelValues(recordType, status).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
