package obs

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m.Registry() == nil {
		t.Fatal("registry not initialized")
	}
	if m.SearchDuration == nil || m.ReindexTotal == nil || m.QueryLogDropped == nil || m.HTTPRequestsTotal == nil {
		t.Error("collectors not initialized")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSearch("relevance", 3, time.Millisecond)
	m.IncSuggest("suggest")
	m.RecordReindex("indexed", 1)
	m.ObserveSync(time.Second)
	m.RecordQueryLog(true)
	m.SetPopularQueries(4)
	m.RecordWALAppend("search_logged", nil)
	m.RecordHTTPRequest("GET", "/search", "200", time.Millisecond)
}

func TestRecordQueryLog(t *testing.T) {
	m := NewMetrics()
	m.RecordQueryLog(false)
	m.RecordQueryLog(false)
	m.RecordQueryLog(true)

	if got := testutil.ToFloat64(m.QueryLogWritten); got != 2 {
		t.Errorf("expected 2 written, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueryLogDropped); got != 1 {
		t.Errorf("expected 1 dropped, got %v", got)
	}
}

func TestRecordReindex(t *testing.T) {
	m := NewMetrics()
	m.RecordReindex("indexed", 5)
	m.RecordReindex("deleted", 4)

	if got := testutil.ToFloat64(m.ReindexTotal.WithLabelValues("indexed")); got != 1 {
		t.Errorf("expected 1 indexed, got %v", got)
	}
	if got := testutil.ToFloat64(m.IndexedDocuments); got != 4 {
		t.Errorf("expected gauge 4, got %v", got)
	}
}

func TestRecordWALAppend(t *testing.T) {
	m := NewMetrics()
	m.RecordWALAppend("click_attached", nil)
	m.RecordWALAppend("click_attached", errors.New("disk full"))

	if got := testutil.ToFloat64(m.WALAppendTotal.WithLabelValues("click_attached", "error")); got != 1 {
		t.Errorf("expected 1 error append, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveSearch("relevance", 10, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vidsearch_search_duration_seconds") {
		t.Error("search duration histogram missing from exposition")
	}
}
