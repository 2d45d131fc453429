package querylog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/db/wal"
	"github.com/dsjohal14/vidsearch/internal/scope/search/trigram"
)

// searchRecord is the body of a SearchLogged record. Count is the popular
// counter after this search, so replay restores counters without recounting.
type searchRecord struct {
	Entry Entry `json:"entry"`
	Count int64 `json:"count"`
}

// clickRecord is the body of a ClickAttached record, keyed by entry id
type clickRecord struct {
	DocID string    `json:"doc_id"`
	At    time.Time `json:"at"`
}

// apply restores state from one recovered WAL record
func (l *Log) apply(rec *wal.Record) error {
	data, err := rec.Data()
	if err != nil {
		return err
	}
	key, body, err := wal.DecodeKeyedPayload(data)
	if err != nil {
		return err
	}

	switch rec.Type {
	case wal.RecordTypeSearchLogged:
		var sr searchRecord
		if err := json.Unmarshal(body, &sr); err != nil {
			return fmt.Errorf("failed to decode search record: %w", err)
		}
		e := sr.Entry
		if l.cfg.Retention <= 0 || !e.Timestamp.Before(l.now().Add(-l.cfg.Retention)) {
			l.entries.Store(key, &e)
		}
		if e.Normalized != "" {
			l.restorePopular(Popular{Text: e.Normalized, SearchCount: sr.Count, LastSearchedAt: e.Timestamp})
		}

	case wal.RecordTypeClickAttached:
		var cr clickRecord
		if err := json.Unmarshal(body, &cr); err != nil {
			return fmt.Errorf("failed to decode click record: %w", err)
		}
		if v, ok := l.entries.Load(key); ok {
			next := *v.(*Entry)
			next.ClickedDocID = cr.DocID
			l.entries.Store(key, &next)
		}

	case wal.RecordTypePopularSnapshot:
		var p Popular
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("failed to decode popular snapshot: %w", err)
		}
		l.restorePopular(p)

	default:
		return fmt.Errorf("unexpected record type %s", rec.Type)
	}
	return nil
}

// restorePopular keeps the higher of the stored and recovered counters
func (l *Log) restorePopular(p Popular) {
	prev := l.loadPopular(p.Text)
	if prev != nil {
		if prev.SearchCount >= p.SearchCount {
			return
		}
		if prev.LastSearchedAt.After(p.LastSearchedAt) {
			p.LastSearchedAt = prev.LastSearchedAt
		}
	} else {
		l.queries.IndexString(p.Text, trigram.FieldQuery, p.Text)
		l.nPopular.Add(1)
	}
	l.popular.Store(p.Text, &p)
}

// Reduce folds query-log records for compaction: each search becomes a
// snapshot of its query's counter, clicks are dropped and snapshots pass
// through. The compactor keeps the latest snapshot per query.
func Reduce(rec *wal.Record) (string, *wal.Record, bool, error) {
	switch rec.Type {
	case wal.RecordTypeClickAttached:
		return "", nil, false, nil

	case wal.RecordTypePopularSnapshot:
		key, err := wal.RecordKey(rec)
		if err != nil {
			return "", nil, false, err
		}
		return key, rec, true, nil

	case wal.RecordTypeSearchLogged:
		data, err := rec.Data()
		if err != nil {
			return "", nil, false, err
		}
		_, body, err := wal.DecodeKeyedPayload(data)
		if err != nil {
			return "", nil, false, err
		}
		var sr searchRecord
		if err := json.Unmarshal(body, &sr); err != nil {
			return "", nil, false, fmt.Errorf("failed to decode search record: %w", err)
		}
		if sr.Entry.Normalized == "" {
			return "", nil, false, nil
		}

		snapshot, err := json.Marshal(Popular{
			Text:           sr.Entry.Normalized,
			SearchCount:    sr.Count,
			LastSearchedAt: sr.Entry.Timestamp,
		})
		if err != nil {
			return "", nil, false, err
		}
		payload, err := wal.EncodeKeyedPayload(sr.Entry.Normalized, snapshot)
		if err != nil {
			return "", nil, false, err
		}
		out, err := wal.NewCompressedRecord(wal.RecordTypePopularSnapshot, rec.LSN, payload)
		if err != nil {
			return "", nil, false, err
		}
		return sr.Entry.Normalized, out, true, nil

	default:
		return "", nil, false, fmt.Errorf("unexpected record type %s", rec.Type)
	}
}
