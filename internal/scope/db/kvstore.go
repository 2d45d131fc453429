package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/buntdb"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

const (
	videoPrefix = "video:"
	tombPrefix  = "tomb:"

	indexUpdated = "updated"
	indexDeleted = "deleted"
)

// kvRecord is the stored value; TS mirrors UpdatedAt as unix nanos for the index
type kvRecord struct {
	Doc video.Document `json:"doc"`
	TS  int64          `json:"ts"`
}

// KVStore is an embedded document store backed by buntdb
type KVStore struct {
	db     *buntdb.DB
	mu     sync.Mutex // orders UpdatedAt stamps
	last   time.Time
	now    func() time.Time
	logger zerolog.Logger
}

// OpenKVStore opens or creates a store at path. ":memory:" keeps it in memory.
func OpenKVStore(path string) (*KVStore, error) {
	bdb, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv store: %w", err)
	}

	if err := bdb.CreateIndex(indexUpdated, videoPrefix+"*", buntdb.IndexJSON("ts")); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("failed to create updated index: %w", err)
	}
	if err := bdb.CreateIndex(indexDeleted, tombPrefix+"*", buntdb.IndexInt); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("failed to create deleted index: %w", err)
	}

	s := &KVStore{db: bdb, now: time.Now, logger: obs.Logger("kvstore")}
	if err := s.loadWatermark(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	s.logger.Debug().Str("path", path).Time("watermark", s.last).Msg("kv store opened")
	return s, nil
}

// loadWatermark restores the latest stamp so reopened stores keep stamps increasing
func (s *KVStore) loadWatermark() error {
	return s.db.View(func(tx *buntdb.Tx) error {
		if err := tx.Descend(indexUpdated, func(_, value string) bool {
			var rec kvRecord
			if err := json.Unmarshal([]byte(value), &rec); err == nil {
				s.last = time.Unix(0, rec.TS).UTC()
			}
			return false
		}); err != nil {
			return err
		}
		return tx.Descend(indexDeleted, func(_, value string) bool {
			if ns, err := strconv.ParseInt(value, 10, 64); err == nil {
				if ts := time.Unix(0, ns).UTC(); ts.After(s.last) {
					s.last = ts
				}
			}
			return false
		})
	})
}

// Put inserts or replaces a document
func (s *KVStore) Put(ctx context.Context, doc video.Document) (video.Document, error) {
	if err := ctx.Err(); err != nil {
		return video.Document{}, err
	}
	if err := video.Validate(doc); err != nil {
		return video.Document{}, err
	}
	doc = doc.Clone()
	doc.Quality = video.NormalizeQuality(doc.Quality)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *buntdb.Tx) error {
		if doc.CreatedAt.IsZero() {
			if prev, ok := getDoc(tx, doc.ID); ok {
				doc.CreatedAt = prev.CreatedAt
			}
		}
		ts := stamp(&doc, s.now(), s.last)
		value, err := json.Marshal(kvRecord{Doc: doc, TS: ts.UnixNano()})
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(videoPrefix+doc.ID, string(value), nil); err != nil {
			return err
		}
		if _, err := tx.Delete(tombPrefix + doc.ID); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		s.last = ts
		return nil
	})
	if err != nil {
		return video.Document{}, fmt.Errorf("failed to put document %s: %w", doc.ID, err)
	}
	return doc, nil
}

// Delete removes a document and records a tombstone. Unknown ids are a no-op.
func (s *KVStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(videoPrefix + id); err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return nil
			}
			return err
		}
		var scratch video.Document
		ts := stamp(&scratch, s.now(), s.last)
		if _, _, err := tx.Set(tombPrefix+id, strconv.FormatInt(ts.UnixNano(), 10), nil); err != nil {
			return err
		}
		s.last = ts
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Fetch returns a single document or video.ErrNotFound
func (s *KVStore) Fetch(ctx context.Context, id string) (video.Document, error) {
	if err := ctx.Err(); err != nil {
		return video.Document{}, err
	}
	var doc video.Document
	var found bool
	err := s.db.View(func(tx *buntdb.Tx) error {
		doc, found = getDoc(tx, id)
		return nil
	})
	if err != nil {
		return video.Document{}, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	if !found {
		return video.Document{}, video.ErrNotFound
	}
	return doc, nil
}

// FetchChangedSince returns documents updated strictly after ts, oldest first
func (s *KVStore) FetchChangedSince(ctx context.Context, ts time.Time) ([]video.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since := unixNanos(ts)
	pivot := fmt.Sprintf(`{"ts":%d}`, since)

	var docs []video.Document
	var decodeErr error
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual(indexUpdated, pivot, func(key, value string) bool {
			var rec kvRecord
			if err := json.Unmarshal([]byte(value), &rec); err != nil {
				decodeErr = fmt.Errorf("failed to decode %s: %w", key, err)
				return false
			}
			if rec.TS > since {
				docs = append(docs, rec.Doc)
			}
			return true
		})
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch changed documents: %w", err)
	}
	return docs, nil
}

// FetchDeletedSince returns ids deleted strictly after ts
func (s *KVStore) FetchDeletedSince(ctx context.Context, ts time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since := unixNanos(ts)

	var ids []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual(indexDeleted, strconv.FormatInt(since, 10), func(key, value string) bool {
			if ns, err := strconv.ParseInt(value, 10, 64); err == nil && ns > since {
				ids = append(ids, strings.TrimPrefix(key, tombPrefix))
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deletions: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored documents
func (s *KVStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend(indexUpdated, func(_, _ string) bool {
			n++
			return true
		})
	})
	return n, err
}

// Close flushes and closes the store
func (s *KVStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close kv store: %w", err)
	}
	return nil
}

func getDoc(tx *buntdb.Tx, id string) (video.Document, bool) {
	value, err := tx.Get(videoPrefix + id)
	if err != nil {
		return video.Document{}, false
	}
	var rec kvRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return video.Document{}, false
	}
	return rec.Doc, true
}

// unixNanos maps ts onto the index key space; the zero time sorts before everything
func unixNanos(ts time.Time) int64 {
	if ts.IsZero() {
		return math.MinInt64
	}
	return ts.UnixNano()
}
