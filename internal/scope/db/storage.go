package db

import (
	"context"
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// Storage is the interface for document storage.
// Both KVStore (embedded) and PostgresStore implement it.
type Storage interface {
	video.DocumentStore
	video.TombstoneSource

	// Put inserts or replaces a document and stamps its UpdatedAt
	Put(ctx context.Context, doc video.Document) (video.Document, error)

	// Delete removes a document and records a tombstone. Unknown ids are a no-op.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored documents
	Count(ctx context.Context) (int, error)

	// Close releases the store
	Close() error
}

// Ensure both stores implement Storage
var _ Storage = (*KVStore)(nil)
var _ Storage = (*PostgresStore)(nil)

// stamp sets UpdatedAt to now, keeping it strictly increasing per store so
// FetchChangedSince never misses a write made within the same clock tick
func stamp(doc *video.Document, now, last time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = ts
	}
	doc.UpdatedAt = ts
	return ts
}
