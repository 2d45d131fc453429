package db

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open
const (
	BackendBuntDB   = "buntdb"
	BackendPostgres = "postgres"
)

// Open opens the document store for backend. buntdb keeps videos.db under
// dataDir; postgres connects to dsn and migrates the schema, returning the
// connection so callers can share its pool. The returned DB is nil for buntdb.
func Open(ctx context.Context, backend, dataDir, dsn string) (Storage, *DB, error) {
	switch backend {
	case BackendBuntDB:
		store, err := OpenKVStore(filepath.Join(dataDir, "videos.db"))
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case BackendPostgres:
		database, err := New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := database.MigrateToLatest(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		return NewPostgresStore(database.Pool()), database, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
