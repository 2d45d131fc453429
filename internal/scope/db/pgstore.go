package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

const videoColumns = `id, title, description, channel_name, keywords, views, likes,
	duration_seconds, quality, thumbnail_url, video_url, created_at, updated_at`

// PostgresStore is a document store backed by the videos table
type PostgresStore struct {
	pool *pgxpool.Pool
	mu   sync.Mutex // orders UpdatedAt stamps from this process
	last time.Time
	now  func() time.Time
}

// NewPostgresStore creates a store over a migrated database
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Put inserts or replaces a document
func (s *PostgresStore) Put(ctx context.Context, doc video.Document) (video.Document, error) {
	if err := video.Validate(doc); err != nil {
		return video.Document{}, err
	}
	doc = doc.Clone()
	doc.Quality = video.NormalizeQuality(doc.Quality)
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keepCreated := doc.CreatedAt.IsZero()
	ts := stamp(&doc, s.now(), s.last)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO videos (`+videoColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title, description = EXCLUDED.description,
			    channel_name = EXCLUDED.channel_name, keywords = EXCLUDED.keywords,
			    views = EXCLUDED.views, likes = EXCLUDED.likes,
			    duration_seconds = EXCLUDED.duration_seconds, quality = EXCLUDED.quality,
			    thumbnail_url = EXCLUDED.thumbnail_url, video_url = EXCLUDED.video_url,
			    created_at = CASE WHEN $14 THEN videos.created_at ELSE EXCLUDED.created_at END,
			    updated_at = EXCLUDED.updated_at
			RETURNING created_at
		`, doc.ID, doc.Title, doc.Description, doc.ChannelName, doc.Keywords, doc.Views, doc.Likes,
			doc.DurationSeconds, doc.Quality, doc.ThumbnailURL, doc.VideoURL, doc.CreatedAt, doc.UpdatedAt,
			keepCreated)
		if err := row.Scan(&doc.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM video_tombstones WHERE id = $1`, doc.ID)
		return err
	})
	if err != nil {
		return video.Document{}, fmt.Errorf("failed to put document %s: %w", doc.ID, err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	s.last = ts
	return doc, nil
}

// Delete removes a document and records a tombstone. Unknown ids are a no-op.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var scratch video.Document
	ts := stamp(&scratch, s.now(), s.last)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO video_tombstones (id, deleted_at) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET deleted_at = EXCLUDED.deleted_at
		`, id, ts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	s.last = ts
	return nil
}

// Fetch returns a single document or video.ErrNotFound
func (s *PostgresStore) Fetch(ctx context.Context, id string) (video.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	doc, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return video.Document{}, video.ErrNotFound
	}
	if err != nil {
		return video.Document{}, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	return doc, nil
}

// FetchChangedSince returns documents updated strictly after ts, oldest first
func (s *PostgresStore) FetchChangedSince(ctx context.Context, ts time.Time) ([]video.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE updated_at > $1
		ORDER BY updated_at ASC, id ASC
	`, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch changed documents: %w", err)
	}
	defer rows.Close()

	var docs []video.Document
	for rows.Next() {
		doc, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FetchDeletedSince returns ids deleted strictly after ts
func (s *PostgresStore) FetchDeletedSince(ctx context.Context, ts time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM video_tombstones WHERE deleted_at > $1 ORDER BY deleted_at ASC
	`, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deletions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan deletions: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored documents
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the pool belongs to the caller
func (s *PostgresStore) Close() error {
	return nil
}

func scanVideo(row pgx.Row) (video.Document, error) {
	var doc video.Document
	var duration int32
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Description, &doc.ChannelName, &doc.Keywords, &doc.Views, &doc.Likes,
		&duration, &doc.Quality, &doc.ThumbnailURL, &doc.VideoURL, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return video.Document{}, err
	}
	doc.DurationSeconds = int(duration)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	if len(doc.Keywords) == 0 {
		doc.Keywords = nil
	}
	return doc, nil
}
