// Package video defines the searchable video document, caller filters and the
// document store contract the search core consumes.
package video

import (
	"context"
	"strings"
	"time"
)

// Document is one searchable video
type Document struct {
	ID              string    `json:"id" validate:"required,max=255"`
	Title           string    `json:"title" validate:"max=1000"`
	Description     string    `json:"description,omitempty"`
	ChannelName     string    `json:"channel_name,omitempty" validate:"max=255"`
	Keywords        []string  `json:"keywords,omitempty" validate:"max=100"`
	Views           int64     `json:"views"`
	Likes           int64     `json:"likes"`
	DurationSeconds int       `json:"duration_seconds,omitempty" validate:"min=0"`
	Quality         string    `json:"quality,omitempty" validate:"omitempty,oneof=sd hd fhd uhd"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with d
func (d Document) Clone() Document {
	if d.Keywords != nil {
		kw := make([]string, len(d.Keywords))
		copy(kw, d.Keywords)
		d.Keywords = kw
	}
	return d
}

// Equal reports whether two documents carry the same content. UpdatedAt is ignored.
func (d Document) Equal(o Document) bool {
	if d.ID != o.ID || d.Title != o.Title || d.Description != o.Description ||
		d.ChannelName != o.ChannelName || d.Views != o.Views || d.Likes != o.Likes ||
		d.DurationSeconds != o.DurationSeconds || d.Quality != o.Quality ||
		d.ThumbnailURL != o.ThumbnailURL || d.VideoURL != o.VideoURL ||
		!d.CreatedAt.Equal(o.CreatedAt) || len(d.Keywords) != len(o.Keywords) {
		return false
	}
	for i := range d.Keywords {
		if d.Keywords[i] != o.Keywords[i] {
			return false
		}
	}
	return true
}

// Quality levels accepted by the quality filter
const (
	QualitySD  = "sd"
	QualityHD  = "hd"
	QualityFHD = "fhd"
	QualityUHD = "uhd"
)

// NormalizeQuality lowercases and trims a quality label
func NormalizeQuality(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// DocumentStore is the external collaborator the indexer reads video metadata from
type DocumentStore interface {
	// FetchChangedSince returns documents created or updated strictly after ts
	FetchChangedSince(ctx context.Context, ts time.Time) ([]Document, error)

	// Fetch returns a single document or ErrNotFound
	Fetch(ctx context.Context, id string) (Document, error)
}

// TombstoneSource is implemented by stores that can list deletions for incremental sync
type TombstoneSource interface {
	FetchDeletedSince(ctx context.Context, ts time.Time) ([]string, error)
}
