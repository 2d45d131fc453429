// Package httpapi provides HTTP handlers and data transfer objects for the vidsearch API.
package httpapi

import (
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/search/rank"
	"github.com/dsjohal14/vidsearch/internal/scope/search/suggest"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status"`
	DocCount       int    `json:"doc_count"`
	StoredCount    int    `json:"stored_count"`
	PopularQueries int    `json:"popular_queries"`
	PendingLogs    int    `json:"pending_logs"`
	DroppedLogs    int64  `json:"dropped_logs"`
}

// IngestRequest carries one video to store and index
type IngestRequest struct {
	ID              string    `json:"id" validate:"required,max=255"`
	Title           string    `json:"title" validate:"required,max=1000"`
	Description     string    `json:"description,omitempty"`
	ChannelName     string    `json:"channel_name,omitempty" validate:"max=255"`
	Keywords        []string  `json:"keywords,omitempty" validate:"max=100,dive,max=255"`
	Views           int64     `json:"views"`
	Likes           int64     `json:"likes"`
	DurationSeconds int       `json:"duration_seconds,omitempty" validate:"min=0"`
	Quality         string    `json:"quality,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty" validate:"omitempty,url"`
	VideoURL        string    `json:"video_url,omitempty" validate:"omitempty,url"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// Document converts the request into a store document
func (r IngestRequest) Document() video.Document {
	return video.Document{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		ChannelName:     r.ChannelName,
		Keywords:        r.Keywords,
		Views:           r.Views,
		Likes:           r.Likes,
		DurationSeconds: r.DurationSeconds,
		Quality:         video.NormalizeQuality(r.Quality),
		ThumbnailURL:    r.ThumbnailURL,
		VideoURL:        r.VideoURL,
		CreatedAt:       r.CreatedAt,
	}
}

// MutationResponse acknowledges a write to a video
type MutationResponse struct {
	ID        string    `json:"id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SearchParams are the query string parameters of GET /search
type SearchParams struct {
	Query    string `validate:"max=500"`
	Sort     string `validate:"omitempty,oneof=relevance date views"`
	Limit    int    `validate:"max=100"`
	Offset   int
	CallerID string `validate:"max=255"`
	Filters  video.FilterSet
}

// SearchResult represents a single ranked video
type SearchResult struct {
	DocID           string         `json:"doc_id"`
	Score           float64        `json:"score"`
	Breakdown       rank.Breakdown `json:"breakdown"`
	Title           string         `json:"title"`
	ChannelName     string         `json:"channel_name,omitempty"`
	Views           int64          `json:"views"`
	Likes           int64          `json:"likes"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	Quality         string         `json:"quality,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	VideoURL        string         `json:"video_url,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// SearchResponse represents one page of search results
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
	LogID   string         `json:"log_id,omitempty"`
}

// SuggestResponse lists autocomplete candidates
type SuggestResponse struct {
	Suggestions []suggest.Suggestion `json:"suggestions"`
	Query       string               `json:"query"`
}

// RelatedResponse lists popular queries similar to the asked one
type RelatedResponse struct {
	Related []suggest.Related `json:"related"`
	Query   string            `json:"query"`
}

// TrendingResponse lists the most searched queries in a window
type TrendingResponse struct {
	Trending []suggest.Trend `json:"trending"`
	Window   string          `json:"window"`
}

// ClickRequest attaches a clicked video to a logged search
type ClickRequest struct {
	LogID string `json:"log_id" validate:"required,uuid"`
	DocID string `json:"doc_id" validate:"required,max=255"`
}

// ClickResponse acknowledges a click
type ClickResponse struct {
	LogID    string `json:"log_id"`
	Attached bool   `json:"attached"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
