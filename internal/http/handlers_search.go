package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dsjohal14/vidsearch/internal/scope/search"
	"github.com/dsjohal14/vidsearch/internal/scope/search/rank"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// parseSearchParams reads and validates the GET /search query string
func parseSearchParams(r *http.Request) (SearchParams, error) {
	q := r.URL.Query()
	p := SearchParams{
		Query:    q.Get("q"),
		Sort:     q.Get("sort"),
		CallerID: q.Get("caller_id"),
		Filters: video.FilterSet{
			Quality: video.NormalizeQuality(q.Get("quality")),
			Channel: q.Get("channel"),
		},
	}

	var err error
	if p.Limit, err = intParam(r, "limit", defaultLimit); err != nil {
		return p, err
	}
	if p.Offset, err = intParam(r, "offset", 0); err != nil {
		return p, err
	}
	if p.Filters.MinDuration, err = optionalIntParam(r, "min_duration"); err != nil {
		return p, err
	}
	if p.Filters.MaxDuration, err = optionalIntParam(r, "max_duration"); err != nil {
		return p, err
	}
	if p.Filters.DateFrom, err = timeParam(r, "date_from"); err != nil {
		return p, err
	}
	if p.Filters.DateTo, err = timeParam(r, "date_to"); err != nil {
		return p, err
	}

	if err := video.Validate(p); err != nil {
		return p, err
	}
	return p, p.Filters.Validate()
}

// HandleSearch ranks videos for a text query with optional filters
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	p, err := parseSearchParams(r)
	if err != nil {
		h.writeServiceError(w, err, "invalid search request")
		return
	}
	sortBy, err := rank.ParseSort(p.Sort)
	if err != nil {
		h.writeServiceError(w, err, "invalid search request")
		return
	}

	resp, err := h.svc.Search(r.Context(), search.Request{
		Query:    p.Query,
		Filters:  p.Filters,
		Sort:     sortBy,
		Limit:    p.Limit,
		Offset:   p.Offset,
		CallerID: p.CallerID,
	})
	if err != nil {
		h.writeServiceError(w, err, "search failed")
		return
	}

	results := make([]SearchResult, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = SearchResult{
			DocID:           res.DocID,
			Score:           res.Score,
			Breakdown:       res.Breakdown,
			Title:           res.Doc.Title,
			ChannelName:     res.Doc.ChannelName,
			Views:           res.Doc.Views,
			Likes:           res.Doc.Likes,
			DurationSeconds: res.Doc.DurationSeconds,
			Quality:         res.Doc.Quality,
			ThumbnailURL:    res.Doc.ThumbnailURL,
			VideoURL:        res.Doc.VideoURL,
			CreatedAt:       res.Doc.CreatedAt,
		}
	}

	h.logger.Info().
		Str("query", p.Query).
		Str("sort", string(sortBy)).
		Int("results", resp.Total).
		Int("limit", p.Limit).
		Msg("search completed")

	writeJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Count:   len(results),
		Total:   resp.Total,
		Query:   p.Query,
		LogID:   resp.LogID,
	})
}

// HandleClick attaches a clicked video to a logged search
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("invalid click request")
		writeError(w, http.StatusBadRequest, "invalid JSON", "INVALID_JSON")
		return
	}
	if err := video.Validate(req); err != nil {
		h.writeServiceError(w, err, "invalid click")
		return
	}

	if !h.svc.RecordClick(req.LogID, req.DocID) {
		writeError(w, http.StatusNotFound, "unknown search log id", "UNKNOWN_LOG")
		return
	}

	h.logger.Debug().Str("log_id", req.LogID).Str("doc_id", req.DocID).Msg("click recorded")
	writeJSON(w, http.StatusOK, ClickResponse{LogID: req.LogID, Attached: true})
}
