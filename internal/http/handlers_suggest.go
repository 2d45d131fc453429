package httpapi

import (
	"net/http"
	"time"

	"github.com/dsjohal14/vidsearch/internal/scope/search/suggest"
)

// defaultTrendWindow applies when GET /trending has no window parameter
const defaultTrendWindow = 24 * time.Hour

// HandleSuggest returns autocomplete candidates for a partial query
func (h *Handler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	partial := r.URL.Query().Get("q")
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		h.writeServiceError(w, err, "invalid suggest request")
		return
	}

	out, err := h.svc.Suggest(r.Context(), partial, limit)
	if err != nil {
		h.writeServiceError(w, err, "suggest failed")
		return
	}
	if out == nil {
		out = []suggest.Suggestion{}
	}

	writeJSON(w, http.StatusOK, SuggestResponse{Suggestions: out, Query: partial})
}

// HandleRelated returns popular queries similar to a query
func (h *Handler) HandleRelated(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		h.writeServiceError(w, err, "invalid related request")
		return
	}

	out, err := h.svc.Related(r.Context(), query, limit)
	if err != nil {
		h.writeServiceError(w, err, "related failed")
		return
	}
	if out == nil {
		out = []suggest.Related{}
	}

	writeJSON(w, http.StatusOK, RelatedResponse{Related: out, Query: query})
}

// HandleTrending returns the most searched queries in a trailing window
func (h *Handler) HandleTrending(w http.ResponseWriter, r *http.Request) {
	window, err := durationParam(r, "window", defaultTrendWindow)
	if err != nil {
		h.writeServiceError(w, err, "invalid trending request")
		return
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		h.writeServiceError(w, err, "invalid trending request")
		return
	}

	out, err := h.svc.Trending(r.Context(), window, limit)
	if err != nil {
		h.writeServiceError(w, err, "trending failed")
		return
	}
	if out == nil {
		out = []suggest.Trend{}
	}

	writeJSON(w, http.StatusOK, TrendingResponse{Trending: out, Window: window.String()})
}
