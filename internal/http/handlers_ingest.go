package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// HandleIngest stores a video and makes it searchable
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("invalid ingest request")
		writeError(w, http.StatusBadRequest, "invalid JSON", "INVALID_JSON")
		return
	}
	if err := video.Validate(req); err != nil {
		h.writeServiceError(w, err, "invalid video")
		return
	}

	// the store stamps UpdatedAt, so index what it returns
	stored, err := h.store.Put(r.Context(), req.Document())
	if err != nil {
		h.writeServiceError(w, err, "failed to store video")
		return
	}
	if err := h.svc.Index(r.Context(), stored); err != nil {
		h.writeServiceError(w, err, "failed to index video")
		return
	}

	h.logger.Info().
		Str("doc_id", stored.ID).
		Str("title", stored.Title).
		Msg("video ingested")

	writeJSON(w, http.StatusCreated, MutationResponse{
		ID:        stored.ID,
		Success:   true,
		Message:   "video ingested",
		UpdatedAt: stored.UpdatedAt,
	})
}

// HandleDelete removes a video from the store and the indexes
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to delete video")
		return
	}
	if err := h.svc.Unindex(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to unindex video")
		return
	}

	h.logger.Info().Str("doc_id", id).Msg("video deleted")
	writeJSON(w, http.StatusOK, MutationResponse{ID: id, Success: true, Message: "video deleted"})
}

// HandleReindex refreshes one video from the store
func (h *Handler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.ReindexByID(r.Context(), h.store, id); err != nil {
		h.writeServiceError(w, err, "failed to reindex video")
		return
	}

	h.logger.Info().Str("doc_id", id).Msg("video reindexed")
	writeJSON(w, http.StatusOK, MutationResponse{ID: id, Success: true, Message: "video reindexed"})
}
