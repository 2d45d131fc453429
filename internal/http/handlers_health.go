package httpapi

import "net/http"

// HandleHealth returns API health status and index counters
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()
	resp := HealthResponse{
		Status:         "healthy",
		DocCount:       stats.Documents,
		PopularQueries: stats.PopularQueries,
		PendingLogs:    stats.PendingLogs,
		DroppedLogs:    stats.DroppedLogs,
	}

	stored, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("store count failed")
		resp.Status = "degraded"
	}
	resp.StoredCount = stored

	h.logger.Debug().Int("doc_count", resp.DocCount).Str("status", resp.Status).Msg("health check")

	writeJSON(w, http.StatusOK, resp)
}
