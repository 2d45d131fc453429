package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsjohal14/vidsearch/internal/libs/obs"
	"github.com/dsjohal14/vidsearch/internal/scope/db"
	"github.com/dsjohal14/vidsearch/internal/scope/search"
	"github.com/dsjohal14/vidsearch/internal/scope/video"
)

// defaultLimit applies when a list endpoint gets no limit parameter
const defaultLimit = 10

// Handler contains HTTP handlers for the API
type Handler struct {
	svc     *search.Service
	store   db.Storage
	metrics *obs.Metrics
	logger  zerolog.Logger
}

// NewHandler creates a new HTTP handler. metrics may be nil.
func NewHandler(svc *search.Service, store db.Storage, metrics *obs.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Helper functions used across all handlers

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with the given status code
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeServiceError maps a core error onto a status code
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, video.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "INVALID_REQUEST", Details: err.Error()})
	case errors.Is(err, video.ErrNotFound):
		writeError(w, http.StatusNotFound, msg, "NOT_FOUND")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, msg, "CANCELLED")
	default:
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg, "INTERNAL")
	}
}

// intParam reads an integer query parameter, returning fallback when absent
func intParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", video.ErrValidation, name, v)
	}
	return n, nil
}

// optionalIntParam reads an integer query parameter that may be absent
func optionalIntParam(r *http.Request, name string) (*int, error) {
	if r.URL.Query().Get(name) == "" {
		return nil, nil
	}
	n, err := intParam(r, name, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// timeParam reads an RFC 3339 timestamp or a YYYY-MM-DD date
func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD, got %q", video.ErrValidation, name, v)
}

// durationParam reads a Go duration such as 24h, returning fallback when absent
func durationParam(r *http.Request, name string, fallback time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration such as 24h, got %q", video.ErrValidation, name, v)
	}
	return d, nil
}
