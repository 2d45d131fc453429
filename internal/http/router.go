package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every API route onto a chi router
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/health", h.HandleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/videos", func(r chi.Router) {
		r.Post("/", h.HandleIngest)
		r.Delete("/{id}", h.HandleDelete)
		r.Post("/{id}/reindex", h.HandleReindex)
	})

	r.Get("/search", h.HandleSearch)
	r.Get("/suggest", h.HandleSuggest)
	r.Get("/related", h.HandleRelated)
	r.Get("/trending", h.HandleTrending)
	r.Post("/clicks", h.HandleClick)

	return r
}

// observe records request metrics by route pattern and logs each request
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)

		h.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), took)
		h.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", took).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
