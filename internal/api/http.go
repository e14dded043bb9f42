package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/kalambet/folio/internal/metrics"
	"github.com/kalambet/folio/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ReindexRequester queues an asynchronous index rebuild.
type ReindexRequester interface {
	RequestReindex(ctx context.Context) error
}

type Deps struct {
	Service *pipeline.Service
	// Reindex queues rebuilds for POST /admin/reindex. When nil the rebuild
	// runs inline.
	Reindex ReindexRequester
	// AdminToken guards /admin. An empty token disables the admin routes.
	AdminToken string
}

// NewHandler returns the public HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/recommend", handleRecommend(deps))

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", handleListBooks(deps))
		r.Get("/books/{id}", handleGetBook(deps))
		r.Get("/read/{id}", handleRead(deps))
		r.Get("/global_feed", handleFeed(deps))
		r.Get("/search_external", handleSearchExternal(deps))
		r.Get("/library", handleLibrary(deps))
		r.Post("/purchase", handlePurchase(deps))
		r.Post("/onboarding", handleOnboarding(deps))
	})

	if deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Post("/reindex", handleReindex(deps))
		})
	}

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"index_size": deps.Service.IndexSize(),
		})
	}
}

// countRequests records every response under its route pattern, so path
// parameters do not explode label cardinality.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
