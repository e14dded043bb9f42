package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/pipeline"
	"github.com/kalambet/folio/internal/storage"
)

const maxRecommendK = 50

type PurchaseRequest struct {
	UserID string     `json:"user_id"`
	BookID catalog.ID `json:"book_id"`
	// BookData carries the external book's metadata so it can be imported.
	BookData *catalog.Book `json:"book_data"`
}

type OnboardingRequest struct {
	UserID string   `json:"user_id"`
	Genres []string `json:"genres"`
}

type ReadResponse struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	URL   string `json:"url"`
}

func bookIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid book id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

func handleListBooks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := deps.Service.Books(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing books: %v", err)
			return
		}
		if books == nil {
			books = []catalog.Book{}
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleGetBook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookIDParam(w, r)
		if !ok {
			return
		}
		b, err := deps.Service.Book(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "book %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting book: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := bookIDParam(w, r)
		if !ok {
			return
		}
		b, u, err := deps.Service.ReadURL(r.Context(), id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "book %d not found", id)
			return
		case errors.Is(err, pipeline.ErrNotReadable):
			httpError(w, http.StatusNotFound, "not_found_error", "book %d has no readable edition", id)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "resolving reader: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ReadResponse{Title: b.Title, Type: "iframe", URL: u})
	}
}

func handleRecommend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("book_title")
		k := parseIntParam(r, "k", 0, maxRecommendK)

		books, err := deps.Service.Similar(r.Context(), title, k)
		if errors.Is(err, pipeline.ErrIndexNotReady) {
			httpError(w, http.StatusServiceUnavailable, "unavailable_error", "similarity index is not built yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recommending: %v", err)
			return
		}
		if books == nil {
			books = []catalog.Book{}
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleFeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		f, err := deps.Service.Feed(r.Context(), userID)
		if errors.Is(err, feed.ErrInsufficientGenrePool) {
			slog.Error("feed misconfigured", "error", err)
			httpError(w, http.StatusInternalServerError, "configuration_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "composing feed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}

func handleSearchExternal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books := deps.Service.SearchExternal(r.Context(), r.URL.Query().Get("q"))
		if books == nil {
			books = []catalog.Book{}
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			writeJSON(w, http.StatusOK, []storage.LibraryEntry{})
			return
		}
		lib, err := deps.Service.Library(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading library: %v", err)
			return
		}
		if lib == nil {
			lib = []storage.LibraryEntry{}
		}
		writeJSON(w, http.StatusOK, lib)
	}
}

func handlePurchase(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PurchaseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.BookID.IsZero() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "book_id is required")
			return
		}

		b := catalog.Book{ID: req.BookID}
		if req.BookID.IsExternal() {
			if req.BookData == nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "book_data is required for external books")
				return
			}
			b = *req.BookData
			b.ID = req.BookID
		}

		res, err := deps.Service.Purchase(r.Context(), req.UserID, b)
		switch {
		case errors.Is(err, pipeline.ErrMissingUser),
			errors.Is(err, catalog.ErrMissingArchiveID),
			errors.Is(err, catalog.ErrInvalidBook):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "book %s not found", req.BookID)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "purchase failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleOnboarding(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OnboardingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		err := deps.Service.Onboard(r.Context(), req.UserID, req.Genres)
		if errors.Is(err, pipeline.ErrMissingUser) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving onboarding: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindex != nil {
			if err := deps.Reindex.RequestReindex(r.Context()); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "queueing reindex: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
			return
		}
		n, err := deps.Service.Reindex(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reindex failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "index_size": n})
	}
}
