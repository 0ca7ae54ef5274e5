package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"appsentry/internal/infrastructure/cache"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/pkg/logger"
)

// BaselinesHandler handles baseline record endpoints
type BaselinesHandler struct {
	store  repository.BaselineStore
	cache  *cache.RedisCache
	logger *logger.Logger
}

// NewBaselinesHandler creates a new BaselinesHandler. cache may be nil.
func NewBaselinesHandler(store repository.BaselineStore, c *cache.RedisCache, log *logger.Logger) *BaselinesHandler {
	return &BaselinesHandler{
		store:  store,
		cache:  c,
		logger: log.WithComponent("baselines-handler"),
	}
}

// List handles GET /api/v1/baselines
func (h *BaselinesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list baselines")
		respondError(w, http.StatusInternalServerError, "failed to list baselines")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":     records,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": int64(offset+len(records)) < total,
	})
}

// Get handles GET /api/v1/baselines/{package}
func (h *BaselinesHandler) Get(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")

	record, err := h.store.Get(r.Context(), packageName)
	if err != nil {
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to load baseline")
		respondError(w, http.StatusInternalServerError, "failed to load baseline")
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "baseline not found")
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// Delete handles DELETE /api/v1/baselines/{package}. Removing a baseline
// makes the next scan of the package a first scan again.
func (h *BaselinesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	packageName := chi.URLParam(r, "package")

	if err := h.store.Delete(r.Context(), packageName); err != nil {
		h.logger.Error().Err(err).Str("package", packageName).Msg("failed to delete baseline")
		respondError(w, http.StatusInternalServerError, "failed to delete baseline")
		return
	}

	if h.cache != nil {
		if err := h.cache.InvalidateVerdict(r.Context(), packageName); err != nil {
			h.logger.Warn().Err(err).Str("package", packageName).Msg("failed to invalidate cached verdict")
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"package": packageName,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
