package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"appsentry/internal/domain/models"
	"appsentry/internal/domain/services"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/pkg/logger"
)

// IncidentsHandler handles incident lifecycle endpoints
type IncidentsHandler struct {
	incidents *services.IncidentService
	logger    *logger.Logger
}

// NewIncidentsHandler creates a new IncidentsHandler
func NewIncidentsHandler(incidents *services.IncidentService, log *logger.Logger) *IncidentsHandler {
	return &IncidentsHandler{
		incidents: incidents,
		logger:    log.WithComponent("incidents-handler"),
	}
}

// List handles GET /api/v1/incidents
func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.IncidentFilter{
		PackageName: r.URL.Query().Get("package"),
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.IncidentStatus(raw)
		if !status.Valid() {
			respondError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter.Status = status
	}

	incidents, total, err := h.incidents.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list incidents")
		respondError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":     incidents,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
		"has_more": int64(filter.Offset+len(incidents)) < total,
	})
}

// Get handles GET /api/v1/incidents/{id}
func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	incident, err := h.incidents.Get(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("incident", id.String()).Msg("failed to load incident")
		respondError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	if incident == nil {
		respondError(w, http.StatusNotFound, "incident not found")
		return
	}

	respondJSON(w, http.StatusOK, incident)
}

// StatusUpdateRequest is the incident status change payload
type StatusUpdateRequest struct {
	Status models.IncidentStatus `json:"status"`
}

// UpdateStatus handles POST /api/v1/incidents/{id}/status
func (h *IncidentsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status: "+string(req.Status))
		return
	}

	incident, err := h.incidents.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		var invalid *models.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			respondError(w, http.StatusConflict, invalid.Error())
		case errors.Is(err, services.ErrIncidentNotFound):
			respondError(w, http.StatusNotFound, "incident not found")
		default:
			h.logger.Error().Err(err).Str("incident", id.String()).Msg("failed to update incident status")
			respondError(w, http.StatusInternalServerError, "failed to update incident status")
		}
		return
	}

	respondJSON(w, http.StatusOK, incident)
}
