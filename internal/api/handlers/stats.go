package handlers

import (
	"net/http"
	"time"

	"appsentry/internal/domain/services"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/internal/streaming"
	"appsentry/pkg/logger"
)

// StatsHandler handles the public stats endpoint
type StatsHandler struct {
	stores    repository.Stores
	incidents *services.IncidentService
	wsHub     *streaming.WebSocketHub
	logger    *logger.Logger
}

// NewStatsHandler creates a new StatsHandler. wsHub may be nil.
func NewStatsHandler(stores repository.Stores, incidents *services.IncidentService, wsHub *streaming.WebSocketHub, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		stores:    stores,
		incidents: incidents,
		wsHub:     wsHub,
		logger:    log.WithComponent("stats-handler"),
	}
}

// StatsResponse summarizes stored state for dashboards
type StatsResponse struct {
	Baselines        int64            `json:"baselines"`
	IncidentsByState map[string]int64 `json:"incidents_by_status"`
	OpenIncidents    int64            `json:"open_incidents"`
	StreamClients    int              `json:"stream_clients"`
	Timestamp        string           `json:"timestamp"`
}

// Get handles GET /api/v1/stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	baselines, err := h.stores.Baselines.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count baselines")
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	counts, err := h.incidents.CountByStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count incidents")
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	byStatus := make(map[string]int64, len(counts))
	var open int64
	for status, n := range counts {
		byStatus[string(status)] = n
		if !status.IsTerminal() {
			open += n
		}
	}

	resp := StatsResponse{
		Baselines:        baselines,
		IncidentsByState: byStatus,
		OpenIncidents:    open,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	if h.wsHub != nil {
		resp.StreamClients = h.wsHub.ClientCount()
	}

	respondJSON(w, http.StatusOK, resp)
}
