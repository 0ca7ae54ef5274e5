package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"appsentry/internal/domain/services"
	"appsentry/internal/infrastructure/cache"
	"appsentry/internal/infrastructure/database/repository"
	"appsentry/internal/streaming"
	"appsentry/pkg/logger"
)

// Pinger checks backing-store liveness for the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all API handlers
type Handlers struct {
	Health    *HealthHandler
	Scan      *ScanHandler
	Baselines *BaselinesHandler
	Incidents *IncidentsHandler
	Stats     *StatsHandler
	Streaming *StreamingHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Scans     *services.ScanService
	Incidents *services.IncidentService
	Stores    repository.Stores
	Cache     *cache.RedisCache
	DB        Pinger
	EventBus  *streaming.EventBus
	WSHub     *streaming.WebSocketHub
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Cache, deps.DB, deps.Logger),
		Scan:      NewScanHandler(deps.Scans, deps.Logger),
		Baselines: NewBaselinesHandler(deps.Stores.Baselines, deps.Cache, deps.Logger),
		Incidents: NewIncidentsHandler(deps.Incidents, deps.Logger),
		Stats:     NewStatsHandler(deps.Stores, deps.Incidents, deps.WSHub, deps.Logger),
		Streaming: NewStreamingHandler(deps.WSHub, deps.EventBus, deps.Logger),
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
