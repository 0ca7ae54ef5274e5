package handlers

import (
	"encoding/json"
	"net/http"

	"appsentry/internal/domain/models"
	"appsentry/internal/domain/services"
	"appsentry/pkg/logger"
)

// ScanHandler handles device and single-app scan endpoints
type ScanHandler struct {
	scans  *services.ScanService
	logger *logger.Logger
}

// NewScanHandler creates a new ScanHandler
func NewScanHandler(scans *services.ScanService, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		scans:  scans,
		logger: log.WithComponent("scan-handler"),
	}
}

// ScanDevice handles POST /api/v1/scan
func (h *ScanHandler) ScanDevice(w http.ResponseWriter, r *http.Request) {
	var input services.DeviceScanInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(input.Apps) == 0 {
		respondError(w, http.StatusBadRequest, "apps is required")
		return
	}

	report, err := h.scans.ScanDevice(r.Context(), input)
	if err != nil {
		h.logger.Error().Err(err).Msg("device scan failed")
		respondError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// AppScanRequest is the single-app scan payload
type AppScanRequest struct {
	App           models.ScannedAppEvidence      `json:"app"`
	Device        models.DeviceIntegrityEvidence `json:"device"`
	SpecialAccess models.AppSpecialAccess        `json:"special_access"`
}

// ScanApp handles POST /api/v1/scan/app
func (h *ScanHandler) ScanApp(w http.ResponseWriter, r *http.Request) {
	var req AppScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.App.PackageName == "" {
		respondError(w, http.StatusBadRequest, "app.package_name is required")
		return
	}

	result, err := h.scans.ScanApp(r.Context(), req.App, req.Device, req.SpecialAccess)
	if err != nil {
		h.logger.Error().Err(err).Str("package", req.App.PackageName).Msg("app scan failed")
		respondError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}
