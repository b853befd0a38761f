package handlers

import (
	"io"
	"log"
	"net/http"

	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/payload"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/pkg/utils"
)

type LocationResponse struct {
	Success              bool   `json:"success"`
	Stored               bool   `json:"stored"`
	Warning              string `json:"warning,omitempty"`
	Accurate             *bool  `json:"accurate,omitempty"`
	HistoryStored        *int   `json:"history_stored,omitempty"`
	ServerTime           int64  `json:"server_time"`
	NextUpdateIntervalMs int64  `json:"next_update_interval_ms"`
}

// ReportLocation ingests a single fix, a batch, or a background-geolocation payload
// POST /api/driver/location
func ReportLocation(gateway *services.LocationGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			log.Printf("❌ Failed to read location body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		report, err := payload.Decode(body)
		if err != nil {
			respondServiceError(w, "Location report", err)
			return
		}

		result, err := gateway.ReportLocation(r.Context(), report)
		if err != nil {
			respondServiceError(w, "Location report", err)
			return
		}

		resp := LocationResponse{
			Success:              true,
			Stored:               result.Stored,
			Warning:              result.Warning,
			Accurate:             result.Accurate,
			ServerTime:           result.ServerTime.UnixMilli(),
			NextUpdateIntervalMs: result.NextUpdateInterval.Milliseconds(),
		}
		if result.Kind == models.ReportBatch || result.Stored {
			n := result.HistoryStored
			resp.HistoryStored = &n
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}
