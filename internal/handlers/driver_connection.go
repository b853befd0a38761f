package handlers

import (
	"log"
	"net/http"

	"fleettrack-backend/internal/models"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/pkg/utils"
)

type ConnectRequest struct {
	FleetCode        string `json:"fleet_code"`
	DisplayName      string `json:"display_name"`
	ExistingDriverID string `json:"existing_driver_id,omitempty"`
}

type ConnectResponse struct {
	Success     bool                `json:"success"`
	DriverID    string              `json:"driver_id"`
	FleetDevice *models.FleetDevice `json:"fleet_device"`
	Reconnected bool                `json:"reconnected"`
	ServerTime  int64               `json:"server_time"`
}

type DisconnectRequest struct {
	DriverID string `json:"driver_id"`
}

type ConnectionStatusResponse struct {
	Success     bool                `json:"success"`
	Connected   bool                `json:"connected"`
	FleetDevice *models.FleetDevice `json:"fleet_device,omitempty"`
}

// ConnectDriver binds the caller to a fleet code
// POST /api/driver/connect
func ConnectDriver(registry *services.IdentityRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("📥 REQUEST: POST /api/driver/connect")

		var req ConnectRequest
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		log.Printf("   🔑 Code: %s", req.FleetCode)
		log.Printf("   👤 Name: %s", req.DisplayName)
		if req.ExistingDriverID != "" {
			log.Printf("   🆔 Existing driver: %s", req.ExistingDriverID)
		}

		result, err := registry.Connect(r.Context(), services.ConnectRequest{
			FleetCode:        req.FleetCode,
			DisplayName:      req.DisplayName,
			ExistingDriverID: req.ExistingDriverID,
		})
		if err != nil {
			respondServiceError(w, "Connect", err)
			return
		}

		log.Printf("✅ Connect %s: driver %s", result.Outcome, result.Driver.ID)
		utils.RespondJSON(w, http.StatusOK, ConnectResponse{
			Success:     true,
			DriverID:    result.Driver.ID,
			FleetDevice: result.FleetDevice,
			Reconnected: result.Reconnected(),
			ServerTime:  registry.Now().UnixMilli(),
		})
	}
}

// DisconnectDriver releases the driver's fleet device; unknown drivers succeed
// POST /api/driver/disconnect
func DisconnectDriver(registry *services.IdentityRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DisconnectRequest
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := registry.Disconnect(r.Context(), req.DriverID); err != nil {
			respondServiceError(w, "Disconnect", err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
		})
	}
}

// GetConnectionStatus is side-effect free and safe to poll
// GET /api/driver/connection-status?driver_id=
func GetConnectionStatus(registry *services.IdentityRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := registry.GetConnectionState(r.Context(), r.URL.Query().Get("driver_id"))
		if err != nil {
			respondServiceError(w, "Connection status", err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, ConnectionStatusResponse{
			Success:     true,
			Connected:   state.Connected,
			FleetDevice: state.FleetDevice,
		})
	}
}
