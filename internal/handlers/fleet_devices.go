package handlers

import (
	"log"
	"net/http"

	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/pkg/utils"
)

type CreateFleetDeviceRequest struct {
	Name string `json:"name"`
}

// CreateFleetDevice issues a new connection code for the calling admin
// POST /api/manager/fleet-devices
func CreateFleetDevice(svc *services.FleetDeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		var req CreateFleetDeviceRequest
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		device, err := svc.Create(r.Context(), user.UserID, req.Name)
		if err != nil {
			respondServiceError(w, "Create fleet device", err)
			return
		}

		log.Printf("✅ Fleet device %s (%s) created for admin %s", device.Code, device.Name, user.UserID)
		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success":      true,
			"fleet_device": device,
		})
	}
}

// ListFleetDevices returns the admin's devices with their connected driver
// GET /api/manager/fleet-devices
func ListFleetDevices(svc *services.FleetDeviceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		devices, err := svc.List(r.Context(), user.UserID)
		if err != nil {
			respondServiceError(w, "List fleet devices", err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"fleet_devices": devices,
		})
	}
}
