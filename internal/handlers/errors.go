package handlers

import (
	"errors"
	"log"
	"net/http"

	"fleettrack-backend/internal/payload"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/pkg/utils"
)

// maxBodyBytes caps request bodies; a full batch of fixes fits well under it
const maxBodyBytes = 1 << 20

// respondServiceError maps service errors onto the API's error envelope
func respondServiceError(w http.ResponseWriter, action string, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		log.Printf("❌ %s: %v", action, err)
		utils.RespondError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, payload.ErrMalformed):
		log.Printf("❌ %s: %v", action, err)
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
	case errors.Is(err, services.ErrNotAuthorized):
		log.Printf("🔒 %s: identity rejected", action)
		utils.RespondErrorWith(w, http.StatusUnauthorized, "Not authorized, please reconnect", map[string]interface{}{
			"requires_reauthentication": true,
		})
	case errors.Is(err, services.ErrFleetCodeNotFound):
		log.Printf("❌ %s: %v", action, err)
		utils.RespondError(w, http.StatusNotFound, "Invalid connection code")
	case errors.Is(err, services.ErrTakeoverRejected):
		log.Printf("❌ %s: %v", action, err)
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("❌ %s failed: %v", action, err)
		utils.RespondErrorWith(w, http.StatusServiceUnavailable, "Temporary server error, please retry", map[string]interface{}{
			"retryable": true,
		})
	}
}
