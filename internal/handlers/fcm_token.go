package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/pkg/utils"

	"github.com/benbjohnson/clock"
)

// TokenRegistrar stores push tokens for a user
type TokenRegistrar interface {
	RegisterFCMToken(ctx context.Context, userID, token, deviceType string, now int64) error
}

type RegisterFCMTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"` // "ios", "android" or "web"
}

// RegisterFCMToken records a push token for the calling admin's "driver joined" alerts
// POST /api/manager/fcm-token
func RegisterFCMToken(store TokenRegistrar, clk clock.Clock) http.HandlerFunc {
	if clk == nil {
		clk = clock.New()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)

		var req RegisterFCMTokenRequest
		if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Token = strings.TrimSpace(req.Token)
		if req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		switch req.DeviceType {
		case "":
			req.DeviceType = "web"
		case "ios", "android", "web":
		default:
			utils.RespondError(w, http.StatusBadRequest, "device_type must be ios, android or web")
			return
		}

		if err := store.RegisterFCMToken(r.Context(), user.UserID, req.Token, req.DeviceType, clk.Now().Unix()); err != nil {
			respondServiceError(w, "Register FCM token", err)
			return
		}

		log.Printf("🔔 FCM token registered for %s (%s)", user.UserID, req.DeviceType)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
		})
	}
}
