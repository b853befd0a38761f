package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/internal/websocket"
	"fleettrack-backend/pkg/utils"
)

// DiagnosticLog is a log line shipped by the mobile tracking client
type DiagnosticLog struct {
	DriverID  string                 `json:"driver_id"`
	Timestamp string                 `json:"timestamp"`
	Context   string                 `json:"context"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Platform  string                 `json:"platform"`
}

// ReceiveDiagnosticLog echoes mobile tracking diagnostics into the server log
// POST /api/logs/diagnostic
func ReceiveDiagnosticLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry DiagnosticLog
		if err := utils.DecodeJSON(w, r, 64<<10, &entry); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		prefix := "📱"
		switch entry.Level {
		case "ERROR":
			prefix = "🔴"
		case "WARNING":
			prefix = "🟡"
		case "INFO":
			prefix = "🔵"
		}

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("%s MOBILE DIAGNOSTIC [%s]", prefix, entry.Level)
		log.Printf("   Driver:    %s", entry.DriverID)
		log.Printf("   Platform:  %s", entry.Platform)
		log.Printf("   Context:   %s", entry.Context)
		log.Printf("   Timestamp: %s", entry.Timestamp)
		log.Printf("   Message:   %s", entry.Message)
		if len(entry.Data) > 0 {
			if dataJSON, err := json.MarshalIndent(entry.Data, "      ", "  "); err == nil {
				log.Printf("   Data:\n      %s", string(dataJSON))
			}
		}
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "received",
		})
	}
}

// GetFeedStats reports change-feed connections and throttle counters.
// feed_connected tells the caller whether one of its own views holds a live subscription.
// GET /api/manager/feed/stats
func GetFeedStats(hub *websocket.Hub, throttle *websocket.FeedThrottle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := middleware.GetUserFromContext(r)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":           true,
			"connected_clients": hub.GetClientCount(),
			"connected_users":   len(hub.GetConnectedClientIDs()),
			"feed_connected":    hub.IsUserConnected(user.UserID),
			"throttle":          throttle.GetStats(),
		})
	}
}
