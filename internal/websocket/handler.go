package websocket

import (
	"log"
	"net/http"

	"fleettrack-backend/internal/middleware"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dispatcher consoles are served from other origins; the token gates access
		return true
	},
}

// HandleWebSocket upgrades an authenticated dispatcher to the change feed.
// Browsers cannot set headers on the upgrade request, so the token may arrive as ?token=.
func HandleWebSocket(hub *Hub, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userClaims middleware.UserClaims

		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			claims, err := middleware.ParseToken(secret, tokenString)
			if err != nil {
				log.Printf("❌ Invalid token in query parameter: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userClaims = claims
		} else {
			var ok bool
			userClaims, ok = middleware.GetUserFromContext(r)
			if !ok {
				log.Println("❌ No user in context for WebSocket connection")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if userClaims.Role != middleware.RoleAdmin {
			log.Printf("❌ Feed requires admin role, got %s", userClaims.Role)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, conn, hub)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()

		log.Printf("✅ WebSocket connection established for user: %s (%s)", userClaims.Email, userClaims.UserID)
	}
}
