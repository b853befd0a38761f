package handlers

import (
	"net/http"

	"fleettrack-backend/internal/livemap"
	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/internal/websocket"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps are the collaborators behind the HTTP API
type RouterDeps struct {
	Registry     *services.IdentityRegistry
	Gateway      *services.LocationGateway
	FleetDevices *services.FleetDeviceService
	Live         LiveReader
	Tokens       TokenRegistrar
	Hub          *websocket.Hub
	Throttle     *websocket.FeedThrottle
	JWTSecret    string
	Thresholds   livemap.Thresholds
	Clock        clock.Clock
}

// NewRouter builds the API routes
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Change feed (token accepted as ?token= since browsers cannot set headers on upgrade)
	r.Get("/ws", websocket.HandleWebSocket(deps.Hub, deps.JWTSecret))

	r.Route("/api", func(r chi.Router) {
		// Mobile tracking client: authenticated by its driver id + fleet code binding
		r.Post("/driver/connect", ConnectDriver(deps.Registry))
		r.Post("/driver/disconnect", DisconnectDriver(deps.Registry))
		r.Get("/driver/connection-status", GetConnectionStatus(deps.Registry))
		r.Post("/driver/location", ReportLocation(deps.Gateway))

		r.Post("/logs/diagnostic", ReceiveDiagnosticLog())

		// Dispatcher endpoints (require authentication + admin role)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.JWTSecret))
			r.Use(middleware.RequireRole(middleware.RoleAdmin))

			r.Get("/manager/drivers/live", GetLiveDrivers(deps.Live, deps.Thresholds, deps.Clock))
			r.Get("/manager/drivers/{id}/history", GetDriverHistory(deps.Live))

			r.Post("/manager/fleet-devices", CreateFleetDevice(deps.FleetDevices))
			r.Get("/manager/fleet-devices", ListFleetDevices(deps.FleetDevices))

			r.Post("/manager/fcm-token", RegisterFCMToken(deps.Tokens, deps.Clock))
			r.Get("/manager/feed/stats", GetFeedStats(deps.Hub, deps.Throttle))
		})
	})

	return r
}
