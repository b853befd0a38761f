package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"fleettrack-backend/internal/livemap"
	"fleettrack-backend/internal/middleware"
	"fleettrack-backend/internal/models"
	"fleettrack-backend/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 5000
)

// LiveReader is the read side of the live state store used by dispatchers
type LiveReader interface {
	ListLiveDrivers(ctx context.Context, adminID string) ([]models.LiveDriver, error)
	GetDriverHistory(ctx context.Context, adminID, driverID string, since int64, limit int) ([]models.LocationHistoryPoint, error)
}

type LiveDriversResponse struct {
	Success    bool                `json:"success"`
	Drivers    []models.LiveDriver `json:"drivers"`
	ServerTime int64               `json:"server_time"`
}

type DriverHistoryResponse struct {
	Success  bool                          `json:"success"`
	DriverID string                        `json:"driver_id"`
	Points   []models.LocationHistoryPoint `json:"points"`
}

// GetLiveDrivers returns every driver in the admin's fleet with liveness already classified
// GET /api/manager/drivers/live
func GetLiveDrivers(store LiveReader, thresholds livemap.Thresholds, clk clock.Clock) http.HandlerFunc {
	if clk == nil {
		clk = clock.New()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		drivers, err := store.ListLiveDrivers(r.Context(), user.UserID)
		if err != nil {
			respondServiceError(w, "List live drivers", err)
			return
		}

		now := clk.Now()
		for i := range drivers {
			thresholds.ClassifyDriver(now, &drivers[i])
		}

		log.Printf("📋 Live drivers for admin %s: %d", user.UserID, len(drivers))
		utils.RespondJSON(w, http.StatusOK, LiveDriversResponse{
			Success:    true,
			Drivers:    drivers,
			ServerTime: now.UnixMilli(),
		})
	}
}

// GetDriverHistory returns the accurate trail of one of the admin's drivers, oldest first.
// since is a client timestamp in unix ms; limit keeps the most recent points.
// GET /api/manager/drivers/{id}/history?since=&limit=
func GetDriverHistory(store LiveReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		driverID := chi.URLParam(r, "id")

		var since int64
		if v := r.URL.Query().Get("since"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil || parsed < 0 {
				utils.RespondError(w, http.StatusBadRequest, "since must be a unix timestamp in milliseconds")
				return
			}
			since = parsed
		}

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		points, err := store.GetDriverHistory(r.Context(), user.UserID, driverID, since, limit)
		if errors.Is(err, models.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Driver not found")
			return
		}
		if err != nil {
			respondServiceError(w, "Driver history", err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, DriverHistoryResponse{
			Success:  true,
			DriverID: driverID,
			Points:   points,
		})
	}
}
