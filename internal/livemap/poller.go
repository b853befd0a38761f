package livemap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleettrack-backend/internal/models"
)

// Source is the request/response side of the live map: the fallback roster poll and
// the per-driver trail
type Source interface {
	LiveDrivers(ctx context.Context) ([]models.LiveDriver, error)
	History(ctx context.Context, driverID string, since time.Time, limit int) ([]models.LocationHistoryPoint, error)
}

// HTTPSource reads the manager API with a dispatcher bearer token
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

type liveDriversResponse struct {
	Success    bool                `json:"success"`
	Drivers    []models.LiveDriver `json:"drivers"`
	ServerTime int64               `json:"server_time"`
	Error      string              `json:"error"`
}

type historyResponse struct {
	Success  bool                          `json:"success"`
	DriverID string                        `json:"driver_id"`
	Points   []models.LocationHistoryPoint `json:"points"`
	Error    string                        `json:"error"`
}

// NewHTTPSource creates a source for the API at baseURL (e.g. http://localhost:8080)
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// LiveDrivers fetches the admin's live roster
func (s *HTTPSource) LiveDrivers(ctx context.Context) ([]models.LiveDriver, error) {
	var result liveDriversResponse
	if err := s.get(ctx, "/api/manager/drivers/live", nil, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("live drivers: %s", result.Error)
	}
	return result.Drivers, nil
}

// History fetches accurate trail points recorded since the given time
func (s *HTTPSource) History(ctx context.Context, driverID string, since time.Time, limit int) ([]models.LocationHistoryPoint, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Add("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Add("limit", strconv.Itoa(limit))
	}

	var result historyResponse
	path := "/api/manager/drivers/" + url.PathEscape(driverID) + "/history"
	if err := s.get(ctx, path, params, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("history: %s", result.Error)
	}
	return result.Points, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, params url.Values, dst interface{}) error {
	fullURL := s.baseURL + path
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
