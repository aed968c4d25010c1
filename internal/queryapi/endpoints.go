package queryapi

import (
	"context"
	"encoding/json"
	"strconv"

	"sigmap/internal/entity"
)

// Backend endpoint paths. The two tower families return the same list shape
// from different upstream pipelines (tabular vs geojson-flavored).
const (
	pathStatus     = "/api/status"
	pathNearby     = "/nearby"
	pathSearch     = "/searchzz"
	pathTowers     = "/api/geo/towers"
	pathTowerCells = "/api/geo/celltower"
)

// DeviceResult is a decoded device-family response plus the verbatim payload
// eligible for export.
type DeviceResult struct {
	Devices       []entity.Entity
	Cached        bool
	Raw           []byte
	CorrelationID string
}

// TowerResult is a decoded tower-family response.
type TowerResult struct {
	Towers        []entity.Entity
	Raw           []byte
	CorrelationID string
}

type devicesPayload struct {
	Devices []entity.Entity `json:"devices"`
	Meta    struct {
		Cached bool `json:"cached"`
	} `json:"meta"`
}

// Status fetches per-provider availability.
func (c *Client) Status(ctx context.Context) (map[string]bool, error) {
	res, err := c.Get(ctx, pathStatus, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Providers map[string]bool `json:"providers"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return nil, &RequestError{Message: "malformed status response: " + err.Error(), CorrelationID: res.CorrelationID}
	}
	return payload.Providers, nil
}

// Nearby queries devices around a coordinate for the given mode.
func (c *Client) Nearby(ctx context.Context, lat, lon float64, mode string) (DeviceResult, error) {
	return c.deviceQuery(ctx, pathNearby, map[string]string{
		"lat":  formatCoord(lat),
		"lon":  formatCoord(lon),
		"mode": mode,
	})
}

// Search queries devices by type and free-form query text.
func (c *Client) Search(ctx context.Context, deviceType, query string) (DeviceResult, error) {
	return c.deviceQuery(ctx, pathSearch, map[string]string{
		"type":  deviceType,
		"query": query,
	})
}

func (c *Client) deviceQuery(ctx context.Context, path string, params map[string]string) (DeviceResult, error) {
	res, err := c.Get(ctx, path, params)
	if err != nil {
		return DeviceResult{}, err
	}
	var payload devicesPayload
	if err := json.Unmarshal(res.Payload, &payload); err != nil {
		return DeviceResult{}, &RequestError{Message: "malformed device response: " + err.Error(), CorrelationID: res.CorrelationID}
	}
	return DeviceResult{
		Devices:       payload.Devices,
		Cached:        payload.Meta.Cached,
		Raw:           res.Payload,
		CorrelationID: res.CorrelationID,
	}, nil
}

// Towers queries the tabular tower endpoint.
func (c *Client) Towers(ctx context.Context, lat, lon float64) (TowerResult, error) {
	return c.towerQuery(ctx, pathTowers, lat, lon)
}

// TowerCells queries the geojson-flavored tower endpoint.
func (c *Client) TowerCells(ctx context.Context, lat, lon float64) (TowerResult, error) {
	return c.towerQuery(ctx, pathTowerCells, lat, lon)
}

func (c *Client) towerQuery(ctx context.Context, path string, lat, lon float64) (TowerResult, error) {
	res, err := c.Get(ctx, path, map[string]string{
		"lat": formatCoord(lat),
		"lon": formatCoord(lon),
	})
	if err != nil {
		return TowerResult{}, err
	}
	var towers []entity.Entity
	if err := json.Unmarshal(res.Payload, &towers); err != nil {
		return TowerResult{}, &RequestError{Message: "malformed tower response: " + err.Error(), CorrelationID: res.CorrelationID}
	}
	return TowerResult{Towers: towers, Raw: res.Payload, CorrelationID: res.CorrelationID}, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
