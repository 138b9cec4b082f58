package agency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"nearbus/internal/transit"
)

// HTTPClient talks to an agency's REST API, with live vehicle positions
// taken from a GTFS-RT protobuf feed when one is configured.
type HTTPClient struct {
	baseURL     string
	agencyID    string
	vehiclesURL string // GTFS-RT vehicle positions feed; empty = JSON endpoint
	apiKey      string
	client      *http.Client
	logger      *slog.Logger
}

// NewHTTPClient creates an agency API client. vehiclesURL may be empty, in
// which case vehicles are read from the JSON API like every other kind.
func NewHTTPClient(baseURL, agencyID, vehiclesURL, apiKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		agencyID:    agencyID,
		vehiclesURL: vehiclesURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

// Wire types: the agency API's JSON shapes, mapped to engine entities after
// decoding.

type stationRecord struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"latitude"`
	Lon  float64 `json:"longitude"`
}

type routeRecord struct {
	ID        string `json:"id"`
	ShortName string `json:"shortName"`
	LongName  string `json:"longName"`
	Type      int    `json:"type"`
	Color     string `json:"color"`
}

type stopTimeRecord struct {
	TripID    string `json:"tripId"`
	StopID    string `json:"stopId"`
	Sequence  int    `json:"stopSequence"`
	Arrival   string `json:"arrivalTime"`
	Departure string `json:"departureTime"`
}

type vehicleRecord struct {
	ID         string  `json:"id"`
	RouteID    string  `json:"routeId"`
	TripID     string  `json:"tripId"`
	Lat        float64 `json:"latitude"`
	Lon        float64 `json:"longitude"`
	Bearing    float64 `json:"bearing"`
	Timestamp  int64   `json:"timestamp"` // unix seconds
	Speed      float64 `json:"speed"`
	Wheelchair bool    `json:"wheelchairAccessible"`
	Bike       bool    `json:"bikeAccessible"`
}

// Stations lists the agency's stations.
func (c *HTTPClient) Stations(ctx context.Context) ([]transit.Station, error) {
	var records []stationRecord
	if err := c.getJSON(ctx, c.endpoint("stations", nil), "fetch stations", &records); err != nil {
		return nil, err
	}
	out := make([]transit.Station, 0, len(records))
	for _, r := range records {
		out = append(out, transit.Station{
			ID:       r.ID,
			Name:     r.Name,
			Position: transit.Coordinates{Lat: r.Lat, Lon: r.Lon},
		})
	}
	return out, nil
}

// Routes lists the agency's routes.
func (c *HTTPClient) Routes(ctx context.Context) ([]transit.Route, error) {
	var records []routeRecord
	if err := c.getJSON(ctx, c.endpoint("routes", nil), "fetch routes", &records); err != nil {
		return nil, err
	}
	out := make([]transit.Route, 0, len(records))
	for _, r := range records {
		out = append(out, transit.Route{
			ID:        r.ID,
			ShortName: r.ShortName,
			LongName:  r.LongName,
			Mode:      transit.ModeFromGTFSRouteType(r.Type),
			Color:     r.Color,
		})
	}
	return out, nil
}

// StopTimes lists scheduled stop times, optionally narrowed by stop or trip.
func (c *HTTPClient) StopTimes(ctx context.Context, q StopTimeQuery) ([]transit.StopTime, error) {
	params := url.Values{}
	if q.StopID != "" {
		params.Set("stopId", q.StopID)
	}
	if q.TripID != "" {
		params.Set("tripId", q.TripID)
	}
	var records []stopTimeRecord
	if err := c.getJSON(ctx, c.endpoint("stop-times", params), "fetch stop times", &records); err != nil {
		return nil, err
	}
	out := make([]transit.StopTime, 0, len(records))
	for _, r := range records {
		out = append(out, transit.StopTime{
			TripID:    r.TripID,
			StopID:    r.StopID,
			Sequence:  r.Sequence,
			Arrival:   r.Arrival,
			Departure: r.Departure,
		})
	}
	return out, nil
}

// Vehicles lists live vehicle positions, from the GTFS-RT feed when
// configured, else from the JSON API. routeID narrows the result when the
// backend supports it; the fetch layer filters regardless.
func (c *HTTPClient) Vehicles(ctx context.Context, routeID string) ([]transit.Vehicle, error) {
	if c.vehiclesURL != "" {
		return c.vehiclesFromFeed(ctx, routeID)
	}
	params := url.Values{}
	if routeID != "" {
		params.Set("routeId", routeID)
	}
	var records []vehicleRecord
	if err := c.getJSON(ctx, c.endpoint("vehicles", params), "fetch vehicles", &records); err != nil {
		return nil, err
	}
	out := make([]transit.Vehicle, 0, len(records))
	for _, r := range records {
		out = append(out, transit.Vehicle{
			ID:                   r.ID,
			RouteID:              r.RouteID,
			TripID:               r.TripID,
			Position:             transit.Coordinates{Lat: r.Lat, Lon: r.Lon},
			Bearing:              r.Bearing,
			Timestamp:            time.Unix(r.Timestamp, 0),
			SpeedMPS:             r.Speed,
			WheelchairAccessible: r.Wheelchair,
			BikeAccessible:       r.Bike,
		})
	}
	return out, nil
}

// vehiclesFromFeed decodes a GTFS-RT vehicle positions protobuf feed.
func (c *HTTPClient) vehiclesFromFeed(ctx context.Context, routeID string) ([]transit.Vehicle, error) {
	const op = "fetch vehicles"
	body, err := c.getRaw(ctx, c.vehiclesURL, op)
	if err != nil {
		return nil, err
	}

	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, transit.NewError(transit.KindValidation, op, fmt.Errorf("parse protobuf: %w", err))
	}

	var out []transit.Vehicle
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetVehicle().GetId() == "" {
			continue
		}
		trip := vp.GetTrip()
		if routeID != "" && trip.GetRouteId() != routeID {
			continue
		}
		pos := vp.GetPosition()
		out = append(out, transit.Vehicle{
			ID:        vp.GetVehicle().GetId(),
			RouteID:   trip.GetRouteId(),
			TripID:    trip.GetTripId(),
			Position:  transit.Coordinates{Lat: float64(pos.GetLatitude()), Lon: float64(pos.GetLongitude())},
			Bearing:   float64(pos.GetBearing()),
			Timestamp: time.Unix(int64(vp.GetTimestamp()), 0),
			SpeedMPS:  float64(pos.GetSpeed()),
		})
	}
	return out, nil
}

func (c *HTTPClient) endpoint(path string, params url.Values) string {
	u := fmt.Sprintf("%s/agencies/%s/%s", c.baseURL, url.PathEscape(c.agencyID), path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *HTTPClient) getJSON(ctx context.Context, url, op string, dest any) error {
	body, err := c.getRaw(ctx, url, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return transit.NewError(transit.KindValidation, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *HTTPClient) getRaw(ctx context.Context, url, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transit.NewError(transit.KindNetwork, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, transit.NewError(transit.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, transit.StatusError(resp.StatusCode, op)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transit.NewError(transit.KindNetwork, op, err)
	}
	return body, nil
}
