package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nearbus/internal/agency"
	"nearbus/internal/engine"
	"nearbus/internal/fetch"
	"nearbus/internal/transit"
)

type stubAgency struct {
	stations  []transit.Station
	routes    []transit.Route
	stopTimes []transit.StopTime
	vehicles  []transit.Vehicle
}

func (s *stubAgency) Stations(ctx context.Context) ([]transit.Station, error) { return s.stations, nil }
func (s *stubAgency) Routes(ctx context.Context) ([]transit.Route, error)     { return s.routes, nil }
func (s *stubAgency) StopTimes(ctx context.Context, q agency.StopTimeQuery) ([]transit.StopTime, error) {
	return s.stopTimes, nil
}
func (s *stubAgency) Vehicles(ctx context.Context, routeID string) ([]transit.Vehicle, error) {
	return s.vehicles, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	origin := transit.Coordinates{Lat: 46.7712, Lon: 23.6236}
	stub := &stubAgency{
		stations: []transit.Station{
			{ID: "st-1", Name: "Central", Position: transit.Coordinates{Lat: origin.Lat + 0.001, Lon: origin.Lon}},
		},
		routes: []transit.Route{
			{ID: "r5", ShortName: "5", Mode: transit.ModeTram},
		},
		stopTimes: []transit.StopTime{
			{TripID: "t9", StopID: "st-1", Sequence: 1, Arrival: "12:00:00", Departure: "12:00:00"},
		},
		vehicles: []transit.Vehicle{
			{
				ID: "v9", RouteID: "r5", TripID: "t9",
				Position:  transit.Coordinates{Lat: origin.Lat + 0.01, Lon: origin.Lon},
				Timestamp: time.Now(), SpeedMPS: 6,
			},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	set := fetch.NewSet(stub, 0, logger, nil)
	t.Cleanup(set.Close)
	return New(engine.New(set, logger, nil), engine.Options{}, logger, nil)
}

func TestNearby_RequiresCoordinates(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/api/nearby", "/api/nearby?lat=46.7", "/api/nearby?lat=abc&lon=23.6"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestNearby_InvalidLocation(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nearby?lat=0&lon=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for null-island coordinates", rec.Code)
	}
}

func TestNearby_ReturnsStationGroups(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nearby?lat=46.7712&lon=23.6236", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp struct {
		Stations []struct {
			Station struct {
				ID string `json:"id"`
			} `json:"station"`
			Vehicles []struct {
				Vehicle struct {
					ID string `json:"id"`
				} `json:"vehicle"`
			} `json:"vehicles"`
		} `json:"stations"`
		GeneratedAt time.Time `json:"generatedAt"`
		Stale       bool      `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(resp.Stations) != 1 || resp.Stations[0].Station.ID != "st-1" {
		t.Fatalf("stations = %+v, want st-1", resp.Stations)
	}
	if len(resp.Stations[0].Vehicles) != 1 || resp.Stations[0].Vehicles[0].Vehicle.ID != "v9" {
		t.Errorf("vehicles = %+v, want v9", resp.Stations[0].Vehicles)
	}
	if resp.GeneratedAt.IsZero() {
		t.Error("generatedAt missing")
	}
	if resp.Stale {
		t.Error("fresh response marked stale")
	}
}

func TestNearby_QueryOverrides(t *testing.T) {
	s := newTestServer(t)

	target := "/api/nearby?lat=46.7712&lon=23.6236&maxStations=1&maxVehicles=1&radius=8000&showAll=1"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
