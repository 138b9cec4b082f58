package agency

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"nearbus/internal/transit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agencies/metro/stations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "sekrit" {
			t.Errorf("X-API-Key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"s1","name":"Central","latitude":46.77,"longitude":23.62}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "metro", "", "sekrit", testLogger())
	stations, err := c.Stations(context.Background())
	if err != nil {
		t.Fatalf("Stations: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("got %d stations, want 1", len(stations))
	}
	want := transit.Station{ID: "s1", Name: "Central", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}}
	if stations[0] != want {
		t.Errorf("station = %+v, want %+v", stations[0], want)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   transit.Kind
	}{
		{http.StatusUnauthorized, transit.KindAuth},
		{http.StatusForbidden, transit.KindAuth},
		{http.StatusNotFound, transit.KindValidation},
		{http.StatusInternalServerError, transit.KindNetwork},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewHTTPClient(srv.URL, "metro", "", "", testLogger())
		_, err := c.Routes(context.Background())
		srv.Close()
		if !transit.IsKind(err, tt.want) {
			t.Errorf("status %d: err = %v, want kind %s", tt.status, err, tt.want)
		}
	}
}

func TestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "metro", "", "", testLogger())
	if _, err := c.StopTimes(context.Background(), StopTimeQuery{}); !transit.IsKind(err, transit.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestConnectionFailure(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "metro", "", "", testLogger())
	if _, err := c.Stations(context.Background()); !transit.IsKind(err, transit.KindNetwork) {
		t.Errorf("err = %v, want network", err)
	}
}

func TestVehiclesFromGTFSRTFeed(t *testing.T) {
	now := time.Now().Unix()
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String("v1")},
					Trip:      &gtfsrt.TripDescriptor{RouteId: proto.String("r24"), TripId: proto.String("t1")},
					Position:  &gtfsrt.Position{Latitude: proto.Float32(46.77), Longitude: proto.Float32(23.62), Speed: proto.Float32(8), Bearing: proto.Float32(90)},
					Timestamp: proto.Uint64(uint64(now)),
				},
			},
			{
				Id: proto.String("2"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String("v2")},
					Trip:      &gtfsrt.TripDescriptor{RouteId: proto.String("r35")},
					Position:  &gtfsrt.Position{Latitude: proto.Float32(46.78), Longitude: proto.Float32(23.63)},
					Timestamp: proto.Uint64(uint64(now)),
				},
			},
			{
				// No vehicle descriptor; skipped.
				Id:      proto.String("3"),
				Vehicle: &gtfsrt.VehiclePosition{},
			},
		},
	}
	body, err := proto.Marshal(feed)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(body)
	}))
	defer srv.Close()

	c := NewHTTPClient("http://unused.example", "metro", srv.URL, "", testLogger())

	all, err := c.Vehicles(context.Background(), "")
	if err != nil {
		t.Fatalf("Vehicles: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d vehicles, want 2", len(all))
	}
	v := all[0]
	if v.ID != "v1" || v.RouteID != "r24" || v.TripID != "t1" {
		t.Errorf("vehicle = %+v", v)
	}
	if v.SpeedMPS != 8 || v.Bearing != 90 {
		t.Errorf("telemetry = speed %v bearing %v", v.SpeedMPS, v.Bearing)
	}
	if v.Timestamp.Unix() != now {
		t.Errorf("timestamp = %v", v.Timestamp)
	}

	filtered, err := c.Vehicles(context.Background(), "r35")
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "v2" {
		t.Errorf("filtered = %+v, want only v2", filtered)
	}
}

func TestVehiclesJSONFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agencies/metro/vehicles" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("routeId"); got != "r24" {
			t.Errorf("routeId = %q", got)
		}
		w.Write([]byte(`[{"id":"v1","routeId":"r24","tripId":"t1","latitude":46.77,"longitude":23.62,"timestamp":1750000000,"speed":5}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "metro", "", "", testLogger())
	vehicles, err := c.Vehicles(context.Background(), "r24")
	if err != nil {
		t.Fatalf("Vehicles: %v", err)
	}
	if len(vehicles) != 1 || vehicles[0].ID != "v1" || vehicles[0].Position.Lat != 46.77 {
		t.Errorf("vehicles = %+v", vehicles)
	}
}
