package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"nearbus/internal/agency"
	"nearbus/internal/transit"
)

// fakeClient scripts per-kind responses for fetcher tests.
type fakeClient struct {
	stations     []transit.Station
	stationErrs  []error // consumed one per call; nil entry = success
	vehicles     []transit.Vehicle
	vehicleErr   error
	stationCalls int
}

func (f *fakeClient) Stations(ctx context.Context) ([]transit.Station, error) {
	f.stationCalls++
	if len(f.stationErrs) > 0 {
		err := f.stationErrs[0]
		f.stationErrs = f.stationErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.stations, nil
}

func (f *fakeClient) Routes(ctx context.Context) ([]transit.Route, error) { return nil, nil }

func (f *fakeClient) StopTimes(ctx context.Context, q agency.StopTimeQuery) ([]transit.StopTime, error) {
	return nil, nil
}

func (f *fakeClient) Vehicles(ctx context.Context, routeID string) ([]transit.Vehicle, error) {
	if f.vehicleErr != nil {
		return nil, f.vehicleErr
	}
	return f.vehicles, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testStations() []transit.Station {
	return []transit.Station{
		{ID: "s1", Name: "Central", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}},
		{ID: "s2", Name: "North", Position: transit.Coordinates{Lat: 46.78, Lon: 23.63}},
	}
}

func TestFetch_CachesOnSuccess(t *testing.T) {
	client := &fakeClient{stations: testStations()}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	res, err := f.Fetch(context.Background(), KeyStations, Options{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Records) != 2 || res.FromCache || res.Stale {
		t.Fatalf("first fetch = %+v, want 2 fresh records", res)
	}

	res, err = f.Fetch(context.Background(), KeyStations, Options{})
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if !res.FromCache {
		t.Error("second fetch should be served from cache")
	}
	if client.stationCalls != 1 {
		t.Errorf("client called %d times, want 1", client.stationCalls)
	}
}

func TestFetch_ForceRefreshBypassesCache(t *testing.T) {
	client := &fakeClient{stations: testStations()}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	if _, err := f.Fetch(context.Background(), KeyStations, Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background(), KeyStations, Options{ForceRefresh: true}); err != nil {
		t.Fatal(err)
	}
	if client.stationCalls != 2 {
		t.Errorf("client called %d times, want 2", client.stationCalls)
	}
}

func TestFetch_RetriesNetworkErrors(t *testing.T) {
	netErr := transit.NewError(transit.KindNetwork, "fetch stations", errors.New("timeout"))
	client := &fakeClient{
		stations:    testStations(),
		stationErrs: []error{netErr, netErr, nil},
	}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	res, err := f.Fetch(context.Background(), KeyStations, Options{})
	if err != nil {
		t.Fatalf("Fetch should succeed after retries: %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("got %d records, want 2", len(res.Records))
	}
	if client.stationCalls != 3 {
		t.Errorf("client called %d times, want 3", client.stationCalls)
	}
}

func TestFetch_AuthNotRetried(t *testing.T) {
	authErr := transit.StatusError(401, "fetch stations")
	client := &fakeClient{stationErrs: []error{authErr, nil}}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	_, err := f.Fetch(context.Background(), KeyStations, Options{})
	if !transit.IsKind(err, transit.KindAuth) {
		t.Fatalf("error = %v, want authentication", err)
	}
	if client.stationCalls != 1 {
		t.Errorf("client called %d times, want 1 (no retry)", client.stationCalls)
	}
}

func TestFetch_ExhaustedRetriesNoCache(t *testing.T) {
	netErr := transit.NewError(transit.KindNetwork, "fetch stations", errors.New("refused"))
	client := &fakeClient{stationErrs: []error{netErr, netErr, netErr, netErr}}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	_, err := f.Fetch(context.Background(), KeyStations, Options{})
	if !transit.IsKind(err, transit.KindNetwork) {
		t.Fatalf("error = %v, want network", err)
	}
	// 1 initial + 3 retries
	if client.stationCalls != 4 {
		t.Errorf("client called %d times, want 4", client.stationCalls)
	}
}

func TestFetch_StaleFallbackAfterFailure(t *testing.T) {
	netErr := transit.NewError(transit.KindNetwork, "fetch stations", errors.New("refused"))
	client := &fakeClient{stations: testStations()}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	// Prime the cache with a very short TTL, then let it expire.
	if _, err := f.Fetch(context.Background(), KeyStations, Options{MaxAge: time.Nanosecond}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	client.stationErrs = []error{netErr, netErr, netErr, netErr}
	res, err := f.Fetch(context.Background(), KeyStations, Options{})
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if !res.Stale {
		t.Error("result should be flagged stale")
	}
	if len(res.Records) != 2 {
		t.Errorf("got %d stale records, want 2", len(res.Records))
	}
}

func TestFetch_SanitizesInvalidRecords(t *testing.T) {
	client := &fakeClient{stations: []transit.Station{
		{ID: "ok", Name: "Good", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}},
		{ID: "", Name: "No ID", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}},
		{ID: "bad-coords", Position: transit.Coordinates{Lat: 99, Lon: 23.62}},
		{ID: "null-island", Position: transit.Coordinates{}},
	}}
	f := NewStations(client, 10, testLogger(), nil)
	f.sleep = noSleep

	res, err := f.Fetch(context.Background(), KeyStations, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Records[0].ID != "ok" {
		t.Errorf("sanitization kept %+v, want only 'ok'", res.Records)
	}
}

func TestFetch_VehicleFilteringAndOrder(t *testing.T) {
	now := time.Now()
	client := &fakeClient{vehicles: []transit.Vehicle{
		{ID: "old", RouteID: "24", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}, Timestamp: now.Add(-11 * time.Minute)},
		{ID: "v1", RouteID: "24", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}, Timestamp: now.Add(-2 * time.Minute)},
		{ID: "fast", RouteID: "24", Position: transit.Coordinates{Lat: 46.77, Lon: 23.62}, Timestamp: now, SpeedMPS: 90},
		{ID: "v2", RouteID: "35", Position: transit.Coordinates{Lat: 46.78, Lon: 23.63}, Timestamp: now.Add(-time.Minute)},
	}}
	f := NewVehicles(client, 10, testLogger(), nil)
	f.sleep = noSleep

	res, err := f.Fetch(context.Background(), KeyVehicles, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d vehicles, want 2 (stale and implausible dropped)", len(res.Records))
	}
	// Sorted newest first
	if res.Records[0].ID != "v2" || res.Records[1].ID != "v1" {
		t.Errorf("order = [%s %s], want [v2 v1]", res.Records[0].ID, res.Records[1].ID)
	}
}

func TestWithJitter_Bounds(t *testing.T) {
	d := 4 * time.Second
	for i := 0; i < 100; i++ {
		got := withJitter(d)
		if got < 3*time.Second || got > 5*time.Second {
			t.Fatalf("withJitter(%v) = %v, outside ±25%%", d, got)
		}
	}
}
