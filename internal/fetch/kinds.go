package fetch

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"nearbus/internal/agency"
	"nearbus/internal/cache"
	"nearbus/internal/metrics"
	"nearbus/internal/transit"
)

// Default freshness per data kind: topology changes rarely, vehicles move
// constantly.
const (
	StationTTL  = 30 * time.Minute
	RouteTTL    = 30 * time.Minute
	StopTimeTTL = 10 * time.Minute
	VehicleTTL  = 15 * time.Second
)

// Set groups the four per-kind fetchers the orchestrator pulls from.
type Set struct {
	Stations  *Fetcher[transit.Station]
	Routes    *Fetcher[transit.Route]
	StopTimes *Fetcher[transit.StopTime]
	Vehicles  *Fetcher[transit.Vehicle]
}

// NewSet builds the fetcher set on top of an agency client. Each fetcher
// owns its cache; capacity <= 0 uses the cache default. Close must be called
// on teardown to stop the background sweeps.
func NewSet(client agency.Client, capacity int, logger *slog.Logger, obs *metrics.Collector) *Set {
	return &Set{
		Stations:  NewStations(client, capacity, logger, obs),
		Routes:    NewRoutes(client, capacity, logger, obs),
		StopTimes: NewStopTimes(client, capacity, logger, obs),
		Vehicles:  NewVehicles(client, capacity, logger, obs),
	}
}

// Start launches the background expiry sweeps.
func (s *Set) Start() {
	s.Stations.store.StartSweep()
	s.Routes.store.StartSweep()
	s.StopTimes.store.StartSweep()
	s.Vehicles.store.StartSweep()
}

// Close stops the background sweeps.
func (s *Set) Close() {
	s.Stations.Close()
	s.Routes.Close()
	s.StopTimes.Close()
	s.Vehicles.Close()
}

// Invalidate drops every cached entry so the next fetch hits the network.
func (s *Set) Invalidate() {
	s.Stations.Invalidate(KeyStations)
	s.Routes.Invalidate(KeyRoutes)
	s.StopTimes.Invalidate(KeyStopTimes)
	s.Vehicles.Invalidate(KeyVehicles)
}

// Cache keys. One logical dataset per kind; single-agency scope.
const (
	KeyStations  = "stations"
	KeyRoutes    = "routes"
	KeyStopTimes = "stop-times"
	KeyVehicles  = "vehicles"
)

// NewStations builds the station fetcher.
func NewStations(client agency.Client, capacity int, logger *slog.Logger, obs *metrics.Collector) *Fetcher[transit.Station] {
	return &Fetcher[transit.Station]{
		kind:  "stations",
		ttl:   StationTTL,
		store: cache.New[[]transit.Station](capacity, logger),
		call: func(ctx context.Context) ([]transit.Station, error) {
			return client.Stations(ctx)
		},
		keep:     transit.Station.Valid,
		sleep:    sleepCtx,
		logger:   logger,
		observer: obs,
	}
}

// NewRoutes builds the route fetcher.
func NewRoutes(client agency.Client, capacity int, logger *slog.Logger, obs *metrics.Collector) *Fetcher[transit.Route] {
	return &Fetcher[transit.Route]{
		kind:  "routes",
		ttl:   RouteTTL,
		store: cache.New[[]transit.Route](capacity, logger),
		call: func(ctx context.Context) ([]transit.Route, error) {
			return client.Routes(ctx)
		},
		keep:     transit.Route.Valid,
		sleep:    sleepCtx,
		logger:   logger,
		observer: obs,
	}
}

// NewStopTimes builds the stop-time fetcher.
func NewStopTimes(client agency.Client, capacity int, logger *slog.Logger, obs *metrics.Collector) *Fetcher[transit.StopTime] {
	return &Fetcher[transit.StopTime]{
		kind:  "stop-times",
		ttl:   StopTimeTTL,
		store: cache.New[[]transit.StopTime](capacity, logger),
		call: func(ctx context.Context) ([]transit.StopTime, error) {
			return client.StopTimes(ctx, agency.StopTimeQuery{})
		},
		keep:     transit.StopTime.Valid,
		sleep:    sleepCtx,
		logger:   logger,
		observer: obs,
	}
}

// NewVehicles builds the live-vehicle fetcher. Beyond the usual validity
// check it drops reports with implausible coordinates or stale timestamps
// and sorts the rest newest-first before caching.
func NewVehicles(client agency.Client, capacity int, logger *slog.Logger, obs *metrics.Collector) *Fetcher[transit.Vehicle] {
	return &Fetcher[transit.Vehicle]{
		kind:  "vehicles",
		ttl:   VehicleTTL,
		store: cache.New[[]transit.Vehicle](capacity, logger),
		call: func(ctx context.Context) ([]transit.Vehicle, error) {
			return client.Vehicles(ctx, "")
		},
		keep: func(v transit.Vehicle) bool {
			return v.Plausible(time.Now())
		},
		post: func(vs []transit.Vehicle) []transit.Vehicle {
			sort.Slice(vs, func(i, j int) bool {
				return vs[i].Timestamp.After(vs[j].Timestamp)
			})
			return vs
		},
		sleep:    sleepCtx,
		logger:   logger,
		observer: obs,
	}
}
