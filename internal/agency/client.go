// Package agency provides clients for one transit agency's data: station,
// route and stop-time listings plus live vehicle positions. Errors are
// classified here, at the transport boundary, and never re-derived from
// message text downstream.
package agency

import (
	"context"

	"nearbus/internal/transit"
)

// StopTimeQuery narrows a stop-time listing. Zero value lists everything.
type StopTimeQuery struct {
	StopID string
	TripID string
}

// Client is the engine's view of the agency API. Implementations return
// parsed but unvalidated records; sanitization happens in the fetch layer.
type Client interface {
	Stations(ctx context.Context) ([]transit.Station, error)
	Routes(ctx context.Context) ([]transit.Route, error)
	StopTimes(ctx context.Context, q StopTimeQuery) ([]transit.StopTime, error)
	Vehicles(ctx context.Context, routeID string) ([]transit.Vehicle, error)
}
