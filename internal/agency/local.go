package agency

import (
	"context"
	"log/slog"
	"time"

	"nearbus/internal/storage"
	"nearbus/internal/transit"
)

// LocalClient serves agency data from an imported GTFS snapshot in SQLite,
// for development and offline use. Live vehicles are synthesized from trips
// whose schedule covers the current time, positioned at their first stop;
// that is enough for the correlation engine, which reasons over stop
// sequences rather than raw coordinates.
type LocalClient struct {
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewLocalClient creates a snapshot-backed client.
func NewLocalClient(db *storage.DB, logger *slog.Logger) *LocalClient {
	return &LocalClient{db: db, logger: logger, now: time.Now}
}

func (c *LocalClient) Stations(ctx context.Context) ([]transit.Station, error) {
	return c.db.Stations(ctx)
}

func (c *LocalClient) Routes(ctx context.Context) ([]transit.Route, error) {
	return c.db.Routes(ctx)
}

func (c *LocalClient) StopTimes(ctx context.Context, q StopTimeQuery) ([]transit.StopTime, error) {
	return c.db.StopTimes(ctx, q.StopID, q.TripID)
}

// Vehicles synthesizes one vehicle per trip currently in service.
func (c *LocalClient) Vehicles(ctx context.Context, routeID string) ([]transit.Vehicle, error) {
	now := c.now()
	svcNow := now.Format("15:04:05")
	trips, err := c.db.ActiveTrips(ctx, svcNow, svcNow)
	if err != nil {
		return nil, err
	}

	var out []transit.Vehicle
	for _, tr := range trips {
		if routeID != "" && tr.Trip.RouteID != routeID {
			continue
		}
		pos, err := c.db.StopPosition(ctx, tr.FirstStop)
		if err != nil {
			c.logger.Warn("skipping trip with unknown first stop", "trip", tr.Trip.ID, "stop", tr.FirstStop)
			continue
		}
		out = append(out, transit.Vehicle{
			ID:        "sim-" + tr.Trip.ID,
			RouteID:   tr.Trip.RouteID,
			TripID:    tr.Trip.ID,
			Position:  pos,
			Timestamp: now,
		})
	}
	return out, nil
}
