package storage

import (
	"context"
	"database/sql"
	"fmt"

	"nearbus/internal/transit"
)

// Stations lists every stop in the snapshot.
func (db *DB) Stations(ctx context.Context) ([]transit.Station, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT stop_id, stop_name, stop_lat, stop_lon FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("stations query: %w", err)
	}
	defer rows.Close()

	var out []transit.Station
	for rows.Next() {
		var s transit.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Position.Lat, &s.Position.Lon); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Routes lists every route in the snapshot.
func (db *DB) Routes(ctx context.Context) ([]transit.Route, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT route_id, route_short_name, route_long_name, route_type, route_color FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("routes query: %w", err)
	}
	defer rows.Close()

	var out []transit.Route
	for rows.Next() {
		var r transit.Route
		var short, long, color sql.NullString
		var routeType int
		if err := rows.Scan(&r.ID, &short, &long, &routeType, &color); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.ShortName = short.String
		r.LongName = long.String
		r.Mode = transit.ModeFromGTFSRouteType(routeType)
		r.Color = color.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// StopTimes lists stop times, optionally narrowed by stop and/or trip,
// ordered by trip and sequence.
func (db *DB) StopTimes(ctx context.Context, stopID, tripID string) ([]transit.StopTime, error) {
	query := `SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time FROM stop_times`
	var args []any
	switch {
	case stopID != "" && tripID != "":
		query += ` WHERE stop_id = ? AND trip_id = ?`
		args = append(args, stopID, tripID)
	case stopID != "":
		query += ` WHERE stop_id = ?`
		args = append(args, stopID)
	case tripID != "":
		query += ` WHERE trip_id = ?`
		args = append(args, tripID)
	}
	query += ` ORDER BY trip_id, stop_sequence`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stop times query: %w", err)
	}
	defer rows.Close()

	var out []transit.StopTime
	for rows.Next() {
		var st transit.StopTime
		if err := rows.Scan(&st.TripID, &st.StopID, &st.Sequence, &st.Arrival, &st.Departure); err != nil {
			return nil, fmt.Errorf("scan stop time: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TripRow joins a trip with its first and last scheduled times, used for
// synthesizing vehicle positions in local mode.
type TripRow struct {
	Trip       transit.Trip
	FirstDep   string // departure_time at the lowest sequence
	LastArr    string // arrival_time at the highest sequence
	FirstStop  string
	StopsTotal int
}

// ActiveTrips returns trips whose scheduled span covers the given service
// times (GTFS HH:MM:SS strings), i.e. trips plausibly on the road now.
func (db *DB) ActiveTrips(ctx context.Context, notBefore, notAfter string) ([]TripRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.trip_id, t.route_id, COALESCE(t.trip_headsign, ''), t.direction_id, t.service_id,
		       MIN(st.departure_time), MAX(st.arrival_time),
		       (SELECT stop_id FROM stop_times WHERE trip_id = t.trip_id ORDER BY stop_sequence LIMIT 1),
		       COUNT(*)
		FROM trips t
		JOIN stop_times st ON st.trip_id = t.trip_id
		GROUP BY t.trip_id
		HAVING MIN(st.departure_time) <= ? AND MAX(st.arrival_time) >= ?`,
		notAfter, notBefore)
	if err != nil {
		return nil, fmt.Errorf("active trips query: %w", err)
	}
	defer rows.Close()

	var out []TripRow
	for rows.Next() {
		var tr TripRow
		var dir int
		if err := rows.Scan(&tr.Trip.ID, &tr.Trip.RouteID, &tr.Trip.Headsign, &dir,
			&tr.Trip.ServiceID, &tr.FirstDep, &tr.LastArr, &tr.FirstStop, &tr.StopsTotal); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		tr.Trip.Direction = transit.TripDirection(dir)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// StopPosition returns the coordinates of a stop.
func (db *DB) StopPosition(ctx context.Context, stopID string) (transit.Coordinates, error) {
	var c transit.Coordinates
	err := db.QueryRowContext(ctx,
		`SELECT stop_lat, stop_lon FROM stops WHERE stop_id = ?`, stopID).
		Scan(&c.Lat, &c.Lon)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("stop %s not found", stopID)
	}
	return c, err
}

// HasData reports whether the snapshot contains any stops.
func (db *DB) HasData(ctx context.Context) bool {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&n); err != nil {
		return false
	}
	return n > 0
}
