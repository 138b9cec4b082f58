package storage

import "fmt"

// migrate creates the GTFS snapshot schema if it doesn't exist.
func (db *DB) migrate() error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	db.logger.Info("database migrations applied")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS routes (
		route_id         TEXT PRIMARY KEY,
		route_short_name TEXT,
		route_long_name  TEXT,
		route_type       INTEGER NOT NULL DEFAULT 3,
		route_color      TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS stops (
		stop_id   TEXT PRIMARY KEY,
		stop_name TEXT NOT NULL,
		stop_lat  REAL NOT NULL,
		stop_lon  REAL NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trips (
		trip_id       TEXT PRIMARY KEY,
		route_id      TEXT NOT NULL REFERENCES routes(route_id),
		service_id    TEXT NOT NULL,
		trip_headsign TEXT,
		direction_id  INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS stop_times (
		trip_id        TEXT NOT NULL REFERENCES trips(trip_id),
		stop_id        TEXT NOT NULL REFERENCES stops(stop_id),
		stop_sequence  INTEGER NOT NULL,
		arrival_time   TEXT NOT NULL,
		departure_time TEXT NOT NULL,
		PRIMARY KEY (trip_id, stop_sequence)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stop_times_stop ON stop_times(stop_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stop_times_trip ON stop_times(trip_id, stop_sequence)`,
	`CREATE INDEX IF NOT EXISTS idx_trips_route ON trips(route_id)`,
}
