package transit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VehicleStaleness is how old a live vehicle report may be before it is
// discarded rather than shown to the rider.
const VehicleStaleness = 10 * time.Minute

// MaxPlausibleSpeedMPS is the sanity bound on reported vehicle speed
// (~200 km/h, above anything an urban transit vehicle does).
const MaxPlausibleSpeedMPS = 56.0

// Coordinates is a WGS84 decimal-degree position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinates are inside the WGS84 envelope and
// not the (0,0) null-island placeholder many feeds emit for unknown positions.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// RouteMode is the vehicle type operating a route.
type RouteMode string

const (
	ModeBus        RouteMode = "bus"
	ModeTram       RouteMode = "tram"
	ModeMetro      RouteMode = "metro"
	ModeRail       RouteMode = "rail"
	ModeFerry      RouteMode = "ferry"
	ModeTrolleybus RouteMode = "trolleybus"
	ModeOther      RouteMode = "other"
)

// ModeFromGTFSRouteType maps a GTFS route_type to a RouteMode.
func ModeFromGTFSRouteType(t int) RouteMode {
	switch t {
	case 0:
		return ModeTram
	case 1:
		return ModeMetro
	case 2:
		return ModeRail
	case 3:
		return ModeBus
	case 4:
		return ModeFerry
	case 11:
		return ModeTrolleybus
	default:
		return ModeOther
	}
}

// Station is a boarding location. Immutable once fetched; a refresh replaces
// the whole list rather than patching entries.
type Station struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Position Coordinates `json:"position"`
}

// Valid reports whether a station record is usable.
func (s Station) Valid() bool {
	return s.ID != "" && s.Position.Valid()
}

// Route is a named transit line.
type Route struct {
	ID        string    `json:"id"`
	ShortName string    `json:"shortName"`
	LongName  string    `json:"longName"`
	Mode      RouteMode `json:"mode"`
	Color     string    `json:"color,omitempty"`
}

func (r Route) Valid() bool { return r.ID != "" }

// DisplayName prefers the short name ("24") over the long description.
func (r Route) DisplayName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

// TripDirection distinguishes the two scheduled directions of a route.
type TripDirection int

const (
	Outbound TripDirection = 0
	Inbound  TripDirection = 1
)

// Trip is one scheduled run of a vehicle along a route.
type Trip struct {
	ID        string        `json:"id"`
	RouteID   string        `json:"routeId"`
	Headsign  string        `json:"headsign"`
	Direction TripDirection `json:"direction"`
	ServiceID string        `json:"serviceId"`
}

// StopTime is one entry in a trip's ordered stop sequence. Sorting a trip's
// stop times by Sequence yields the physical stop order along the route.
type StopTime struct {
	TripID    string `json:"tripId"`
	StopID    string `json:"stopId"`
	Sequence  int    `json:"sequence"`
	Arrival   string `json:"arrival"`   // GTFS service time, may exceed 24:00:00
	Departure string `json:"departure"` // GTFS service time
}

func (st StopTime) Valid() bool {
	return st.TripID != "" && st.StopID != "" && st.Sequence >= 0
}

// Vehicle is a live position report. Ephemeral: superseded wholesale on each
// poll and discarded once older than VehicleStaleness.
type Vehicle struct {
	ID                   string      `json:"id"`
	RouteID              string      `json:"routeId"`
	TripID               string      `json:"tripId,omitempty"`
	Position             Coordinates `json:"position"`
	Bearing              float64     `json:"bearing,omitempty"`
	Timestamp            time.Time   `json:"timestamp"`
	SpeedMPS             float64     `json:"speedMps"`
	WheelchairAccessible bool        `json:"wheelchairAccessible"`
	BikeAccessible       bool        `json:"bikeAccessible"`
}

// Plausible reports whether a vehicle report should be kept: known identity,
// coordinates inside the WGS84 envelope, a sane speed, and a timestamp that
// is neither stale nor from the future.
func (v Vehicle) Plausible(now time.Time) bool {
	if v.ID == "" || v.RouteID == "" {
		return false
	}
	if !v.Position.Valid() {
		return false
	}
	if v.SpeedMPS < 0 || v.SpeedMPS > MaxPlausibleSpeedMPS {
		return false
	}
	if v.Timestamp.IsZero() || now.Sub(v.Timestamp) > VehicleStaleness {
		return false
	}
	if v.Timestamp.After(now.Add(time.Minute)) {
		return false
	}
	return true
}

// ParseServiceTime parses a GTFS HH:MM:SS service time relative to the given
// service day. Hours of 24 and beyond roll into the next calendar day, so
// "25:30:00" on June 15 is 01:30 on June 16 and still sorts after "23:00:00".
func ParseServiceTime(s string, serviceDay time.Time) (time.Time, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("malformed service time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed service time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed service time %q: %w", s, err)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed service time %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return time.Time{}, fmt.Errorf("service time %q out of range", s)
	}
	day := time.Date(serviceDay.Year(), serviceDay.Month(), serviceDay.Day(), 0, 0, 0, 0, serviceDay.Location())
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second), nil
}
