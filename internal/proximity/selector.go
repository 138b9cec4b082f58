// Package proximity ranks and filters the stations around a rider position.
package proximity

import (
	"sort"

	"nearbus/internal/geo"
	"nearbus/internal/transit"
)

// Class distinguishes the closest qualifying station from a nearby-enough
// alternative.
type Class string

const (
	Primary   Class = "primary"
	Secondary Class = "secondary"
)

// Params tune one selection pass.
type Params struct {
	Origin transit.Coordinates

	// MaxStations caps the result, commonly 2 (primary + secondary).
	MaxStations int
	// SearchRadiusMeters discards stations farther out entirely.
	SearchRadiusMeters float64
	// SecondaryThresholdMeters bounds how much farther than the primary a
	// secondary pick may be. Keeps the second choice nearby-relevant rather
	// than merely second-closest globally.
	SecondaryThresholdMeters float64

	// FavoriteRoutes biases selection toward stations serving these routes.
	FavoriteRoutes map[string]bool
	// FavoritesExclusive turns the bias into a hard filter.
	FavoritesExclusive bool
}

// Candidate is a selected station with its correlation context.
type Candidate struct {
	Station          transit.Station
	DistanceMeters   float64
	Class            Class
	MatchesFavorites bool
	// Vehicles are the live vehicles whose trips visit this station, plus
	// trip-less vehicles on one of its served routes.
	Vehicles []transit.Vehicle
	// RouteIDs are the routes with an active vehicle serving this station.
	RouteIDs []string
}

// Select ranks stations by great-circle distance from the origin and returns
// the primary and, when close enough, secondary picks. Stations without any
// active vehicle service are skipped unless nothing else qualifies. An empty
// result is a valid answer, not an error.
func Select(stations []transit.Station, vehicles []transit.Vehicle, stopTimes []transit.StopTime, p Params) []Candidate {
	if p.MaxStations <= 0 {
		p.MaxStations = 2
	}

	// Stops visited per trip, from the schedule.
	stopsByTrip := make(map[string]map[string]bool)
	for _, st := range stopTimes {
		m := stopsByTrip[st.TripID]
		if m == nil {
			m = make(map[string]bool)
			stopsByTrip[st.TripID] = m
		}
		m[st.StopID] = true
	}

	within := collectInRange(stations, p)

	for i := range within {
		annotateService(&within[i], vehicles, stopsByTrip)
		within[i].MatchesFavorites = matchesFavorites(within[i].RouteIDs, p.FavoriteRoutes)
	}

	sort.Slice(within, func(i, j int) bool {
		if within[i].DistanceMeters != within[j].DistanceMeters {
			return within[i].DistanceMeters < within[j].DistanceMeters
		}
		// Deterministic tiebreak.
		return within[i].Station.ID < within[j].Station.ID
	})

	pool := serviced(within)
	if len(pool) == 0 {
		// Dead-station filter is soft: better a silent station than nothing.
		pool = within
	}

	if len(p.FavoriteRoutes) > 0 {
		matching := favoriteMatching(pool)
		if p.FavoritesExclusive {
			pool = matching
		} else if len(matching) > 0 {
			// Soft preference: favorites win when any candidate matches.
			pool = matching
		}
	}

	return classify(pool, p)
}

func collectInRange(stations []transit.Station, p Params) []Candidate {
	var latBox, lonBox float64
	if p.SearchRadiusMeters > 0 {
		latBox, lonBox = geo.BoundingBoxRadius(p.Origin.Lat, p.SearchRadiusMeters)
	}

	var out []Candidate
	for _, s := range stations {
		if p.SearchRadiusMeters > 0 {
			// Cheap box pre-filter before the trig.
			if dLat := s.Position.Lat - p.Origin.Lat; dLat > latBox || dLat < -latBox {
				continue
			}
			if dLon := s.Position.Lon - p.Origin.Lon; dLon > lonBox || dLon < -lonBox {
				continue
			}
		}
		d := geo.Haversine(p.Origin.Lat, p.Origin.Lon, s.Position.Lat, s.Position.Lon)
		if p.SearchRadiusMeters > 0 && d > p.SearchRadiusMeters {
			continue
		}
		out = append(out, Candidate{Station: s, DistanceMeters: d})
	}
	return out
}

// annotateService fills the candidate's served routes and candidate vehicles
// from the live fleet. A route serves the station when a vehicle's trip is
// scheduled to visit it; vehicles without a trip ride along on route identity.
func annotateService(c *Candidate, vehicles []transit.Vehicle, stopsByTrip map[string]map[string]bool) {
	routeSet := make(map[string]bool)
	for _, v := range vehicles {
		if v.TripID != "" && stopsByTrip[v.TripID][c.Station.ID] {
			routeSet[v.RouteID] = true
			c.Vehicles = append(c.Vehicles, v)
		}
	}
	// Second pass: trip-less vehicles on a route known to serve the station.
	for _, v := range vehicles {
		if v.TripID == "" && routeSet[v.RouteID] {
			c.Vehicles = append(c.Vehicles, v)
		}
	}
	c.RouteIDs = make([]string, 0, len(routeSet))
	for id := range routeSet {
		c.RouteIDs = append(c.RouteIDs, id)
	}
	sort.Strings(c.RouteIDs)
}

func matchesFavorites(routeIDs []string, favorites map[string]bool) bool {
	for _, id := range routeIDs {
		if favorites[id] {
			return true
		}
	}
	return false
}

func serviced(cs []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if len(c.RouteIDs) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func favoriteMatching(cs []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if c.MatchesFavorites {
			out = append(out, c)
		}
	}
	return out
}

// classify takes the closest station as primary and admits a secondary only
// when its distance stays within the primary's distance plus the threshold.
func classify(pool []Candidate, p Params) []Candidate {
	if len(pool) == 0 {
		return nil
	}
	result := make([]Candidate, 0, p.MaxStations)
	primary := pool[0]
	primary.Class = Primary
	result = append(result, primary)

	limit := primary.DistanceMeters + p.SecondaryThresholdMeters
	for _, c := range pool[1:] {
		if len(result) >= p.MaxStations {
			break
		}
		if c.DistanceMeters > limit {
			break
		}
		c.Class = Secondary
		result = append(result, c)
	}
	return result
}
