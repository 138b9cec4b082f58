// Package rank orders a station's candidate vehicles by urgency and applies
// the per-route deduplication policy.
package rank

import (
	"sort"

	"nearbus/internal/estimate"
	"nearbus/internal/transit"
)

// Entry is one vehicle tagged with its route identity and arrival estimate.
type Entry struct {
	Vehicle  transit.Vehicle   `json:"vehicle"`
	Route    transit.Route     `json:"route"`
	Estimate estimate.Estimate `json:"estimate"`
}

// Options control one ranking pass.
type Options struct {
	// MaxVehicles caps the vehicles shown for a station.
	MaxVehicles int
	// ShowAll skips per-route deduplication entirely; used when the rider
	// pre-selected favorite routes and wants every upcoming vehicle.
	ShowAll bool
	// SingleRouteDedup applies the one-per-route rule even when a station is
	// served by exactly one distinct route. Off by default: with no
	// cross-route competition for display slots, up to MaxVehicles from that
	// route are shown. A tuned behaviour, hence a switch rather than an
	// invariant.
	SingleRouteDedup bool
}

// Rank orders entries by urgency and applies the display policy. The result
// never exceeds MaxVehicles.
func Rank(entries []Entry, opts Options) []Entry {
	if opts.MaxVehicles <= 0 {
		opts.MaxVehicles = 5
	}

	if opts.ShowAll {
		return capped(ordered(entries), opts.MaxVehicles)
	}

	byRoute := make(map[string][]Entry)
	for _, e := range entries {
		byRoute[e.Route.ID] = append(byRoute[e.Route.ID], e)
	}

	if len(byRoute) == 1 && !opts.SingleRouteDedup {
		return capped(ordered(entries), opts.MaxVehicles)
	}

	// One best-ranked vehicle per route, then ranked globally.
	best := make([]Entry, 0, len(byRoute))
	for _, group := range byRoute {
		best = append(best, ordered(group)[0])
	}
	return capped(ordered(best), opts.MaxVehicles)
}

// ordered returns a copy sorted by the urgency comparator: vehicles at the
// station first, then approaching before departed, then soonest first.
func ordered(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

func less(a, b Entry) bool {
	aAt, bAt := atStation(a), atStation(b)
	if aAt != bAt {
		return aAt
	}
	if ra, rb := directionRank(a.Estimate.Direction), directionRank(b.Estimate.Direction); ra != rb {
		return ra < rb
	}
	if a.Estimate.ETAMinutes != b.Estimate.ETAMinutes {
		return a.Estimate.ETAMinutes < b.Estimate.ETAMinutes
	}
	// Deterministic output for identical urgency.
	return a.Vehicle.ID < b.Vehicle.ID
}

func atStation(e Entry) bool {
	return e.Estimate.Direction == estimate.Arriving && e.Estimate.ETAMinutes == 0
}

func directionRank(d estimate.Direction) int {
	switch d {
	case estimate.Arriving:
		return 0
	case estimate.Departing:
		return 1
	default:
		return 2
	}
}

func capped(entries []Entry, max int) []Entry {
	if len(entries) > max {
		return entries[:max]
	}
	return entries
}
