package rank

import (
	"testing"

	"nearbus/internal/estimate"
	"nearbus/internal/transit"
)

func entry(vehicleID, routeID string, dir estimate.Direction, eta int) Entry {
	return Entry{
		Vehicle:  transit.Vehicle{ID: vehicleID, RouteID: routeID},
		Route:    transit.Route{ID: routeID, ShortName: routeID},
		Estimate: estimate.Estimate{Direction: dir, ETAMinutes: eta, Confidence: estimate.Medium},
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Vehicle.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Two vehicles on route 24 (eta 5 and 12) and one on route 35 (eta 8):
// the scenario shared by the dedup and show-all tests.
func twoRouteFleet() []Entry {
	return []Entry{
		{Vehicle: transit.Vehicle{ID: "v24-far", RouteID: "24"}, Route: transit.Route{ID: "24"},
			Estimate: estimate.Estimate{Direction: estimate.Arriving, ETAMinutes: 12}},
		{Vehicle: transit.Vehicle{ID: "v35", RouteID: "35"}, Route: transit.Route{ID: "35"},
			Estimate: estimate.Estimate{Direction: estimate.Arriving, ETAMinutes: 8}},
		{Vehicle: transit.Vehicle{ID: "v24-near", RouteID: "24"}, Route: transit.Route{ID: "24"},
			Estimate: estimate.Estimate{Direction: estimate.Arriving, ETAMinutes: 5}},
	}
}

func TestRank_DedupTwoRoutes(t *testing.T) {
	got := Rank(twoRouteFleet(), Options{MaxVehicles: 5})
	want := []string{"v24-near", "v35"}
	if !equal(ids(got), want) {
		t.Errorf("dedup result = %v, want %v", ids(got), want)
	}
}

func TestRank_ShowAll(t *testing.T) {
	got := Rank(twoRouteFleet(), Options{MaxVehicles: 5, ShowAll: true})
	want := []string{"v24-near", "v35", "v24-far"}
	if !equal(ids(got), want) {
		t.Errorf("show-all result = %v, want %v", ids(got), want)
	}
}

func TestRank_SingleRouteDefaultShowsUpToCap(t *testing.T) {
	entries := []Entry{
		entry("a", "24", estimate.Arriving, 5),
		entry("b", "24", estimate.Arriving, 9),
		entry("c", "24", estimate.Arriving, 14),
	}

	// Baseline dedup mode: a station served by one distinct route shows up
	// to MaxVehicles from that route, not just the best one.
	got := Rank(entries, Options{MaxVehicles: 5})
	if len(got) != 3 {
		t.Fatalf("single-route station in default dedup mode returned %d vehicles, want up to cap (%d)",
			len(got), len(entries))
	}
	if !equal(ids(got), []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want soonest first", ids(got))
	}

	// The cap still binds.
	got = Rank(entries, Options{MaxVehicles: 2})
	if len(got) != 2 {
		t.Errorf("cap not applied to single-route station: got %d, want 2", len(got))
	}
}

func TestRank_SingleRouteDedupOptIn(t *testing.T) {
	entries := []Entry{
		entry("a", "24", estimate.Arriving, 5),
		entry("b", "24", estimate.Arriving, 9),
	}
	got := Rank(entries, Options{MaxVehicles: 5, SingleRouteDedup: true})
	if len(got) != 1 || got[0].Vehicle.ID != "a" {
		t.Errorf("strict dedup = %v, want [a]", ids(got))
	}
}

func TestRank_AtStationFirst(t *testing.T) {
	entries := []Entry{
		entry("soon", "24", estimate.Arriving, 2),
		entry("here", "35", estimate.Arriving, 0),
		entry("gone", "40", estimate.Departing, 2),
	}
	got := Rank(entries, Options{MaxVehicles: 5, ShowAll: true})
	want := []string{"here", "soon", "gone"}
	if !equal(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
}

func TestRank_ArrivingBeforeDeparting(t *testing.T) {
	entries := []Entry{
		entry("left", "24", estimate.Departing, 1),
		entry("coming", "35", estimate.Arriving, 10),
		entry("lost", "40", estimate.Unknown, 0),
	}
	got := Rank(entries, Options{MaxVehicles: 5, ShowAll: true})
	want := []string{"coming", "left", "lost"}
	if !equal(ids(got), want) {
		t.Errorf("order = %v, want %v", ids(got), want)
	}
}

func TestRank_CapApplies(t *testing.T) {
	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, entry(string(rune('a'+i)), "24", estimate.Arriving, i+1))
	}
	got := Rank(entries, Options{MaxVehicles: 3, ShowAll: true})
	if len(got) != 3 {
		t.Errorf("cap not applied: got %d, want 3", len(got))
	}
	if !equal(ids(got), []string{"a", "b", "c"}) {
		t.Errorf("capped order = %v, want soonest three", ids(got))
	}
}

func TestRank_DeterministicTieBreak(t *testing.T) {
	entries := []Entry{
		entry("b", "24", estimate.Arriving, 5),
		entry("a", "35", estimate.Arriving, 5),
	}
	got := Rank(entries, Options{MaxVehicles: 5, ShowAll: true})
	if !equal(ids(got), []string{"a", "b"}) {
		t.Errorf("equal urgency should order by vehicle id, got %v", ids(got))
	}
}

func TestRank_EmptyInput(t *testing.T) {
	if got := Rank(nil, Options{MaxVehicles: 5}); len(got) != 0 {
		t.Errorf("empty input should give empty output, got %d", len(got))
	}
}
