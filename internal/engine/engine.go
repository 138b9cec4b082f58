// Package engine correlates rider location with transit topology and live
// vehicle telemetry: it pulls data through the resilient fetchers, selects
// the nearest stations, estimates per-vehicle arrivals, ranks them and
// publishes one stable result per evaluation cycle.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nearbus/internal/estimate"
	"nearbus/internal/fetch"
	"nearbus/internal/metrics"
	"nearbus/internal/proximity"
	"nearbus/internal/rank"
	"nearbus/internal/transit"
)

// ErrCycleInFlight is returned when Evaluate is called while a cycle is
// already running. Callers wanting to preempt use EvaluateForced.
var ErrCycleInFlight = errors.New("evaluation cycle already in flight")

// phase labels for cycle logging.
type phase string

const (
	phaseFetching   phase = "fetching-data"
	phaseSelecting  phase = "selecting"
	phaseEstimating phase = "estimating"
	phaseGrouping   phase = "grouping"
	phasePublished  phase = "published"
)

// Options tune one evaluation. Zero values fall back to the defaults below.
type Options struct {
	MaxStations                     int     // default 2
	MaxVehiclesPerStation           int     // default 5
	ShowAllVehiclesPerRoute         bool    // skip per-route dedup
	SearchRadiusMeters              float64 // default 5000
	SecondaryStationThresholdMeters float64 // default 500
	MinutesPerStop                  int     // default estimate.DefaultMinutesPerStop
	// SingleRouteDedup keeps the one-per-route rule even for stations served
	// by a single distinct route; off by default, matching the display
	// exception.
	SingleRouteDedup bool

	FilterByFavorites  bool
	FavoriteRouteIDs   []string
	FavoritesExclusive bool

	// ForceRefresh bypasses every cache for this cycle.
	ForceRefresh bool
}

func (o Options) withDefaults() Options {
	if o.MaxStations <= 0 {
		o.MaxStations = 2
	}
	if o.MaxVehiclesPerStation <= 0 {
		o.MaxVehiclesPerStation = 5
	}
	if o.SearchRadiusMeters <= 0 {
		o.SearchRadiusMeters = 5000
	}
	if o.SecondaryStationThresholdMeters <= 0 {
		o.SecondaryStationThresholdMeters = 500
	}
	if o.MinutesPerStop <= 0 {
		o.MinutesPerStop = estimate.DefaultMinutesPerStop
	}
	return o
}

// RouteSummary is the per-route rollup inside a station group.
type RouteSummary struct {
	RouteID      string `json:"routeId"`
	Name         string `json:"name"`
	VehicleCount int    `json:"vehicleCount"`
}

// StationGroup is the externally visible unit: one selected station with its
// ranked vehicles. Recomputed every cycle, never patched.
type StationGroup struct {
	Station          transit.Station `json:"station"`
	DistanceMeters   float64         `json:"distanceMeters"`
	Class            proximity.Class `json:"classification"`
	MatchesFavorites bool            `json:"matchesFavoriteRoutes"`
	Vehicles         []rank.Entry    `json:"vehicles"`
	Routes           []RouteSummary  `json:"routes"`
}

// Result is one published evaluation cycle.
type Result struct {
	Groups      []StationGroup
	GeneratedAt time.Time
	// Stale marks data served from an expired cache after a fetch failure.
	Stale bool
	// Partial marks a cycle that continued with some data kinds missing.
	Partial bool
	// Err carries the aggregated fetch errors of a partial or failed cycle.
	// A result with groups and a non-nil Err is still renderable.
	Err error
}

// Engine is the correlation orchestrator. One instance per configured
// agency; all state beyond the caches is per-cycle.
type Engine struct {
	fetchers *fetch.Set
	logger   *slog.Logger
	obs      *metrics.Collector // optional

	mu       sync.Mutex
	running  bool
	cycleSeq uint64
	cancel   context.CancelFunc // cancels the in-flight cycle
	lastGood *Result

	now func() time.Time
}

// New creates an engine on top of a fetcher set.
func New(fetchers *fetch.Set, logger *slog.Logger, obs *metrics.Collector) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fetchers: fetchers, logger: logger, obs: obs, now: time.Now}
}

// Evaluate runs one cycle. A nil or invalid location short-circuits to a
// typed NoLocation result without touching the network. While a cycle is in
// flight, further calls fail with ErrCycleInFlight.
func (e *Engine) Evaluate(ctx context.Context, loc *transit.Coordinates, opts Options) (*Result, error) {
	return e.evaluate(ctx, loc, opts, false)
}

// EvaluateForced preempts any in-flight cycle: the stale cycle's output is
// discarded and its network requests are aborted.
func (e *Engine) EvaluateForced(ctx context.Context, loc *transit.Coordinates, opts Options) (*Result, error) {
	return e.evaluate(ctx, loc, opts, true)
}

func (e *Engine) evaluate(ctx context.Context, loc *transit.Coordinates, opts Options, force bool) (*Result, error) {
	opts = opts.withDefaults()

	if loc == nil || !loc.Valid() {
		err := transit.NewError(transit.KindNoLocation, "evaluate", nil)
		return &Result{GeneratedAt: e.now(), Err: err}, err
	}

	e.mu.Lock()
	if e.running {
		if !force {
			e.mu.Unlock()
			e.count(func(c *metrics.Collector) { c.CyclesRefused.Inc() })
			return nil, ErrCycleInFlight
		}
		// Abort the stale cycle; bumping the sequence below makes sure its
		// late result is never published.
		e.cancel()
	}
	e.running = true
	e.cycleSeq++
	seq := e.cycleSeq
	cycleCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		if seq == e.cycleSeq {
			e.running = false
		}
		e.mu.Unlock()
	}()

	started := e.now()
	res := e.runCycle(cycleCtx, *loc, opts)
	res.GeneratedAt = e.now()

	e.count(func(c *metrics.Collector) {
		c.CyclesTotal.Inc()
		c.CycleDuration.Observe(e.now().Sub(started).Seconds())
		if res.Partial {
			c.CyclesPartial.Inc()
		}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.cycleSeq {
		// A forced cycle superseded this one; its output is not published.
		return res, res.Err
	}

	if res.Err != nil && len(res.Groups) == 0 {
		e.count(func(c *metrics.Collector) { c.CyclesFailed.Inc() })
		// Degrade to the last known good result rather than blanking the
		// display, keeping the error visible.
		if e.lastGood != nil {
			stale := *e.lastGood
			stale.Stale = true
			stale.Err = res.Err
			return &stale, res.Err
		}
		return res, res.Err
	}

	e.count(func(c *metrics.Collector) {
		var vehicles int
		for _, g := range res.Groups {
			vehicles += len(g.Vehicles)
		}
		c.VehiclesRanked.Set(float64(vehicles))
		c.StationsChosen.Set(float64(len(res.Groups)))
	})

	good := *res
	e.lastGood = &good
	return res, nil
}

// snapshot is the consistent view of all four data kinds one cycle works on.
type snapshot struct {
	stations  []transit.Station
	routes    []transit.Route
	stopTimes []transit.StopTime
	vehicles  []transit.Vehicle
	stale     bool
	errs      []*transit.Error
}

func (e *Engine) runCycle(ctx context.Context, origin transit.Coordinates, opts Options) *Result {
	e.logger.Debug("cycle phase", "phase", phaseFetching)
	snap := e.fetchAll(ctx, opts.ForceRefresh)

	res := &Result{Stale: snap.stale}
	if len(snap.errs) > 0 {
		res.Partial = true
		res.Err = &transit.CycleError{Errs: snap.errs}
	}
	if len(snap.errs) == 4 {
		// Every fetcher failed with no fallback: nothing to correlate.
		return res
	}

	e.logger.Debug("cycle phase", "phase", phaseSelecting)
	favorites := make(map[string]bool)
	if opts.FilterByFavorites {
		for _, id := range opts.FavoriteRouteIDs {
			favorites[id] = true
		}
	}
	candidates := proximity.Select(snap.stations, snap.vehicles, snap.stopTimes, proximity.Params{
		Origin:                   origin,
		MaxStations:              opts.MaxStations,
		SearchRadiusMeters:       opts.SearchRadiusMeters,
		SecondaryThresholdMeters: opts.SecondaryStationThresholdMeters,
		FavoriteRoutes:           favorites,
		FavoritesExclusive:       opts.FavoritesExclusive,
	})

	e.logger.Debug("cycle phase", "phase", phaseEstimating)
	routesByID := make(map[string]transit.Route, len(snap.routes))
	for _, r := range snap.routes {
		routesByID[r.ID] = r
	}

	now := e.now()
	for _, c := range candidates {
		entries := make([]rank.Entry, 0, len(c.Vehicles))
		counts := make(map[string]int)
		for _, v := range c.Vehicles {
			route, ok := routesByID[v.RouteID]
			if !ok {
				// Routes kind may be missing in a partial cycle; fall back
				// to the bare identifier.
				route = transit.Route{ID: v.RouteID, ShortName: v.RouteID}
			}
			entries = append(entries, rank.Entry{
				Vehicle:  v,
				Route:    route,
				Estimate: estimate.Arrival(v, c.Station.ID, snap.stopTimes, now, opts.MinutesPerStop),
			})
			counts[v.RouteID]++
		}

		e.logger.Debug("cycle phase", "phase", phaseGrouping, "station", c.Station.ID)
		ranked := rank.Rank(entries, rank.Options{
			MaxVehicles:      opts.MaxVehiclesPerStation,
			ShowAll:          opts.ShowAllVehiclesPerRoute,
			SingleRouteDedup: opts.SingleRouteDedup,
		})

		summaries := make([]RouteSummary, 0, len(c.RouteIDs))
		for _, id := range c.RouteIDs {
			name := id
			if r, ok := routesByID[id]; ok {
				name = r.DisplayName()
			}
			summaries = append(summaries, RouteSummary{RouteID: id, Name: name, VehicleCount: counts[id]})
		}

		res.Groups = append(res.Groups, StationGroup{
			Station:          c.Station,
			DistanceMeters:   c.DistanceMeters,
			Class:            c.Class,
			MatchesFavorites: c.MatchesFavorites,
			Vehicles:         ranked,
			Routes:           summaries,
		})
	}

	e.logger.Debug("cycle phase", "phase", phasePublished,
		"stations", len(res.Groups), "partial", res.Partial, "stale", res.Stale)
	return res
}

// fetchAll pulls all four kinds for one cycle. A failed kind contributes an
// error and an empty slice; the cycle decides whether that is survivable.
func (e *Engine) fetchAll(ctx context.Context, force bool) snapshot {
	var snap snapshot
	opts := fetch.Options{ForceRefresh: force}

	var lastErr *transit.Error
	record := func(op string, stale bool, err error) bool {
		lastErr = nil
		if err != nil {
			var te *transit.Error
			if !errors.As(err, &te) {
				te = transit.NewError(transit.KindNetwork, op, err)
			}
			snap.errs = append(snap.errs, te)
			lastErr = te
			return false
		}
		snap.stale = snap.stale || stale
		return true
	}

	// An authentication failure on any kind stops the cycle's remaining
	// fetches: the same credentials would fail again.
	authAbort := func(remaining ...string) bool {
		if lastErr == nil || lastErr.Kind != transit.KindAuth {
			return false
		}
		for _, op := range remaining {
			snap.errs = append(snap.errs, transit.NewError(transit.KindAuth, op, nil))
		}
		return true
	}

	if r, err := e.fetchers.Stations.Fetch(ctx, fetch.KeyStations, opts); record("fetch stations", r.Stale, err) {
		snap.stations = r.Records
	}
	if authAbort("fetch routes", "fetch stop times", "fetch vehicles") {
		return snap
	}

	if r, err := e.fetchers.Routes.Fetch(ctx, fetch.KeyRoutes, opts); record("fetch routes", r.Stale, err) {
		snap.routes = r.Records
	}
	if authAbort("fetch stop times", "fetch vehicles") {
		return snap
	}

	if r, err := e.fetchers.StopTimes.Fetch(ctx, fetch.KeyStopTimes, opts); record("fetch stop times", r.Stale, err) {
		snap.stopTimes = r.Records
	}
	if authAbort("fetch vehicles") {
		return snap
	}

	if r, err := e.fetchers.Vehicles.Fetch(ctx, fetch.KeyVehicles, opts); record("fetch vehicles", r.Stale, err) {
		snap.vehicles = r.Records
	}
	return snap
}

// Invalidate drops every cached dataset so the next Evaluate refetches.
func (e *Engine) Invalidate() {
	e.fetchers.Invalidate()
}

// LastGood returns the most recent successfully published result, nil if
// none yet.
func (e *Engine) LastGood() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGood
}

func (e *Engine) count(fn func(*metrics.Collector)) {
	if e.obs != nil {
		fn(e.obs)
	}
}
