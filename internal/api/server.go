// Package api exposes the correlation engine over HTTP as JSON.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"nearbus/internal/engine"
	"nearbus/internal/metrics"
	"nearbus/internal/transit"
)

// Server routes HTTP requests to the engine.
type Server struct {
	engine *engine.Engine
	base   engine.Options
	logger *slog.Logger
	router *mux.Router
}

// New creates the server. base supplies the configured defaults; query
// parameters override per request. obs may be nil to skip the /metrics
// endpoint.
func New(eng *engine.Engine, base engine.Options, logger *slog.Logger, obs *metrics.Collector) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: eng, base: base, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/api/nearby", s.handleNearby).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if obs != nil {
		s.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	}
	s.router.Use(s.requestLogger)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// nearbyResponse is the wire shape of one published cycle.
type nearbyResponse struct {
	Groups      []engine.StationGroup `json:"stations"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Stale       bool                  `json:"stale"`
	Partial     bool                  `json:"partial"`
	Warning     string                `json:"warning,omitempty"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeError(w, http.StatusBadRequest, "lat and lon query parameters are required")
		return
	}
	loc := transit.Coordinates{Lat: lat, Lon: lon}

	opts := s.base
	if v := q.Get("maxStations"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxStations = n
		}
	}
	if v := q.Get("maxVehicles"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxVehiclesPerStation = n
		}
	}
	if v := q.Get("radius"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			opts.SearchRadiusMeters = f
		}
	}
	if q.Get("showAll") == "1" {
		opts.ShowAllVehiclesPerRoute = true
	}
	opts.ForceRefresh = q.Get("refresh") == "1"

	var (
		res *engine.Result
		err error
	)
	if opts.ForceRefresh {
		res, err = s.engine.EvaluateForced(r.Context(), &loc, opts)
	} else {
		res, err = s.engine.Evaluate(r.Context(), &loc, opts)
	}

	if err != nil && (res == nil || len(res.Groups) == 0) {
		status, msg := statusFor(err)
		s.logger.Warn("nearby request failed", "status", status, "error", err)
		writeError(w, status, msg)
		return
	}

	resp := nearbyResponse{
		Groups:      res.Groups,
		GeneratedAt: res.GeneratedAt,
		Stale:       res.Stale,
		Partial:     res.Partial,
	}
	if resp.Groups == nil {
		resp.Groups = []engine.StationGroup{}
	}
	if res.Err != nil {
		resp.Warning = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors onto HTTP statuses. The error kind was decided
// at the boundary that raised it; this is a pure translation.
func statusFor(err error) (int, string) {
	if errors.Is(err, engine.ErrCycleInFlight) {
		return http.StatusConflict, "an evaluation is already in progress"
	}
	var ce *transit.CycleError
	if errors.As(err, &ce) {
		switch ce.Severity() {
		case transit.KindAuth:
			return http.StatusBadGateway, "agency rejected our credentials"
		case transit.KindConfig:
			return http.StatusServiceUnavailable, "no transit agency configured"
		default:
			return http.StatusBadGateway, "agency data is unavailable"
		}
	}
	switch {
	case transit.IsKind(err, transit.KindNoLocation):
		return http.StatusBadRequest, "a valid location is required"
	case transit.IsKind(err, transit.KindConfig):
		return http.StatusServiceUnavailable, "no transit agency configured"
	case transit.IsKind(err, transit.KindAuth):
		return http.StatusBadGateway, "agency rejected our credentials"
	default:
		return http.StatusBadGateway, "agency data is unavailable"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
