// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the engine's metrics behind one registry.
type Collector struct {
	reg *prometheus.Registry

	CacheHits   *prometheus.CounterVec // kind label
	CacheMisses *prometheus.CounterVec

	FetchRetries   *prometheus.CounterVec // kind label
	FetchFallbacks *prometheus.CounterVec // served stale cached data
	FetchFailures  *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec // invalid records discarded

	CyclesTotal    prometheus.Counter
	CyclesPartial  prometheus.Counter
	CyclesFailed   prometheus.Counter
	CyclesRefused  prometheus.Counter // re-entrancy guard hits
	CycleDuration  prometheus.Histogram
	VehiclesRanked prometheus.Gauge
	StationsChosen prometheus.Gauge
}

// NewCollector creates and registers the engine metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	kinds := []string{"kind"}
	c := &Collector{
		reg: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_cache_hits_total",
			Help: "Cache hits by data kind.",
		}, kinds),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_cache_misses_total",
			Help: "Cache misses by data kind.",
		}, kinds),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_fetch_retries_total",
			Help: "Fetch retry attempts by data kind.",
		}, kinds),
		FetchFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_fetch_stale_fallbacks_total",
			Help: "Fetches served from expired cache after exhausted retries.",
		}, kinds),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_fetch_failures_total",
			Help: "Fetches that failed with no fallback.",
		}, kinds),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nearbus_records_dropped_total",
			Help: "Invalid records discarded during sanitization.",
		}, kinds),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nearbus_cycles_total",
			Help: "Evaluation cycles run.",
		}),
		CyclesPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nearbus_cycles_partial_total",
			Help: "Cycles that completed with degraded data.",
		}),
		CyclesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nearbus_cycles_failed_total",
			Help: "Cycles that produced no usable result.",
		}),
		CyclesRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nearbus_cycles_refused_total",
			Help: "Cycles refused because one was already in flight.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nearbus_cycle_duration_seconds",
			Help:    "Duration of full evaluation cycles.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		VehiclesRanked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nearbus_vehicles_ranked",
			Help: "Vehicles in the last published result.",
		}),
		StationsChosen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nearbus_stations_chosen",
			Help: "Stations in the last published result.",
		}),
	}

	reg.MustRegister(
		c.CacheHits, c.CacheMisses,
		c.FetchRetries, c.FetchFallbacks, c.FetchFailures, c.RecordsDropped,
		c.CyclesTotal, c.CyclesPartial, c.CyclesFailed, c.CyclesRefused,
		c.CycleDuration, c.VehiclesRanked, c.StationsChosen,
	)
	return c
}

// Handler serves the registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
