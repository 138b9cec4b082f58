package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nearbus/internal/agency"
	"nearbus/internal/api"
	"nearbus/internal/config"
	"nearbus/internal/engine"
	"nearbus/internal/fetch"
	"nearbus/internal/metrics"
	"nearbus/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick the data source: remote agency API or a local GTFS database.
	var client agency.Client
	if cfg.LocalMode() {
		db, err := storage.Open(cfg.DBPath, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if !db.HasData(ctx) {
			logger.Warn("local database holds no GTFS data yet", "path", cfg.DBPath)
		}
		client = agency.NewLocalClient(db, logger)
		logger.Info("local agency mode", "db", cfg.DBPath)
	} else {
		client = agency.NewHTTPClient(cfg.AgencyBaseURL, cfg.AgencyID, cfg.VehiclesURL, cfg.APIKey, logger)
		logger.Info("remote agency mode", "url", cfg.AgencyBaseURL, "agency", cfg.AgencyID)
	}

	obs := metrics.NewCollector()
	set := fetch.NewSet(client, cfg.CacheCapacity, logger, obs)
	set.Start()
	defer set.Close()

	eng := engine.New(set, logger, obs)
	opts := engineOptions(cfg)

	// Scheduled re-evaluation keeps the vehicle picture current for the
	// last reported rider position.
	sched := engine.NewScheduler(cfg.RefreshInterval.Std())
	sched.Start()
	defer sched.Stop()

	var lastLoc atomicLocation
	go eng.Run(ctx, sched, lastLoc.Get, opts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           trackLocation(&lastLoc, api.New(eng, opts, logger, obs)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("nearbus listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		MaxStations:                     cfg.MaxStations,
		MaxVehiclesPerStation:           cfg.MaxVehiclesPerStation,
		ShowAllVehiclesPerRoute:         cfg.ShowAllVehicles,
		SearchRadiusMeters:              cfg.SearchRadiusMeters,
		SecondaryStationThresholdMeters: cfg.SecondaryThresholdMeters,
		MinutesPerStop:                  cfg.MinutesPerStop,
		SingleRouteDedup:                cfg.SingleRouteDedup,
		FilterByFavorites:               len(cfg.FavoriteRoutes) > 0,
		FavoriteRouteIDs:                cfg.FavoriteRoutes,
		FavoritesExclusive:              cfg.FavoritesExclusive,
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
