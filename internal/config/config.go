// Package config loads application configuration: built-in defaults, an
// optional YAML file, then environment variables, each layer overriding the
// last. A .env file in the working directory is honored for development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nearbus/internal/transit"
)

// Duration is a time.Duration that unmarshals from "15s"-style YAML strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", n.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the runtime configuration. At least one data source must be
// configured: a remote agency API (AgencyBaseURL) or a local GTFS database
// (DBPath). When both are set the remote API wins.
type Config struct {
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
	LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`

	AgencyID      string `yaml:"agencyId"`
	AgencyBaseURL string `yaml:"agencyBaseUrl" validate:"required_without=DBPath,omitempty,url"`
	VehiclesURL   string `yaml:"vehiclesUrl" validate:"omitempty,url"` // GTFS-RT feed; defaults to <base>/vehiclepositions
	APIKey        string `yaml:"apiKey"`

	// DBPath enables local mode: topology and simulated vehicles served from
	// a GTFS import instead of the network.
	DBPath string `yaml:"dbPath" validate:"required_without=AgencyBaseURL"`

	CacheCapacity   int      `yaml:"cacheCapacity" validate:"gte=0"`
	RefreshInterval Duration `yaml:"refreshInterval" validate:"gte=0"`

	MaxStations              int     `yaml:"maxStations" validate:"gt=0"`
	MaxVehiclesPerStation    int     `yaml:"maxVehiclesPerStation" validate:"gt=0"`
	SearchRadiusMeters       float64 `yaml:"searchRadiusMeters" validate:"gt=0"`
	SecondaryThresholdMeters float64 `yaml:"secondaryThresholdMeters" validate:"gt=0"`
	MinutesPerStop           int     `yaml:"minutesPerStop" validate:"gt=0"`

	ShowAllVehicles bool `yaml:"showAllVehicles"`
	// SingleRouteDedup opts out of the single-route display exception:
	// stations served by one distinct route then show one vehicle instead of
	// up to the cap.
	SingleRouteDedup bool `yaml:"singleRouteDedup"`

	FavoriteRoutes     []string `yaml:"favoriteRoutes"`
	FavoritesExclusive bool     `yaml:"favoritesExclusive"`
}

func defaults() *Config {
	return &Config{
		Port:                     8080,
		LogLevel:                 "info",
		CacheCapacity:            200,
		RefreshInterval:          Duration(15 * time.Second),
		MaxStations:              2,
		MaxVehiclesPerStation:    5,
		SearchRadiusMeters:       5000,
		SecondaryThresholdMeters: 500,
		MinutesPerStop:           2,
	}
}

// Load builds the configuration. path names an optional YAML file; "" skips
// the file layer. Environment variables always win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, transit.NewError(transit.KindConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, transit.NewError(transit.KindConfig, "parse config file", err)
		}
	}
	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, transit.NewError(transit.KindConfig, "validate config", simplify(err))
	}

	if cfg.VehiclesURL == "" && cfg.AgencyBaseURL != "" {
		cfg.VehiclesURL = strings.TrimRight(cfg.AgencyBaseURL, "/") + "/vehiclepositions"
	}
	return cfg, nil
}

// LocalMode reports whether the engine reads from a local GTFS database
// instead of a remote agency API.
func (c *Config) LocalMode() bool { return c.AgencyBaseURL == "" && c.DBPath != "" }

func (c *Config) applyEnv() {
	c.Port = envInt("NEARBUS_PORT", c.Port)
	c.LogLevel = envStr("NEARBUS_LOG_LEVEL", c.LogLevel)
	c.AgencyID = envStr("NEARBUS_AGENCY_ID", c.AgencyID)
	c.AgencyBaseURL = envStr("NEARBUS_AGENCY_URL", c.AgencyBaseURL)
	c.VehiclesURL = envStr("NEARBUS_VEHICLES_URL", c.VehiclesURL)
	c.APIKey = envStr("NEARBUS_API_KEY", c.APIKey)
	c.DBPath = envStr("NEARBUS_DB_PATH", c.DBPath)
	c.CacheCapacity = envInt("NEARBUS_CACHE_CAPACITY", c.CacheCapacity)
	c.RefreshInterval = Duration(envDur("NEARBUS_REFRESH_INTERVAL", c.RefreshInterval.Std()))
	c.MaxStations = envInt("NEARBUS_MAX_STATIONS", c.MaxStations)
	c.MaxVehiclesPerStation = envInt("NEARBUS_MAX_VEHICLES", c.MaxVehiclesPerStation)
	c.SearchRadiusMeters = envFloat("NEARBUS_SEARCH_RADIUS_M", c.SearchRadiusMeters)
	c.SecondaryThresholdMeters = envFloat("NEARBUS_SECONDARY_THRESHOLD_M", c.SecondaryThresholdMeters)
	c.MinutesPerStop = envInt("NEARBUS_MINUTES_PER_STOP", c.MinutesPerStop)
	c.ShowAllVehicles = envBool("NEARBUS_SHOW_ALL_VEHICLES", c.ShowAllVehicles)
	c.SingleRouteDedup = envBool("NEARBUS_SINGLE_ROUTE_DEDUP", c.SingleRouteDedup)
	c.FavoritesExclusive = envBool("NEARBUS_FAVORITES_EXCLUSIVE", c.FavoritesExclusive)
	if v := os.Getenv("NEARBUS_FAVORITE_ROUTES"); v != "" {
		c.FavoriteRoutes = splitList(v)
	}
}

// simplify flattens validator's per-field errors into one readable message.
func simplify(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		parts[i] = fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%s", strings.Join(parts, ", "))
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
