package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string

	// DataDir is the chunk cache root. Empty disables caching.
	DataDir string

	// Outbound fetch behaviour.
	MaxAttempts int           `validate:"min=1"`
	RetryDelay  time.Duration `validate:"min=0"`
	HTTPTimeout time.Duration `validate:"min=0"`

	// Upstream endpoints. Empty values fall back to the defaults baked
	// into each source.
	IEMBaseURL        string
	ASOSBaseURL       string
	NetworkURLPattern string

	// Irradiance archive access.
	NSRDBEndpoint    string
	NSRDBAPIKey      string
	NSRDBFilePattern string
	NSRDBDistanceKM  float64 `validate:"min=0"`

	// GeocoderAPIKey enables the station coordinate fallback.
	GeocoderAPIKey string

	// Station qualification.
	DropRate         float64 `validate:"min=0,max=1"`
	MissingThreshold float64 `validate:"min=0,max=1"`
	Concurrency      int     `validate:"min=0"`
	Sentinel         float64

	// CloudCoverScale selects the exported cloud coverage encoding.
	CloudCoverScale string `validate:"oneof=fraction categorical"`

	// Periodic refresh. Empty states and stations disable it.
	RefreshStates     string
	RefreshStations   []string
	RefreshSource     string
	RefreshIrradiance bool
	RefreshInterval   time.Duration
	RefreshWindow     time.Duration

	// Run store retention.
	StoreMaxHistory int           // max retained runs (0 = unlimited)
	StoreMaxAge     time.Duration // max age of finished runs (0 = unlimited)
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.DataDir = getenvDefault("DATA_DIR", "data")

	cfg.MaxAttempts = getenvInt("FETCH_MAX_ATTEMPTS", 10)
	retryDelay, err := time.ParseDuration(getenvDefault("FETCH_RETRY_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_RETRY_DELAY: %w", err)
	}
	cfg.RetryDelay = retryDelay
	httpTimeout, err := time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "120s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = httpTimeout

	cfg.IEMBaseURL = os.Getenv("IEM_BASE_URL")
	cfg.ASOSBaseURL = os.Getenv("ASOS_BASE_URL")
	cfg.NetworkURLPattern = os.Getenv("NETWORK_URL_PATTERN")

	cfg.NSRDBEndpoint = os.Getenv("NSRDB_ENDPOINT")
	cfg.NSRDBAPIKey = os.Getenv("NSRDB_API_KEY")
	cfg.NSRDBFilePattern = os.Getenv("NSRDB_FILE_PATTERN")
	cfg.NSRDBDistanceKM = getenvFloat("NSRDB_DISTANCE_KM", 0)

	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	cfg.DropRate = getenvFloat("STATION_DROP_RATE", 0)
	cfg.MissingThreshold = getenvFloat("STATION_MISSING_THRESHOLD", 1.0)
	cfg.Concurrency = getenvInt("STATION_CONCURRENCY", 4)
	cfg.Sentinel = getenvFloat("EXPORT_SENTINEL", -9999)
	cfg.CloudCoverScale = getenvDefault("EXPORT_CLOUD_COVER_SCALE", "fraction")

	cfg.RefreshStates = os.Getenv("REFRESH_STATES")
	if v := os.Getenv("REFRESH_STATIONS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.RefreshStations = append(cfg.RefreshStations, id)
			}
		}
	}
	cfg.RefreshSource = getenvDefault("REFRESH_SOURCE", "iem")
	cfg.RefreshIrradiance = getenvDefault("REFRESH_IRRADIANCE", "false") == "true"

	refreshInterval, err := time.ParseDuration(getenvDefault("REFRESH_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
	}
	cfg.RefreshInterval = refreshInterval
	refreshWindow, err := time.ParseDuration(getenvDefault("REFRESH_WINDOW", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_WINDOW: %w", err)
	}
	cfg.RefreshWindow = refreshWindow

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 32)
	maxAge, err := time.ParseDuration(getenvDefault("STORE_MAX_AGE", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_MAX_AGE: %w", err)
	}
	cfg.StoreMaxAge = maxAge

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
