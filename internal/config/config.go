package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all pipeline settings, populated from environment variables.
// Components receive it (or fields of it) at construction; nothing reads
// ambient process state after Load returns.
type Config struct {
	DatabaseURL    string
	DataDir        string
	BoundariesPath string

	OpenDataBaseURL string
	AirparifURL     string
	PageSize        int
	RequestTimeout  time.Duration
	RatePerSecond   float64

	HTTPAddr        string
	HTTPTimeout     time.Duration
	ReadyTimeout    time.Duration
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	RunID  string
	DryRun bool
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is merged in first when
// present; real environment variables win.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	pageSize, err := envInt("PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := envDuration("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	readyTimeout, err := envDuration("READY_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	rate, err := envFloat("RATE_PER_SECOND", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DataDir:        envOrDefault("DATA_DIR", "data"),
		BoundariesPath: envOrDefault("BOUNDARIES_PATH", "data/arrondissements.geojson"),

		OpenDataBaseURL: envOrDefault("OPENDATA_BASE_URL", "https://opendata.paris.fr"),
		AirparifURL:     envOrDefault("AIRPARIF_URL", "https://services9.arcgis.com/7Sr9EkvgbJsCyFVQ/arcgis/rest/services/indice_atmo_agglo_paris/FeatureServer/0/query"),
		PageSize:        pageSize,
		RequestTimeout:  requestTimeout,
		RatePerSecond:   rate,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		HTTPTimeout:     httpTimeout,
		ReadyTimeout:    readyTimeout,
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		RunID:  os.Getenv("RUN_ID"),
		DryRun: os.Getenv("DRY_RUN") == "true",
	}

	if cfg.OpenDataBaseURL == "" {
		return nil, errors.New("OPENDATA_BASE_URL is required")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.New("PAGE_SIZE must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("REQUEST_TIMEOUT must be positive")
	}
	if cfg.RatePerSecond <= 0 {
		return nil, errors.New("RATE_PER_SECOND must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, errors.New("HTTP_TIMEOUT must be positive")
	}
	if cfg.ReadyTimeout <= 0 {
		return nil, errors.New("READY_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
