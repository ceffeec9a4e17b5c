package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// NWS API client.
	NWSBaseURL     string
	NWSUserAgent   string
	NWSTimeout     time.Duration
	PointCacheSize int

	// Politeness and concurrency for per-cell fetches.
	FetchDelay       time.Duration
	FetchJitter      time.Duration
	FetchConcurrency int
	FetchRate        float64

	// Corner acquisition.
	CornerShift       float64
	CornerMaxAttempts int
	CornerRetryDelay  time.Duration

	// Nearest-value search.
	SearchMaxRadius int
	SearchCellKm    float64
	SearchMaxKm     float64

	SweepTimeout time.Duration

	// Dataset storage.
	StoreBackend string
	StoreDir     string
	RedisURL     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Bucket     string
	S3UseSSL     bool

	// Cell record publishing; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	nwsTimeout, err := parsePositiveDuration("NWS_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchDelay, err := parseNonNegativeDuration("FETCH_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	fetchJitter, err := parseNonNegativeDuration("FETCH_JITTER", "50ms")
	if err != nil {
		return nil, err
	}
	if fetchJitter > fetchDelay {
		return nil, errors.New("FETCH_JITTER must not exceed FETCH_DELAY")
	}
	cornerRetryDelay, err := parseNonNegativeDuration("CORNER_RETRY_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	sweepTimeout, err := parseNonNegativeDuration("SWEEP_TIMEOUT", "0s")
	if err != nil {
		return nil, err
	}

	fetchConcurrency, err := parseInt("FETCH_CONCURRENCY", 1, 1, 32)
	if err != nil {
		return nil, err
	}
	cornerMaxAttempts, err := parseInt("CORNER_MAX_ATTEMPTS", 0, 0, 1_000_000)
	if err != nil {
		return nil, err
	}
	searchMaxRadius, err := parseInt("SEARCH_MAX_RADIUS", 8, 1, 50)
	if err != nil {
		return nil, err
	}

	fetchRate, err := parseFloat("FETCH_RATE", 2, false)
	if err != nil {
		return nil, err
	}
	cornerShift, err := parseFloat("CORNER_SHIFT", 0.01, false)
	if err != nil {
		return nil, err
	}
	searchCellKm, err := parseFloat("SEARCH_CELL_KM", 2.5, false)
	if err != nil {
		return nil, err
	}
	searchMaxKm, err := parseFloat("SEARCH_MAX_KM", 0, true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		NWSBaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("NWS_BASE_URL", "https://api.weather.gov"), "/"),
		NWSUserAgent:   sharedcfg.EnvOrDefault("NWS_USER_AGENT", "marine-grid-etl (ops@example.com)"),
		NWSTimeout:     nwsTimeout,
		PointCacheSize: parsePointCacheSize(),

		FetchDelay:       fetchDelay,
		FetchJitter:      fetchJitter,
		FetchConcurrency: fetchConcurrency,
		FetchRate:        fetchRate,

		CornerShift:       cornerShift,
		CornerMaxAttempts: cornerMaxAttempts,
		CornerRetryDelay:  cornerRetryDelay,

		SearchMaxRadius: searchMaxRadius,
		SearchCellKm:    searchCellKm,
		SearchMaxKm:     searchMaxKm,

		SweepTimeout: sweepTimeout,

		StoreBackend: sharedcfg.EnvOrDefault("STORE_BACKEND", "file"),
		StoreDir:     sharedcfg.EnvOrDefault("STORE_DIR", "data"),
		RedisURL:     sharedcfg.EnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3AccessKey:  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:  os.Getenv("S3_SECRET_KEY"),
		S3Bucket:     sharedcfg.EnvOrDefault("S3_BUCKET", "marine-grid"),
		S3UseSSL:     os.Getenv("S3_USE_SSL") == "true",

		KafkaBrokers: parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "marine-grid-cells"),
	}

	if cfg.NWSUserAgent == "" {
		return nil, errors.New("NWS_USER_AGENT is required")
	}
	switch cfg.StoreBackend {
	case "file", "redis":
	case "s3":
		if cfg.S3Endpoint == "" {
			return nil, errors.New("STORE_BACKEND is s3 but S3_ENDPOINT is not set")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// PublishEnabled reports whether cell records are published to Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseNonNegativeDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseFloat(key string, def float64, allowZero bool) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || (v == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parsePointCacheSize() int {
	if s := os.Getenv("POINT_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
