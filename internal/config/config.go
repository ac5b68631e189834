package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the rider API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	GeocodeCacheTTL time.Duration

	KafkaBrokers   []string
	EventsTopic    string // ride lifecycle events we publish
	LocationsTopic string // driver locations we consume
	StatusTopic    string // driver-side status transitions we consume
	KafkaGroup     string

	PGDSN string

	GeocodeEndpoint string
	RouteEndpoint   string

	UploadEndpoint string
	UploadPreset   string

	StripeAPIKey string
	Currency     string

	AuthSecret string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		GeocodeCacheTTL: 15 * time.Minute,
		EventsTopic:     "ride-events",
		LocationsTopic:  "driver-locations",
		StatusTopic:     "ride-status",
		KafkaGroup:      "rider-api-consumer",
		GeocodeEndpoint: "https://nominatim.openstreetmap.org",
		RouteEndpoint:   "https://router.project-osrm.org",
		Currency:        "inr",
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	// optional .env for local runs; real deployments set the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return ServerConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.EventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.LocationsTopic, "KAFKA_LOCATIONS_TOPIC")
	setStringFromEnv(&cfg.StatusTopic, "KAFKA_STATUS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.GeocodeEndpoint, "GEOCODE_ENDPOINT")
	setStringFromEnv(&cfg.RouteEndpoint, "ROUTE_ENDPOINT")

	setStringFromEnv(&cfg.UploadEndpoint, "UPLOAD_ENDPOINT")
	setStringFromEnv(&cfg.UploadPreset, "UPLOAD_PRESET")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.Currency, "PAYMENT_CURRENCY")

	cfg.AuthSecret = os.Getenv("AUTH_TOKEN_SECRET")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.GeocodeCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_CACHE_TTL must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
