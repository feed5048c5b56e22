package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	RedisAddr     string
	StreamName    string
	GroupName     string
	ConsumerName  string
	BikeStateHash string
	StationPrefix string

	ReadBlock        time.Duration
	ReadErrorBackoff time.Duration

	NATSURL           string
	NATSSubjectPrefix string
	MetricsAddr       string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from POSTGRES_* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("POSTGRES_SERVER", "127.0.0.1")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := getenvDefault("POSTGRES_USER", "postgres")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		if db == "" {
			return nil, errors.New("POSTGRES_DB or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("POSTGRES_SSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	// Redis address: REDIS_ADDR wins, else compose from host/port
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	} else {
		host := getenvDefault("REDIS_HOST", "127.0.0.1")
		port := getenvDefault("REDIS_PORT", "6379")
		cfg.RedisAddr = host + ":" + port
	}

	cfg.StreamName = getenvDefault("REDIS_STREAM_NAME", "bike_data_stream")
	cfg.GroupName = getenvDefault("REDIS_CONSUMER_GROUP", "processing_group")
	cfg.ConsumerName = getenvDefault("REDIS_CONSUMER_NAME", "processor_1")
	cfg.BikeStateHash = getenvDefault("REDIS_BIKE_STATE_HASH", "bike_states")
	cfg.StationPrefix = getenvDefault("REDIS_STATION_BIKES_SET_PREFIX", "station_bikes:")

	// Bounded wait on each stream read so shutdown is observed promptly
	if v := os.Getenv("READ_BLOCK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid READ_BLOCK_MS: %q", v)
		}
		cfg.ReadBlock = time.Duration(ms) * time.Millisecond
	} else {
		cfg.ReadBlock = 2 * time.Second
	}

	// Fixed back-off after a failed stream read
	if v := os.Getenv("READ_ERROR_BACKOFF_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid READ_ERROR_BACKOFF_SEC: %q", v)
		}
		cfg.ReadErrorBackoff = time.Duration(sec) * time.Second
	} else {
		cfg.ReadErrorBackoff = 5 * time.Second
	}

	// NATS fan-out of detected movements; empty URL disables it
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "bikes.movements")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
