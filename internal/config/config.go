// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// storage tiers (SQLite path, Redis connection, TTLs and bounds), the
// deduplication engine, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig defines the cache-tier connection. An empty Addr disables
// the tier entirely; the store degrades to durable + fallback.
type RedisConfig struct {
	Addr     string // REDIS_ADDR (e.g. "localhost:6379"); empty = tier absent
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the conversation store.
type Config struct {
	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Durable tier
	DBPath string // SQLite path

	// Cache tier
	Redis         RedisConfig
	CacheTTL      time.Duration // absolute entry TTL, refreshed on write
	CacheMaxTurns int           // list bound, trimmed on write

	// Fallback tier
	FallbackCapacity int // ring size per (user, platform) key

	// Read path. "cache-first" may serve data staler than durable truth
	// within the TTL window; "durable-first" pays a query per read.
	ReadPreference string

	// Dedup engine
	DedupCapacity int // fingerprints retained per set

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Durable tier
		DBPath: getenv("DB_PATH", "conversations.db"),

		// Cache tier
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},
		CacheTTL:      getdur("CACHE_TTL", 15*time.Minute),
		CacheMaxTurns: getint("CACHE_MAX_TURNS", 50),

		// Fallback tier
		FallbackCapacity: getint("FALLBACK_CAPACITY", 20),

		// Read path
		ReadPreference: strings.ToLower(getenv("READ_PREFERENCE", "cache-first")),

		// Dedup
		DedupCapacity: getint("DEDUP_CAPACITY", 1000),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-state"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.CacheTTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be > 0")
	}
	if cfg.CacheMaxTurns < 1 {
		return cfg, errors.New("CACHE_MAX_TURNS must be >= 1")
	}
	if cfg.FallbackCapacity < 1 {
		return cfg, errors.New("FALLBACK_CAPACITY must be >= 1")
	}
	switch cfg.ReadPreference {
	case "cache-first", "durable-first":
	default:
		return cfg, errors.New("READ_PREFERENCE must be cache-first or durable-first")
	}
	if cfg.DedupCapacity < 10 {
		return cfg, errors.New("DEDUP_CAPACITY must be >= 10")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
