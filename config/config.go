// Package config holds all application configuration loaded from
// environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string
	LogLevel      string

	// Stream ingestion
	ConsumerGroup string
	ConsumerName  string
	CreatedStream string
	UpdatedStream string
	DeletedStream string

	// Market data
	PrimaryQuoteURL  string
	FallbackQuoteURL string
	PriceCacheTTL    time.Duration
	RefreshInterval  time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first when
// present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env file")
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/positions.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "position-ledger"),
		ConsumerName:  getEnv("CONSUMER_NAME", defaultConsumerName()),
		CreatedStream: getEnv("CREATED_STREAM", "transactions:created"),
		UpdatedStream: getEnv("UPDATED_STREAM", "transactions:updated"),
		DeletedStream: getEnv("DELETED_STREAM", "transactions:deleted"),

		PrimaryQuoteURL:  getEnv("PRIMARY_QUOTE_URL", ""),
		FallbackQuoteURL: getEnv("FALLBACK_QUOTE_URL", ""),
		PriceCacheTTL:    getEnvDuration("PRICE_CACHE_TTL", 5*time.Minute),
		RefreshInterval:  getEnvDuration("REFRESH_INTERVAL", 15*time.Minute),
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "consumer-1"
	}
	return host
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
