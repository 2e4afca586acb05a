package config

import (
	"os"
	"strconv"
	"time"
)

// Config centralizes runtime settings for the aggregation workers.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RequestStream       string
	ResultStream        string
	ConsolidationStream string
	CompletedStream     string
	StreamGroup         string
	StreamConsumer      string
	MaxAttempts         int

	JobTTLSeconds          int
	ResultCacheTTLSeconds  int
	ExpansionMinTTLSeconds int
	CollateralFactor       float64

	DatabaseURL string

	PriceAPIBaseURL    string
	LogoAPIBaseURL     string
	HydrationTimeoutMS int
	HydrationRPS       float64
	HydrationBurst     int

	AggregatorEnabled   bool
	ConsolidatorEnabled bool
}

func Load() Config {
	return Config{
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RequestStream:       getEnv("STREAM_INTEGRATION_REQUESTS", "integration_requests"),
		ResultStream:        getEnv("STREAM_INTEGRATION_RESULTS", "integration_results"),
		ConsolidationStream: getEnv("STREAM_CONSOLIDATION_REQUESTS", "consolidation_requests"),
		CompletedStream:     getEnv("STREAM_AGGREGATION_COMPLETED", "aggregation_completed"),
		StreamGroup:         getEnv("STREAM_GROUP", "portfolio_workers"),
		StreamConsumer:      getEnv("STREAM_CONSUMER", "worker-1"),
		MaxAttempts:         getEnvInt("STREAM_MAX_ATTEMPTS", 3),

		JobTTLSeconds:          getEnvInt("JOB_TTL_SECONDS", 600),
		ResultCacheTTLSeconds:  getEnvInt("RESULT_CACHE_TTL_SECONDS", 300),
		ExpansionMinTTLSeconds: getEnvInt("EXPANSION_MIN_TTL_SECONDS", 30),
		CollateralFactor:       getEnvFloat("COLLATERAL_FACTOR", 0.8),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		PriceAPIBaseURL:    getEnv("PRICE_API_BASE_URL", ""),
		LogoAPIBaseURL:     getEnv("LOGO_API_BASE_URL", ""),
		HydrationTimeoutMS: getEnvInt("HYDRATION_TIMEOUT_MS", 10000),
		HydrationRPS:       getEnvFloat("HYDRATION_RPS", 5),
		HydrationBurst:     getEnvInt("HYDRATION_BURST", 10),

		AggregatorEnabled:   getEnvBool("AGGREGATOR_ENABLED", true),
		ConsolidatorEnabled: getEnvBool("CONSOLIDATOR_ENABLED", true),
	}
}

func (c Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLSeconds) * time.Second
}

// ResultCacheTTL clamps the configured cache TTL to the 1–60 minute window.
func (c Config) ResultCacheTTL() time.Duration {
	ttl := time.Duration(c.ResultCacheTTLSeconds) * time.Second
	if ttl < time.Minute {
		return time.Minute
	}
	if ttl > 60*time.Minute {
		return 60 * time.Minute
	}
	return ttl
}

func (c Config) ExpansionMinTTL() time.Duration {
	return time.Duration(c.ExpansionMinTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
