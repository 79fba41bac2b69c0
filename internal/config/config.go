// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the cache database (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Provider credentials
	AlphaVantageAPIKey string
	PlaidClientID      string
	PlaidSecret        string
	PlaidEnvironment   string // sandbox, development, production

	// Rate limits (requests per minute, sliding window)
	AlphaVantageRateLimit int
	YahooRateLimit        int
	PlaidRateLimit        int

	// Circuit breaker
	CircuitBreakerThreshold int           // consecutive failures before the circuit opens
	CircuitBreakerCooldown  time.Duration // open -> half-open delay

	// Upstream HTTP timeout
	HTTPTimeout time.Duration

	// Cache freshness windows per entity type
	QuoteTTL        time.Duration
	MetricsTTL      time.Duration
	TransactionsTTL time.Duration // retention, not freshness - transactions are never served from cache
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, resolve to absolute path and ensure it exists
	dataDir := getEnv("FINDATA_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		PlaidClientID:      getEnv("PLAID_CLIENT_ID", ""),
		PlaidSecret:        getEnv("PLAID_SECRET", ""),
		PlaidEnvironment:   getEnv("PLAID_ENV", "sandbox"),

		AlphaVantageRateLimit: getEnvAsInt("ALPHAVANTAGE_RATE_LIMIT", 5),
		YahooRateLimit:        getEnvAsInt("YAHOO_RATE_LIMIT", 60),
		PlaidRateLimit:        getEnvAsInt("PLAID_RATE_LIMIT", 30),

		CircuitBreakerThreshold: getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerCooldown:  getEnvAsDuration("CIRCUIT_BREAKER_COOLDOWN", time.Minute),

		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),

		QuoteTTL:        getEnvAsDuration("QUOTE_TTL", 5*time.Minute),
		MetricsTTL:      getEnvAsDuration("METRICS_TTL", time.Hour),
		TransactionsTTL: getEnvAsDuration("TRANSACTIONS_TTL", 400*24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// Provider credentials are optional: a provider without credentials fails
	// with a configuration error at call time, not at startup.
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be at least 1, got %d", c.CircuitBreakerThreshold)
	}
	if c.QuoteTTL <= 0 || c.MetricsTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	switch c.PlaidEnvironment {
	case "sandbox", "development", "production":
	default:
		return fmt.Errorf("invalid PLAID_ENV: %s", c.PlaidEnvironment)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
