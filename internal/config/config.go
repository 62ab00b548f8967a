// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Mobile money gateway
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaCallbackURL    string // Public URL the gateway posts payment results to

	// Network access server
	AccessServerURL    string // Sync endpoint of the RADIUS access server
	AccessServerSecret string // HMAC secret for signing sync pushes

	// Notifications
	NotifyURL    string // SMS gateway endpoint (optional, logs to stdout if unset)
	NotifyAPIKey string

	// Observability
	OTLPEndpoint string // OTLP gRPC collector (optional, tracing disabled if unset)

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultMpesaBaseURL = "https://sandbox.safaricom.co.ke"
	DefaultRateLimit    = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		MpesaBaseURL:        getEnv("MPESA_BASE_URL", DefaultMpesaBaseURL),
		MpesaConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		MpesaConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		MpesaShortCode:      os.Getenv("MPESA_SHORT_CODE"),
		MpesaPasskey:        os.Getenv("MPESA_PASSKEY"),
		MpesaCallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		AccessServerURL:     os.Getenv("ACCESS_SERVER_URL"),
		AccessServerSecret:  os.Getenv("ACCESS_SERVER_SECRET"),
		NotifyURL:           os.Getenv("NOTIFY_URL"),
		NotifyAPIKey:        os.Getenv("NOTIFY_API_KEY"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AccessServerURL == "" {
		return fmt.Errorf("ACCESS_SERVER_URL is required")
	}

	if c.IsProduction() {
		if c.MpesaConsumerKey == "" || c.MpesaConsumerSecret == "" {
			return fmt.Errorf("MPESA_CONSUMER_KEY and MPESA_CONSUMER_SECRET are required in production")
		}
		if c.MpesaShortCode == "" || c.MpesaPasskey == "" {
			return fmt.Errorf("MPESA_SHORT_CODE and MPESA_PASSKEY are required in production")
		}
		if c.AccessServerSecret == "" {
			return fmt.Errorf("ACCESS_SERVER_SECRET is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
