package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig

	// Card processor configuration
	Payment PaymentConfig

	// Booking engine configuration
	Booking BookingConfig
}

// PaymentConfig holds card processor configuration
type PaymentConfig struct {
	Environment   string // "sandbox" or "production"
	ProcessorURL  string // hosted checkout endpoint
	StatusURL     string // payment status endpoint; derived from ProcessorURL when empty
	MerchantKey   string
	MerchantToken string // used only for check value signing, never sent to clients
	LogoURL       string
	ReturnURL     string
	WebhookURL    string
	Currency      string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	LogLevel        string // debug, info, warn, error
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	AutoMigrate        bool
}

// JWTConfig holds the settings used to verify driver and admin tokens
type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration // lifetime of tokens minted by tooling
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost       int
	EnableRequestLog bool
}

// BookingConfig holds hold, cleanup and search settings
type BookingConfig struct {
	HoldTTL            time.Duration
	CleanupSchedule    string // cron expression with seconds; empty disables the job
	CleanupBatchSize   int
	MaxHoldsPerEmail   int // per 15 minutes; 0 disables the email limit
	MaxHoldsPerIP      int // per hour; 0 disables the IP limit
	SearchDefaultLimit int
	SearchMaxLimit     int
	// CountryTimeZones maps ISO country codes to IANA zones for
	// country-scoped calendar day matching.
	CountryTimeZones map[string]string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ReadTimeout:     time.Duration(getEnvAsInt("SERVER_READ_TIMEOUT", 15)) * time.Second,
			WriteTimeout:    time.Duration(getEnvAsInt("SERVER_WRITE_TIMEOUT", 15)) * time.Second,
			IdleTimeout:     time.Duration(getEnvAsInt("SERVER_IDLE_TIMEOUT", 60)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "intercity-accounts"),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Hold-Token", "X-Request-ID"}),
		},
		Security: SecurityConfig{
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Payment: PaymentConfig{
			Environment:   getEnv("PAYMENT_ENVIRONMENT", "sandbox"),
			ProcessorURL:  getEnv("PAYMENT_PROCESSOR_URL", ""),
			StatusURL:     getEnv("PAYMENT_STATUS_URL", ""),
			MerchantKey:   getEnv("PAYMENT_MERCHANT_KEY", ""),
			MerchantToken: getEnv("PAYMENT_MERCHANT_TOKEN", ""),
			LogoURL:       getEnv("PAYMENT_LOGO_URL", ""),
			ReturnURL:     getEnv("PAYMENT_RETURN_URL", ""),
			WebhookURL:    getEnv("PAYMENT_WEBHOOK_URL", ""),
			Currency:      getEnv("PAYMENT_CURRENCY", "EUR"),
		},
		Booking: BookingConfig{
			HoldTTL:            time.Duration(getEnvAsInt("HOLD_TTL_SECONDS", 900)) * time.Second,
			CleanupSchedule:    getEnv("HOLD_CLEANUP_SCHEDULE", "0 */5 * * * *"),
			CleanupBatchSize:   getEnvAsInt("HOLD_CLEANUP_BATCH_SIZE", 500),
			MaxHoldsPerEmail:   getEnvAsInt("HOLD_RATE_LIMIT_EMAIL", 5),
			MaxHoldsPerIP:      getEnvAsInt("HOLD_RATE_LIMIT_IP", 30),
			SearchDefaultLimit: getEnvAsInt("SEARCH_DEFAULT_LIMIT", 20),
			SearchMaxLimit:     getEnvAsInt("SEARCH_MAX_LIMIT", 100),
			CountryTimeZones:   getEnvAsMap("COUNTRY_TIME_ZONES", map[string]string{}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL_SECONDS must be positive")
	}

	if c.Booking.CleanupBatchSize <= 0 {
		return fmt.Errorf("HOLD_CLEANUP_BATCH_SIZE must be positive")
	}

	if c.Booking.SearchDefaultLimit <= 0 || c.Booking.SearchMaxLimit < c.Booking.SearchDefaultLimit {
		return fmt.Errorf("SEARCH_DEFAULT_LIMIT must be positive and not exceed SEARCH_MAX_LIMIT")
	}

	for country, zone := range c.Booking.CountryTimeZones {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("invalid time zone %q for country %s: %w", zone, country, err)
		}
	}

	if c.Payment.MerchantKey != "" && c.Payment.ProcessorURL == "" {
		return fmt.Errorf("PAYMENT_PROCESSOR_URL is required when PAYMENT_MERCHANT_KEY is set")
	}
	if c.Payment.MerchantKey != "" && c.Payment.CheckStatusURL() == "" {
		return fmt.Errorf("PAYMENT_STATUS_URL is required when PAYMENT_PROCESSOR_URL has no /ipg/ path")
	}

	if len(c.Payment.Currency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be a 3-letter ISO code")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsMap parses "DE=Europe/Berlin,AT=Europe/Vienna". Keys are upper-cased.
func getEnvAsMap(key string, defaultValue map[string]string) map[string]string {
	pairs := getEnvAsSlice(key, nil)
	if len(pairs) == 0 {
		return defaultValue
	}
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			log.Printf("Ignoring malformed %s entry: %q", key, pair)
			continue
		}
		result[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return result
}

// CheckStatusURL returns the payment status endpoint. The processor serves it
// next to checkout, under /check-status/ instead of /ipg/.
func (p *PaymentConfig) CheckStatusURL() string {
	if p.StatusURL != "" {
		return p.StatusURL
	}
	if !strings.Contains(p.ProcessorURL, "/ipg/") {
		return ""
	}
	return strings.Replace(p.ProcessorURL, "/ipg/", "/check-status/", 1)
}
