package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"rewarder/database"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL       string
	DatabaseName      string
	WalletDatabaseURL string // Wallet store; empty means the budget database
	LockTimeout       time.Duration

	// HTTP intake
	HTTPAddr           string
	CORSAllowedOrigins []string // Empty disables CORS handling

	// NATS configuration
	NATSEnabled bool
	NATSServers string // NATS server addresses (comma-separated)

	// Redis configuration; empty URL disables the campaign cache and settlement guard
	RedisURL         string
	CampaignCacheTTL time.Duration

	// Ledger policy
	PointsPolicyWindow time.Duration // How long earned points live
	VerificationWindow time.Duration // How long an earn may stay pending
	ReminderDelay      time.Duration
	ReconcileDelay     time.Duration

	// Dispatcher
	DispatchInterval   time.Duration
	DispatchBatchSize  int
	DispatchMaxRetries int
	SweepInterval      time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "json" or "text"

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelServiceName          string
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelExportIntervalMillis int

	// Environment
	Environment string // "development", "production" or "test"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the budget database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// GetWalletDatabaseURL returns the wallet store URL, which defaults to the budget database
func (c *Config) GetWalletDatabaseURL() string {
	if c.WalletDatabaseURL == "" {
		return c.GetDatabaseURL()
	}
	return c.WalletDatabaseURL
}

// SeparateWalletStore reports whether the wallet ledger lives in its own database
func (c *Config) SeparateWalletStore() bool {
	return c.GetWalletDatabaseURL() != c.GetDatabaseURL()
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// load loads configuration from the environment, reading a .env file first
// when one exists
func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Failed to read .env file")
	}

	config := &Config{
		// Database
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DatabaseName:      os.Getenv("DATABASE_NAME"),
		WalletDatabaseURL: os.Getenv("WALLET_DATABASE_URL"),
		LockTimeout:       getDurationWithDefault("LOCK_TIMEOUT", 5*time.Second),

		// HTTP
		HTTPAddr:           getEnvWithDefault("HTTP_ADDR", ":8080"),
		CORSAllowedOrigins: getListWithDefault("CORS_ALLOWED_ORIGINS", nil),

		// NATS
		NATSEnabled: getBoolWithDefault("NATS_ENABLED", false),
		NATSServers: getEnvWithDefault("NATS_SERVERS", "nats://nats:4222"),

		// Redis
		RedisURL:         os.Getenv("REDIS_URL"),
		CampaignCacheTTL: getDurationWithDefault("CAMPAIGN_CACHE_TTL", time.Minute),

		// Ledger policy
		PointsPolicyWindow: getDurationWithDefault("POINTS_POLICY_WINDOW", 90*24*time.Hour),
		VerificationWindow: getDurationWithDefault("VERIFICATION_WINDOW", 30*24*time.Hour),
		ReminderDelay:      getDurationWithDefault("REMINDER_DELAY", 24*time.Hour),
		ReconcileDelay:     getDurationWithDefault("RECONCILE_DELAY", 5*time.Minute),

		// Dispatcher
		DispatchInterval:   getDurationWithDefault("DISPATCH_INTERVAL", 10*time.Second),
		DispatchBatchSize:  getIntWithDefault("DISPATCH_BATCH_SIZE", 100),
		DispatchMaxRetries: getIntWithDefault("DISPATCH_MAX_RETRIES", 3),
		SweepInterval:      getDurationWithDefault("SWEEP_INTERVAL", time.Hour),

		// Logging
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: os.Getenv("LOG_FORMAT"),

		// OpenTelemetry
		OTelEnabled:              getBoolWithDefault("OTEL_ENABLED", false),
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "rewarder"),
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "none"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317"),
		OTelExportIntervalMillis: getIntWithDefault("OTEL_EXPORT_INTERVAL_MILLIS", 60000),

		// Environment
		Environment: os.Getenv("ENVIRONMENT"),
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DatabaseName != "" && strings.TrimSpace(c.DatabaseName) == "" {
		return fmt.Errorf("DATABASE_NAME cannot be empty when provided")
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.DispatchBatchSize)
	}
	if c.DispatchMaxRetries <= 0 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be positive, got %d", c.DispatchMaxRetries)
	}
	if c.PointsPolicyWindow <= 0 {
		return fmt.Errorf("POINTS_POLICY_WINDOW must be positive")
	}
	return nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListWithDefault splits a comma-separated value, dropping blank entries
func getListWithDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring non-integer config value")
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring non-boolean config value")
	}
	return defaultValue
}

// getDurationWithDefault accepts Go duration strings such as "90s" or "2160h"
func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.WithField("key", key).Warn("Ignoring invalid duration config value")
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
// This should only be called from test files
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
// This should only be called from test files
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:        "test",
		LockTimeout:        2 * time.Second,
		HTTPAddr:           ":0",
		CampaignCacheTTL:   time.Minute,
		PointsPolicyWindow: 90 * 24 * time.Hour,
		VerificationWindow: 30 * 24 * time.Hour,
		ReminderDelay:      24 * time.Hour,
		ReconcileDelay:     5 * time.Minute,
		DispatchInterval:   time.Second,
		DispatchBatchSize:  10,
		DispatchMaxRetries: 3,
		SweepInterval:      time.Hour,
		LogLevel:           "debug",
		OTelExporterType:   "none",
	}
}
