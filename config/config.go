// Package config loads the registry configuration from environment variables
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	Port           string
	Address        string
	Env            Environment
	LogLevel       string
	Verbose        bool
	MaxRequestBody int64 // Maximum request body size in bytes
	MaxHeaderSize  int64 // Maximum header size in bytes

	DBDriver          string
	DatabaseURL       string
	DBMaxOpenConns    int
	SQLiteBusyRetries int

	IdentityFuzzyThreshold  float64 // token-sort ratio on the 0..100 scale
	IdentityVectorThreshold float64
	KBFuzzyThreshold        float64
	KBVectorThreshold       float64

	ReindexAt []string // daily "HH:MM" times for the index rebuild job

	WebLookupURL     string
	WebLookupTimeout time.Duration
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	env, err := ParseEnvironment(getEnvWithDefault("ENV", "dev"))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: invalid ENV: %w", err)
	}

	cfg := &Config{
		Port:           getEnvWithDefault("PORT", "8000"),
		Address:        getEnvWithDefault("ADDRESS", "127.0.0.1"),
		Env:            env,
		LogLevel:       getEnvWithDefault("LOG_LEVEL", "info"),
		Verbose:        getBoolEnvWithDefault("VERBOSE", false),
		MaxRequestBody: getInt64EnvWithDefault("MAX_REQUEST_BODY", 1048576), // 1MB default
		MaxHeaderSize:  getInt64EnvWithDefault("MAX_HEADER_SIZE", 1048576),  // 1MB default

		DBDriver:          getEnvWithDefault("DB_DRIVER", DriverSQLite),
		DatabaseURL:       getEnvWithDefault("DATABASE_URL", "file:registry.db?_foreign_keys=on"),
		DBMaxOpenConns:    getIntEnvWithDefault("DB_MAX_OPEN_CONNS", 10),
		SQLiteBusyRetries: getIntEnvWithDefault("SQLITE_BUSY_RETRIES", 5),

		IdentityFuzzyThreshold:  getFloatEnvWithDefault("IDENTITY_FUZZY_THRESHOLD", 85),
		IdentityVectorThreshold: getFloatEnvWithDefault("IDENTITY_VECTOR_THRESHOLD", 0.75),
		KBFuzzyThreshold:        getFloatEnvWithDefault("KB_FUZZY_THRESHOLD", 0.70),
		KBVectorThreshold:       getFloatEnvWithDefault("KB_VECTOR_THRESHOLD", 0.75),

		ReindexAt: splitList(getEnvWithDefault("REINDEX_AT", "03:00")),

		WebLookupURL:     os.Getenv("WEB_LOOKUP_URL"),
		WebLookupTimeout: getDurationEnvWithDefault("WEB_LOOKUP_TIMEOUT", 5*time.Second),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}
	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if err := validateSizeLimit(cfg.MaxRequestBody, "MAX_REQUEST_BODY"); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY: %w", err)
	}
	if err := validateSizeLimit(cfg.MaxHeaderSize, "MAX_HEADER_SIZE"); err != nil {
		return fmt.Errorf("invalid MAX_HEADER_SIZE: %w", err)
	}
	if err := validateDriver(cfg.DBDriver); err != nil {
		return fmt.Errorf("invalid DB_DRIVER: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("invalid DATABASE_URL: cannot be empty")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return fmt.Errorf("invalid DB_MAX_OPEN_CONNS: must be positive, got: %d", cfg.DBMaxOpenConns)
	}
	if cfg.SQLiteBusyRetries < 0 {
		return fmt.Errorf("invalid SQLITE_BUSY_RETRIES: must not be negative, got: %d", cfg.SQLiteBusyRetries)
	}
	if cfg.IdentityFuzzyThreshold <= 0 || cfg.IdentityFuzzyThreshold > 100 {
		return fmt.Errorf("invalid IDENTITY_FUZZY_THRESHOLD: must be in (0, 100], got: %v", cfg.IdentityFuzzyThreshold)
	}
	for name, v := range map[string]float64{
		"IDENTITY_VECTOR_THRESHOLD": cfg.IdentityVectorThreshold,
		"KB_FUZZY_THRESHOLD":        cfg.KBFuzzyThreshold,
		"KB_VECTOR_THRESHOLD":       cfg.KBVectorThreshold,
	} {
		if err := validateUnitThreshold(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if err := validateReindexTimes(cfg.ReindexAt); err != nil {
		return fmt.Errorf("invalid REINDEX_AT: %w", err)
	}
	if cfg.WebLookupURL != "" {
		if _, err := url.ParseRequestURI(cfg.WebLookupURL); err != nil {
			return fmt.Errorf("invalid WEB_LOOKUP_URL: %w", err)
		}
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress accepts loopback names and private network addresses
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "127.0.0.1" || address == "::1" || address == "localhost" || address == "0.0.0.0" {
		return nil
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("ADDRESS %s is a public IP, consider using private network ranges for security", address)
	}

	return nil
}

func validateLogLevel(logLevel string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	logLevel = strings.ToLower(logLevel)

	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

func validateSizeLimit(size int64, configName string) error {
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got: %d", configName, size)
	}

	if size > 100*1024*1024 { // 100MB
		return fmt.Errorf("%s is too large (max 100MB), got: %d bytes", configName, size)
	}

	return nil
}

func validateDriver(driver string) error {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return nil
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got: %s", DriverPostgres, DriverSQLite, driver)
	}
}

func validateUnitThreshold(v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("must be in (0, 1], got: %v", v)
	}
	return nil
}

func validateReindexTimes(times []string) error {
	if len(times) == 0 {
		return fmt.Errorf("at least one time is required")
	}
	for _, t := range times {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("time %q must use HH:MM format", t)
		}
	}
	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvVars returns a list of all expected environment variables
func GetEnvVars() []string {
	return []string{
		"PORT",
		"ADDRESS",
		"ENV",
		"LOG_LEVEL",
		"VERBOSE",
		"MAX_REQUEST_BODY",
		"MAX_HEADER_SIZE",
		"DB_DRIVER",
		"DATABASE_URL",
		"DB_MAX_OPEN_CONNS",
		"SQLITE_BUSY_RETRIES",
		"IDENTITY_FUZZY_THRESHOLD",
		"IDENTITY_VECTOR_THRESHOLD",
		"KB_FUZZY_THRESHOLD",
		"KB_VECTOR_THRESHOLD",
		"REINDEX_AT",
		"WEB_LOOKUP_URL",
		"WEB_LOOKUP_TIMEOUT",
	}
}
