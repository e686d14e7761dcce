// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// SecretKey is the master secret credential values are encrypted under.
	// Load does not require it; the serve command refuses to start without it.
	SecretKey string
	KDFSalt   string

	ListenAddr string
	DBPath     string

	// TestConcurrency is the number of vendor calls allowed to run at once.
	TestConcurrency int
	// VendorTimeout bounds a single vendor session.
	VendorTimeout time.Duration

	// VendorsFile replaces the embedded vendor catalog when set.
	VendorsFile string
	// AuditLogPath enables the rotating YAML audit mirror when set.
	AuditLogPath string

	LogLevel slog.Level
}

// HasSecretKey reports whether a master secret was configured.
func (c *Config) HasSecretKey() bool {
	return c.SecretKey != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Optional variables with defaults: VENDORVAULT_LISTEN_ADDR (127.0.0.1:8080),
// VENDORVAULT_DB_PATH (vendorvault.db), VENDORVAULT_TEST_CONCURRENCY (2),
// VENDORVAULT_VENDOR_TIMEOUT (30s), VENDORVAULT_LOG_LEVEL (info).
func Load() (*Config, error) {
	cfg := &Config{
		SecretKey:       os.Getenv("VENDORVAULT_SECRET_KEY"),
		KDFSalt:         os.Getenv("VENDORVAULT_KDF_SALT"),
		ListenAddr:      "127.0.0.1:8080",
		DBPath:          "vendorvault.db",
		TestConcurrency: 2,
		VendorTimeout:   30 * time.Second,
		VendorsFile:     os.Getenv("VENDORVAULT_VENDORS_FILE"),
		AuditLogPath:    os.Getenv("VENDORVAULT_AUDIT_LOG_PATH"),
		LogLevel:        slog.LevelInfo,
	}

	if v, ok := os.LookupEnv("VENDORVAULT_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("VENDORVAULT_DB_PATH"); ok {
		cfg.DBPath = v
	}

	if v, ok := os.LookupEnv("VENDORVAULT_TEST_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("VENDORVAULT_TEST_CONCURRENCY has invalid value %q: %w", v, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("VENDORVAULT_TEST_CONCURRENCY must be at least 1, got %d", n)
		}
		cfg.TestConcurrency = n
	}

	if v, ok := os.LookupEnv("VENDORVAULT_VENDOR_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("VENDORVAULT_VENDOR_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("VENDORVAULT_VENDOR_TIMEOUT must be positive, got %s", parsed)
		}
		cfg.VendorTimeout = parsed
	}

	if v, ok := os.LookupEnv("VENDORVAULT_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("VENDORVAULT_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	return cfg, nil
}
