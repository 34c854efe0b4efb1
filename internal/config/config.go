package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               int
	DatabasePath       string
	LogLevel           string
	LogPretty          bool
	Currency           string
	MaxUploadSizeBytes int
	ReportTTL          time.Duration
	StaticDir          string
	EnableOCR          bool
	OCRLanguage        string

	InboxDir      string
	InboxPeriod   string
	InboxSchedule string
	InboxApply    bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvAsInt("PORT", 8080),
		DatabasePath:       getEnv("DATABASE_PATH", "./reconciler.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPretty:          getEnvAsBool("LOG_PRETTY", false),
		Currency:           strings.ToUpper(getEnv("CURRENCY", "CHF")),
		MaxUploadSizeBytes: getEnvAsInt("MAX_UPLOAD_SIZE_BYTES", 10*1024*1024),
		ReportTTL:          getEnvAsDuration("REPORT_TTL", time.Hour),
		StaticDir:          getEnv("STATIC_DIR", ""),
		EnableOCR:          getEnvAsBool("ENABLE_OCR", true),
		OCRLanguage:        getEnv("OCR_LANGUAGE", "eng"),
		InboxDir:           getEnv("INBOX_DIR", ""),
		InboxPeriod:        getEnv("INBOX_PERIOD", ""),
		InboxSchedule:      getEnv("INBOX_SCHEDULE", "@every 5m"),
		InboxApply:         getEnvAsBool("INBOX_APPLY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a three-letter ISO 4217 code, got %q", c.Currency)
	}
	if c.MaxUploadSizeBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE_BYTES must be positive")
	}
	if c.InboxDir != "" && c.InboxPeriod == "" {
		return fmt.Errorf("INBOX_PERIOD is required when INBOX_DIR is set")
	}
	return nil
}

// InboxEnabled reports whether the statement inbox job should run.
func (c *Config) InboxEnabled() bool {
	return c.InboxDir != ""
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
