package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "DATABASE_PATH", "LOG_LEVEL", "LOG_PRETTY", "CURRENCY",
	"MAX_UPLOAD_SIZE_BYTES", "REPORT_TTL", "STATIC_DIR", "ENABLE_OCR",
	"OCR_LANGUAGE", "INBOX_DIR", "INBOX_PERIOD", "INBOX_SCHEDULE", "INBOX_APPLY",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir()) // no stray .env file
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./reconciler.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, "CHF", cfg.Currency)
	assert.Equal(t, 10*1024*1024, cfg.MaxUploadSizeBytes)
	assert.Equal(t, time.Hour, cfg.ReportTTL)
	assert.True(t, cfg.EnableOCR)
	assert.Equal(t, "@every 5m", cfg.InboxSchedule)
	assert.False(t, cfg.InboxEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_PATH", "/var/lib/reconciler/data.db")
	t.Setenv("CURRENCY", "eur")
	t.Setenv("REPORT_TTL", "15m")
	t.Setenv("INBOX_DIR", "/srv/inbox")
	t.Setenv("INBOX_PERIOD", "2024")
	t.Setenv("INBOX_APPLY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/reconciler/data.db", cfg.DatabasePath)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, 15*time.Minute, cfg.ReportTTL)
	assert.True(t, cfg.InboxEnabled())
	assert.True(t, cfg.InboxApply)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("LOG_PRETTY", "maybe")
	t.Setenv("REPORT_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, time.Hour, cfg.ReportTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 8080, DatabasePath: "x.db", Currency: "CHF", MaxUploadSizeBytes: 1}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database path", func(c *Config) { c.DatabasePath = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"bad currency", func(c *Config) { c.Currency = "FRANC" }},
		{"no upload size", func(c *Config) { c.MaxUploadSizeBytes = 0 }},
		{"inbox without period", func(c *Config) { c.InboxDir = "/srv/inbox" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
