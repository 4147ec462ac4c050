package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string
	LogLevel string

	JWTSecret string

	// Bank provider API
	BankAPIBaseURL string
	BankAPIKey     string
	BankOAuthURL   string
	WebhookSecret  string

	// Hex-encoded AES key used to encrypt provider tokens at rest
	EncryptionKey string

	// ECB daily reference rates feed
	RatesURL string

	// Background refresh
	SyncSchedule    string
	SyncWorkers     int
	SyncQueueSize   int
	RefreshInterval time.Duration

	// SMTP notifications
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBConn:         getEnv("DB_CONN", "host=localhost port=5432 user=banklink password=banklink dbname=banklink sslmode=disable"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:      getEnv("JWT_SECRET", "secret"),
		BankAPIBaseURL: getEnv("BANK_API_BASE_URL", "https://api.bank.example/v1"),
		BankAPIKey:     getEnv("BANK_API_KEY", ""),
		BankOAuthURL:   getEnv("BANK_OAUTH_URL", "https://bank.example/connect"),
		WebhookSecret:  getEnv("BANK_WEBHOOK_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		RatesURL:       getEnv("RATES_URL", "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"),
		SyncSchedule:   getEnv("SYNC_SCHEDULE", "@every 1h"),
		SMTPHost:       getEnv("SMTP_HOST", "localhost"),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SenderEmail:    getEnv("SENDER_EMAIL", "noreply@banklink.dev"),
	}

	var err error
	if cfg.SyncWorkers, err = getEnvInt("SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.SyncQueueSize, err = getEnvInt("SYNC_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	refreshMinutes, err := getEnvInt("REFRESH_INTERVAL_MINUTES", 360)
	if err != nil {
		return nil, err
	}
	cfg.RefreshInterval = time.Duration(refreshMinutes) * time.Minute

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("BANK_WEBHOOK_SECRET is required")
	}
	key, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", len(key))
	}
	if cfg.SyncWorkers < 1 {
		return nil, fmt.Errorf("SYNC_WORKERS must be at least 1")
	}

	return cfg, nil
}

// EncryptionKeyBytes returns the decoded AES key. NewConfig has already
// validated the encoding and length.
func (c *Config) EncryptionKeyBytes() []byte {
	key, _ := hex.DecodeString(c.EncryptionKey)
	return key
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
