package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port            int
	Environment     string
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL         string
	DBMaxConnections    int
	DBConnectionTimeout time.Duration

	// Logging
	LogLevel string

	// Ledger
	EventBusBuffer int

	// Auto-linker
	AutolinkDateWindowDays int
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:                   getEnvInt("PORT", 8080),
		Environment:            getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout:        getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		DBMaxConnections:       getEnvInt("DB_MAX_CONNECTIONS", 25),
		DBConnectionTimeout:    getEnvDuration("DB_CONNECTION_TIMEOUT", 30*time.Second),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		EventBusBuffer:         getEnvInt("EVENT_BUS_BUFFER", 64),
		AutolinkDateWindowDays: getEnvInt("AUTOLINK_DATE_WINDOW_DAYS", 3),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AutolinkDateWindowDays <= 0 {
		return nil, fmt.Errorf("AUTOLINK_DATE_WINDOW_DAYS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
