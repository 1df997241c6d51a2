package config

import (
	"os"
	"strconv"
	"time"
)

// GetEnvOrDefault returns the value of the environment variable or the default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of the environment variable or the default
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of the environment variable or the default
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvUint16 returns the uint16 value of the environment variable or the default
func GetEnvUint16(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 16); err == nil {
			return uint16(parsed)
		}
	}
	return defaultValue
}

// GetEnvDuration returns the duration value of the environment variable or the default
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
