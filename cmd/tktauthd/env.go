package main

import (
	"os"
	"strings"
)

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns true when the environment variable holds a truthy
// value (true, 1, yes, on), false otherwise.
func getEnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
