// Package reliability holds long-running checks of the tracer under load and
// misuse. They are skipped unless APMZ_RELIABILITY_LEVEL is set.
package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum goroutines for concurrent tests
	PoolCapacity  int           // Span pool capacity under test
}

// getReliabilityConfig reads configuration from environment variables
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         getEnv("APMZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("APMZ_RELIABILITY_DURATION", "30s")),
		MaxGoroutines: parseInt(getEnv("APMZ_RELIABILITY_MAX_GOROUTINES", "100")),
		PoolCapacity:  parseInt(getEnv("APMZ_RELIABILITY_POOL_CAPACITY", "64")),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses integer from string with default fallback
func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

// parseDuration parses duration from string with default fallback
func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 30 * time.Second
}

// stressDuration bounds how long a stress loop runs for the configured level.
func (c ReliabilityConfig) stressDuration() time.Duration {
	if c.Level == "stress" {
		return c.Duration
	}
	return 500 * time.Millisecond
}
