// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the knobs for the HTTP server, the resilience layer and the
// event pipeline. Everything is read from the environment with sane defaults
// so the binary runs locally with no flags.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	RedisAddr  string
	OutboxPath string

	// Circuit breaker guarding the inventory dependency.
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// Retry policy for downstream calls and outbox publishing.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryFactor      float64
	RetryMaxDelay    time.Duration

	// Deadline applied to every inventory call.
	InventoryTimeout time.Duration

	// Outbox relay.
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// Broker delivery bounds.
	MaxDeliveries   int
	RedeliveryDelay time.Duration

	// TTL for consumer dedupe marks and create-order idempotency keys.
	DedupeTTL time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatenv(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),

		RedisAddr:  getenv("REDIS_ADDR", ""),
		OutboxPath: getenv("OUTBOX_DB_PATH", "./data/outbox.db"),

		BreakerFailureThreshold: atoienv("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerResetTimeout:     durenvms("BREAKER_RESET_TIMEOUT_MS", 10000),

		RetryMaxAttempts: atoienv("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   durenvms("RETRY_BASE_DELAY_MS", 100),
		RetryFactor:      floatenv("RETRY_FACTOR", 2),
		RetryMaxDelay:    durenvms("RETRY_MAX_DELAY_MS", 2000),

		InventoryTimeout: durenvms("INVENTORY_TIMEOUT_MS", 1500),

		OutboxPollInterval: durenvms("OUTBOX_POLL_INTERVAL_MS", 200),
		OutboxBatchSize:    atoienv("OUTBOX_BATCH_SIZE", 50),

		MaxDeliveries:   atoienv("MAX_DELIVERIES", 3),
		RedeliveryDelay: durenvms("REDELIVERY_DELAY_MS", 100),

		DedupeTTL: durenvs("DEDUPE_TTL_SECONDS", 86400),
	}
}
