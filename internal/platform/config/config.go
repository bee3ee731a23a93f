// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything cmd/server needs to wire the process.
type Config struct {
	// Addr serves /metrics and /healthz.
	Addr string

	// DatabaseURL selects the postgres gateway when set; empty means the
	// in-memory gateway.
	DatabaseURL string

	// RedisURL selects the Redis event publisher when set and Kafka is not
	// configured.
	RedisURL string

	// KafkaBrokers selects the Kafka event publisher when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// ExpirySweepInterval is how often the expiry sweeper scans for organs
	// past their expiration date. Zero disables the sweeper.
	ExpirySweepInterval time.Duration
}

// FromEnv reads configuration with development-friendly defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("ALLOGRAFT_ADDR", ":9090"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaTopic:          envOr("KAFKA_EVENTS_TOPIC", "allograft.events"),
		ExpirySweepInterval: durationOr("EXPIRY_SWEEP_INTERVAL", time.Minute),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
