// Package config loads engine configuration from the environment into a
// typed, validated configuration struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	PostgresDSN       string
	NATSUrl           string
	OTelEndpoint      string
	OTelInsecure      bool
	ServiceName       string
	ReplayPagesPerSec float64
	BreakerTimeout    time.Duration
}

// Load reads configuration from the environment, falling back to
// development-friendly defaults for anything unset.
func Load() (Config, error) {
	cfg := Config{
		PostgresDSN:       getEnv("DATABASE_URL", "postgres://localhost:5432/engine?sslmode=disable"),
		NATSUrl:           getEnv("NATS_URL", "nats://localhost:4222"),
		OTelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName:       getEnv("SERVICE_NAME", "libranexus-engine"),
		ReplayPagesPerSec: 10,
		BreakerTimeout:    30 * time.Second,
	}

	insecure, err := getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	if err != nil {
		return Config{}, err
	}
	cfg.OTelInsecure = insecure

	if v := os.Getenv("REPLAY_PAGES_PER_SECOND"); v != "" {
		pps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse REPLAY_PAGES_PER_SECOND: %w", err)
		}
		cfg.ReplayPagesPerSec = pps
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
