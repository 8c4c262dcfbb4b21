// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the control plane's environment-driven
// configuration once at startup, validated with
// `github.com/go-playground/validator/v10` struct tags instead of
// hand-written per-field checks.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// StoreBackend selects which services/store binding cmd/sentineld wires up.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendInflux StoreBackend = "influx"
)

// Config is the process-wide, read-once configuration.
type Config struct {
	StoreBackend StoreBackend `validate:"required,oneof=memory influx"`
	StoreURL     string       `validate:"required_if=StoreBackend influx"`
	StoreToken   string       `validate:"required_if=StoreBackend influx"`
	StoreOrg     string       `validate:"required_if=StoreBackend influx"`
	StoreBucket  string       `validate:"required_if=StoreBackend influx"`

	OTELEndpoint string

	CacheDir     string `validate:"required"`
	IngestAPIKey string

	LogLevel string `validate:"required,oneof=debug info warn error"`
	LogJSON  bool

	// SentinelThreshold and ApprovalThreshold are the severity constants:
	// exposed as config fields with their documented defaults rather than
	// hard-coded. They are part of the behavioral contract and never
	// silently adjusted by adaptive logic.
	SentinelThreshold float64 `validate:"gt=0"`
	ApprovalThreshold float64 `validate:"gt=0"`
}

var validate = validator.New()

// Load reads every field from its environment variable, applying the
// documented defaults for anything unset, then validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend: StoreBackend(getEnvString("STORE_BACKEND", string(StoreBackendMemory))),
		StoreURL:     os.Getenv("STORE_URL"),
		StoreToken:   os.Getenv("STORE_TOKEN"),
		StoreOrg:     os.Getenv("STORE_ORG"),
		StoreBucket:  getEnvString("STORE_BUCKET", "sentinel"),

		OTELEndpoint: os.Getenv("OTEL_ENDPOINT"),

		CacheDir:     getEnvString("CACHE_DIR", "/var/lib/sentinel/cache.json"),
		IngestAPIKey: os.Getenv("INGEST_API_KEY"),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		SentinelThreshold: getEnvFloat("SENTINEL_THRESHOLD", 2.5),
		ApprovalThreshold: getEnvFloat("APPROVAL_THRESHOLD", 5.0),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
