// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsToMemoryBackendAndDocumentedThresholds(t *testing.T) {
	// Arrange
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("STORE_URL", "")
	t.Setenv("CACHE_DIR", "")

	// Act
	cfg, err := Load()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 2.5, cfg.SentinelThreshold)
	assert.Equal(t, 5.0, cfg.ApprovalThreshold)
}

func TestLoad_InfluxBackendRequiresURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "influx")
	t.Setenv("STORE_URL", "")
	t.Setenv("STORE_TOKEN", "")
	t.Setenv("STORE_ORG", "")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_InfluxBackendSucceedsWithAllFields(t *testing.T) {
	t.Setenv("STORE_BACKEND", "influx")
	t.Setenv("STORE_URL", "http://localhost:8086")
	t.Setenv("STORE_TOKEN", "secret-token")
	t.Setenv("STORE_ORG", "sentinel-org")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StoreBackendInflux, cfg.StoreBackend)
}
