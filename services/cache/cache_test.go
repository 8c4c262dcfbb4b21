// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/pkg/vitals"
)

func TestCacheLoadMissingFileIsEmpty(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "cache.json")

	// Act
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	// Assert
	assert.Equal(t, "", c.RunID())
	assert.Empty(t, c.Quarantine())
}

func TestCacheSaveRoundTrip(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := Open(path)
	require.NoError(t, err)

	c.PutRunID("run-123")
	c.PutAPIKey("secret-key")
	c.PutBaseline("agent-1", vitals.BaselineProfile{AgentID: "agent-1", Ready: true, SampleCount: 20})
	c.PutQuarantine(map[string]struct{}{"agent-2": {}})

	// Act
	require.NoError(t, c.Save())
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	// Assert
	assert.Equal(t, "run-123", reopened.RunID())
	assert.True(t, reopened.MatchesAPIKey("secret-key"))
	assert.False(t, reopened.MatchesAPIKey("wrong-key"))
	profile, ok := reopened.Baseline("agent-1")
	require.True(t, ok)
	assert.True(t, profile.Ready)
	_, quarantined := reopened.Quarantine()["agent-2"]
	assert.True(t, quarantined)
}

func TestCacheFileModeIsOwnerOnly(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	c.PutRunID("run-1")

	// Act
	require.NoError(t, c.Save())
	info, err := os.Stat(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCacheDiscardsVersionMismatch(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "cache.json")
	stale := map[string]interface{}{
		"_schema_version": schemaVersion + 1,
		"run_id":          "stale-run",
	}
	buf, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o600))

	// Act
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	// Assert
	assert.Equal(t, "", c.RunID())
}

func TestCacheDiscardsCorruptJSON(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	// Act
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	// Assert
	assert.Equal(t, "", c.RunID())
}
