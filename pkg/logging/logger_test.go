// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	// Arrange / Act / Assert
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_TextOutput(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	// Act
	logger.Info("hello", "key", "value")

	// Assert
	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestNew_JSONOutput(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, JSON: true, Output: &buf})

	// Act
	logger.Info("hello", "key", "value")

	// Assert
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNew_ServiceAttributeOnEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, JSON: true, Service: "sentineld", Output: &buf})

	logger.Info("first")
	logger.Warn("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "sentineld", entry["service"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped debug")
	assert.NotContains(t, out, "dropped info")
	assert.Contains(t, out, "kept warn")
	assert.Contains(t, out, "kept error")
}

func TestNew_QuietWithoutFileStillSafe(t *testing.T) {
	// Quiet plus no LogDir leaves no configured destination; the logger
	// must still accept calls rather than panic.
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Quiet: true, Output: &buf})

	logger.Info("fallback")

	assert.Contains(t, buf.String(), "fallback")
}

func TestNew_FileLoggingWritesDatedJSONFile(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "sentineld", Output: &buf})

	// Act
	logger.Info("to file", "key", "value")
	require.NoError(t, logger.Close())

	// Assert
	name := "sentineld_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "to file", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNew_FileDefaultsServiceName(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: dir, Output: &buf})

	logger.Info("unnamed")
	require.NoError(t, logger.Close())

	name := "sentinel_" + time.Now().Format("2006-01-02") + ".log"
	_, err := os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)
}

func TestNew_UnwritableLogDirDegradesToStderrOnly(t *testing.T) {
	// A bad LogDir must not fail construction; the stderr stream keeps
	// working and Close stays a no-op.
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: string([]byte{0}), Output: &buf})

	logger.Info("still logs")

	assert.Contains(t, buf.String(), "still logs")
	assert.NoError(t, logger.Close())
}

func TestWith_ChildCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, JSON: true, Output: &buf})

	child := logger.With("agent_id", "agent-1")
	child.Info("scoped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "agent-1", entry["agent_id"])
}

func TestSlog_ReturnsUsableLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.Slog().Info("via slog")

	assert.Contains(t, buf.String(), "via slog")
}

func TestClose_WithoutFileIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	assert.NoError(t, logger.Close())
}

func TestDefault_IsInfoLevel(t *testing.T) {
	logger := Default()
	assert.NotNil(t, logger.Slog())
	assert.Equal(t, LevelInfo, logger.config.Level)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".sentinel/logs"), expandPath("~/.sentinel/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf syncBuffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.Info("concurrent", "worker", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 200)
}

// syncBuffer is a mutex-guarded bytes.Buffer, since the slog text handler
// serializes its own writes but the test's goroutines share one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
