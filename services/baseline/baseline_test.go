// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/pkg/vitals"
)

func sample(latency float64) vitals.Vitals {
	return vitals.Vitals{
		AgentID:   "agent-1",
		At:        time.Now(),
		LatencyMs: latency,
		Model:     "gpt",
	}
}

func TestLearnerReadyExactlyAtMinSamples(t *testing.T) {
	// Arrange
	ctx := context.Background()
	l := New("run-a", nil, nil, WithMinSamples(15))

	// Act
	for i := 0; i < 14; i++ {
		l.Update(ctx, sample(100))
	}
	beforeReady := l.Profile("agent-1").Ready
	l.Update(ctx, sample(100))
	afterReady := l.Profile("agent-1").Ready

	// Assert
	assert.False(t, beforeReady)
	assert.True(t, afterReady)
}

func TestLearnerEWMAConverges(t *testing.T) {
	// Arrange
	ctx := context.Background()
	l := New("run-a", nil, nil, WithSpan(10))

	// Act
	for i := 0; i < 200; i++ {
		l.Update(ctx, sample(100))
	}
	profile := l.Profile("agent-1")

	// Assert
	stat := profile.Stats[vitals.MetricLatency]
	assert.InDelta(t, 100, stat.Mean, 0.01)
	assert.InDelta(t, 0, stat.Variance, 0.01)
}

func TestStddevFloorAppliesOnConstantMetric(t *testing.T) {
	// Arrange
	stat := vitals.MetricStat{Mean: 100, Variance: 0}

	// Act
	sd := Stddev(stat)

	// Assert
	assert.InDelta(t, 5.0, sd, 1e-9)
}

func TestStddevFloorUsesEpsilonWhenMeanZero(t *testing.T) {
	// Arrange
	stat := vitals.MetricStat{Mean: 0, Variance: 0}

	// Act
	sd := Stddev(stat)

	// Assert
	assert.Greater(t, sd, 0.0)
}

func TestAccelerateThenRevert(t *testing.T) {
	// Arrange
	ctx := context.Background()
	l := New("run-a", nil, nil, WithSpan(50))
	defaultAlpha := 2.0 / 51

	// Act
	l.Accelerate("agent-1")
	s := l.stateFor("agent-1")
	s.mu.Lock()
	acceleratedAlpha := s.alpha
	s.mu.Unlock()

	for i := 0; i < DefaultAccelTicks; i++ {
		l.Update(ctx, sample(100))
	}
	s.mu.Lock()
	revertedAlpha := s.alpha
	s.mu.Unlock()

	// Assert
	assert.Greater(t, acceleratedAlpha, defaultAlpha)
	assert.InDelta(t, defaultAlpha, revertedAlpha, 1e-9)
}

func TestHardResetClearsProfile(t *testing.T) {
	// Arrange
	ctx := context.Background()
	l := New("run-a", nil, nil, WithMinSamples(5))
	for i := 0; i < 10; i++ {
		l.Update(ctx, sample(100))
	}
	require.True(t, l.Profile("agent-1").Ready)

	// Act
	l.HardReset("agent-1")

	// Assert
	assert.False(t, l.Profile("agent-1").Ready)
	assert.Equal(t, int64(0), l.Profile("agent-1").SampleCount)
}
