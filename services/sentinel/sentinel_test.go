// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sentinel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/pkg/vitals"
)

func readyProfile() vitals.BaselineProfile {
	return vitals.BaselineProfile{
		AgentID: "agent-1",
		Ready:   true,
		Stats: map[vitals.Metric]vitals.MetricStat{
			vitals.MetricLatency:      {Mean: 100, Variance: 25},
			vitals.MetricTotalTokens:  {Mean: 500, Variance: 2500},
			vitals.MetricInputTokens:  {Mean: 300, Variance: 900},
			vitals.MetricOutputTokens: {Mean: 200, Variance: 400},
			vitals.MetricCost:         {Mean: 0.02, Variance: 0.0001},
			vitals.MetricToolCalls:    {Mean: 2, Variance: 1},
			vitals.MetricRetryRate:    {Mean: 0, Variance: 0},
			vitals.MetricErrorRate:    {Mean: 0, Variance: 0},
		},
		LastPrompt: "hash-a",
	}
}

func TestDetectReturnsNilWhenBaselineNotReady(t *testing.T) {
	// Arrange
	d := New()
	profile := vitals.BaselineProfile{Ready: false}
	window := []vitals.Vitals{{AgentID: "agent-1", At: time.Now(), LatencyMs: 100}}

	// Act
	report := d.Detect("agent-1", window, profile)

	// Assert
	assert.Nil(t, report)
}

func TestDetectReturnsNilWhenWithinNormalRange(t *testing.T) {
	// Arrange
	d := New()
	profile := readyProfile()
	window := []vitals.Vitals{{
		AgentID:      "agent-1",
		At:           time.Now(),
		LatencyMs:    102,
		InputTokens:  300,
		OutputTokens: 200,
		Cost:         0.02,
		ToolCalls:    2,
		PromptHash:   "hash-a",
	}}

	// Act
	report := d.Detect("agent-1", window, profile)

	// Assert
	assert.Nil(t, report)
}

func TestDetectFlagsLatencySpike(t *testing.T) {
	// Arrange
	d := New()
	profile := readyProfile()
	window := []vitals.Vitals{{AgentID: "agent-1", At: time.Now(), LatencyMs: 500, PromptHash: "hash-a"}}

	// Act
	report := d.Detect("agent-1", window, profile)

	// Assert
	require.NotNil(t, report)
	assert.True(t, report.HasAnomaly(vitals.AnomalyLatencySpike))
	assert.Greater(t, report.MaxDeviation, DefaultThreshold)
}

func TestDetectFlagsPromptChange(t *testing.T) {
	// Arrange
	d := New()
	profile := readyProfile()
	window := []vitals.Vitals{{AgentID: "agent-1", At: time.Now(), LatencyMs: 100, PromptHash: "hash-b"}}

	// Act
	report := d.Detect("agent-1", window, profile)

	// Assert
	require.NotNil(t, report)
	assert.True(t, report.PromptChanged)
	assert.True(t, report.HasAnomaly(vitals.AnomalyPromptChange))
}

func TestDetectIsPureNoMutation(t *testing.T) {
	// Arrange
	d := New()
	profile := readyProfile()
	originalMean := profile.Stats[vitals.MetricLatency].Mean
	window := []vitals.Vitals{{AgentID: "agent-1", At: time.Now(), LatencyMs: 900, PromptHash: "hash-a"}}

	// Act
	_ = d.Detect("agent-1", window, profile)

	// Assert
	assert.Equal(t, originalMean, profile.Stats[vitals.MetricLatency].Mean)
}
