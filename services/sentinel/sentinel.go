// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sentinel implements the pure anomaly detector: given a
// recent vitals window and a baseline profile, it either returns an
// infection report or nil. It never mutates its inputs and holds no state
// of its own between calls.
package sentinel

import (
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/baseline"
)

const (
	// DefaultWindow is the default width T of the recent-vitals window.
	DefaultWindow = 10 * time.Second
	// DefaultThreshold is the deviation, in sigma units, that triggers an
	// anomaly for a given metric.
	DefaultThreshold = 2.5
)

// Detector holds only its tunables; it carries no per-agent state.
type Detector struct {
	Threshold float64
}

// New returns a Detector using DefaultThreshold.
func New() *Detector {
	return &Detector{Threshold: DefaultThreshold}
}

// windowMean returns the arithmetic mean of metric m across window.
func windowMean(window []vitals.Vitals, m vitals.Metric) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += metricValue(v, m)
	}
	return sum / float64(len(window))
}

// metricValue mirrors services/baseline's extraction so the window mean
// and the learned mean are computed from the same per-sample scalar.
func metricValue(v vitals.Vitals, m vitals.Metric) float64 {
	switch m {
	case vitals.MetricLatency:
		return v.LatencyMs
	case vitals.MetricTotalTokens:
		return float64(v.TokenCount())
	case vitals.MetricInputTokens:
		return float64(v.InputTokens)
	case vitals.MetricOutputTokens:
		return float64(v.OutputTokens)
	case vitals.MetricCost:
		return v.Cost
	case vitals.MetricToolCalls:
		return float64(v.ToolCalls)
	case vitals.MetricRetryRate:
		return float64(v.Retries)
	case vitals.MetricErrorRate:
		if v.ErrorType != "" && v.ErrorType != vitals.ErrorNone {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Detect compares window against profile and returns an infection report
// if at least one tracked metric's deviation crosses the threshold, or if
// the window's most recent prompt_hash differs from the baseline's. It
// returns nil if profile is not ready or no anomaly is found.
func (d *Detector) Detect(agentID string, window []vitals.Vitals, profile vitals.BaselineProfile) *vitals.InfectionReport {
	if !profile.Ready || len(window) == 0 {
		return nil
	}

	report := &vitals.InfectionReport{
		AgentID:    agentID,
		Deviations: make(map[vitals.Metric]float64),
		At:         time.Now(),
	}

	for _, m := range vitals.TrackedMetrics {
		stat := profile.Stats[m]
		sigma := baseline.Stddev(stat)
		mean := windowMean(window, m)
		deviation := absFloat(mean-stat.Mean) / sigma
		report.Deviations[m] = deviation

		if deviation > report.MaxDeviation {
			report.MaxDeviation = deviation
		}

		if deviation >= d.Threshold {
			if kind, ok := vitals.AnomalyFor(m); ok {
				report.AddAnomaly(kind)
			}
		}
	}

	latest := window[len(window)-1]
	if profile.LastPrompt != "" && latest.PromptHash != "" && latest.PromptHash != profile.LastPrompt {
		report.PromptChanged = true
		report.AddAnomaly(vitals.AnomalyPromptChange)
	}

	if len(report.AnomalyList) == 0 {
		return nil
	}
	return report
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
