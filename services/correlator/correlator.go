// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package correlator implements the fleet correlator: given one
// fresh infection report, it decides whether the anomaly looks
// agent-specific or systemic by checking how many of the rest of the fleet
// show the same primary anomaly within a small window.
package correlator

import (
	"context"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/baseline"
	"github.com/wardenai/sentinel/services/sentinel"
	"github.com/wardenai/sentinel/services/telemetry"
)

const (
	// DefaultFleetHigh is the fraction of the fleet at or above which a
	// shared anomaly is classified FLEET_WIDE.
	DefaultFleetHigh = 0.3
	// DefaultFleetLow is the fraction below which a shared anomaly is
	// classified AGENT_SPECIFIC rather than PARTIAL_FLEET.
	DefaultFleetLow = 0.1
	// DefaultWindow bounds how recent a fleet member's own detection must
	// be to count toward the correlation.
	DefaultWindow = 10 * time.Second
)

// FleetLister is the narrow capability the Correlator needs from the
// Orchestrator: the current set of known, non-quarantined agent ids. It is
// defined here, by the consumer, rather than depending on an orchestrator
// type directly.
type FleetLister interface {
	KnownAgents() []string
}

// Correlator classifies how widely an anomaly is shared.
type Correlator struct {
	fleet     FleetLister
	telemetry *telemetry.Telemetry
	baselines *baseline.Learner
	detector  *sentinel.Detector
	window    time.Duration
	fleetLow  float64
	fleetHigh float64
}

// New builds a Correlator over the given fleet lister, telemetry, baseline
// learner and detector, using the default thresholds and window.
func New(fleet FleetLister, tel *telemetry.Telemetry, bl *baseline.Learner, det *sentinel.Detector) *Correlator {
	return &Correlator{
		fleet:     fleet,
		telemetry: tel,
		baselines: bl,
		detector:  det,
		window:    DefaultWindow,
		fleetLow:  DefaultFleetLow,
		fleetHigh: DefaultFleetHigh,
	}
}

// Classify decides how widely anomaly kind `report.AnomalyList[0]`-shaped
// infections are shared across the fleet right now. It reruns the Sentinel
// against every other known agent's current window so the verdict reflects
// the fleet's live state rather than a cache of earlier reports.
func (c *Correlator) Classify(ctx context.Context, report *vitals.InfectionReport) vitals.CorrelationVerdict {
	if report == nil || len(report.AnomalyList) == 0 {
		return vitals.VerdictAgentSpecific
	}
	primary := report.AnomalyList[0]

	agents := c.fleet.KnownAgents()
	total := 0
	matching := 0
	for _, agentID := range agents {
		if agentID == report.AgentID {
			continue
		}
		profile := c.baselines.Profile(agentID)
		if !profile.Ready {
			continue
		}
		total++

		window := c.telemetry.Recent(ctx, agentID, c.window)
		other := c.detector.Detect(agentID, window, profile)
		if other == nil {
			continue
		}
		if other.HasAnomaly(primary) {
			matching++
		}
	}

	if total == 0 {
		return vitals.VerdictAgentSpecific
	}

	fraction := float64(matching) / float64(total)
	switch {
	case fraction >= c.fleetHigh:
		return vitals.VerdictFleetWide
	case fraction >= c.fleetLow:
		return vitals.VerdictPartialFleet
	default:
		return vitals.VerdictAgentSpecific
	}
}
