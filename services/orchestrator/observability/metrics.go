// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the control plane's Prometheus metrics:
// vitals ingested,
// infections detected, healing actions applied or failed, and a lifecycle
// state gauge per agent. Registered once at process startup and read by
// every external-surface handler that needs to record an event.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// Metrics is the control plane's Prometheus instrument set.
type Metrics struct {
	VitalsIngested      *prometheus.CounterVec
	IngestRejected      *prometheus.CounterVec
	InfectionsDetected  *prometheus.CounterVec
	HealingActionsTotal *prometheus.CounterVec
	LifecycleState      *prometheus.GaugeVec
}

// NewMetrics registers every instrument against reg and returns the set.
// cmd/sentineld passes its own prometheus.Registry, which its /metrics
// route serves.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VitalsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "vitals_ingested_total",
			Help:      "Vitals samples accepted by the ingest endpoint, by agent.",
		}, []string{"agent_id"}),
		IngestRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "ingest_rejected_total",
			Help:      "Vitals samples rejected at the ingest endpoint, by reason.",
		}, []string{"reason"}),
		InfectionsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "infections_detected_total",
			Help:      "Infection reports produced by the sentinel loop, by agent.",
		}, []string{"agent_id"}),
		HealingActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "healing_actions_total",
			Help:      "Healing actions applied, by action and outcome.",
		}, []string{"action", "outcome"}),
		LifecycleState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "agent_lifecycle_state",
			Help:      "1 for the agent's current lifecycle state, 0 for every other state.",
		}, []string{"agent_id", "state"}),
	}
}

// allStates lists every lifecycle state the gauge tracks, so SetLifecycleState
// can zero out the states an agent just left.
var allStates = []vitals.LifecycleState{
	vitals.StateInitializing, vitals.StateHealthy, vitals.StateSuspected,
	vitals.StateDraining, vitals.StateQuarantined, vitals.StateHealing,
	vitals.StateProbation, vitals.StateExhausted,
}

// SetLifecycleState sets agentID's gauge to 1 for its current state and 0
// for every other tracked state.
func (m *Metrics) SetLifecycleState(agentID string, current vitals.LifecycleState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.LifecycleState.WithLabelValues(agentID, string(s)).Set(v)
	}
}

// RecordHealingOutcome increments the healing-actions counter for one
// applied action.
func (m *Metrics) RecordHealingOutcome(action vitals.HealingAction, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.HealingActionsTotal.WithLabelValues(string(action), outcome).Inc()
}
