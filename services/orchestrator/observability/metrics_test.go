// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// newTestMetrics builds an instrument set against its own registry so tests
// never collide with the default registerer or each other.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestVitalsIngestedCountsPerAgent(t *testing.T) {
	// Arrange
	m := newTestMetrics(t)

	// Act
	m.VitalsIngested.WithLabelValues("agent-1").Inc()
	m.VitalsIngested.WithLabelValues("agent-1").Inc()
	m.VitalsIngested.WithLabelValues("agent-2").Inc()

	// Assert
	assert.Equal(t, 2.0, testutil.ToFloat64(m.VitalsIngested.WithLabelValues("agent-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VitalsIngested.WithLabelValues("agent-2")))
}

func TestIngestRejectedCountsPerReason(t *testing.T) {
	m := newTestMetrics(t)

	m.IngestRejected.WithLabelValues("bad_input").Inc()
	m.IngestRejected.WithLabelValues("bad_input").Inc()
	m.IngestRejected.WithLabelValues("internal").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestRejected.WithLabelValues("bad_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestRejected.WithLabelValues("internal")))
}

func TestRecordHealingOutcomeSplitsByResult(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordHealingOutcome(vitals.ActionResetMemory, true)
	m.RecordHealingOutcome(vitals.ActionResetMemory, true)
	m.RecordHealingOutcome(vitals.ActionResetMemory, false)

	success := testutil.ToFloat64(m.HealingActionsTotal.WithLabelValues(string(vitals.ActionResetMemory), "success"))
	failure := testutil.ToFloat64(m.HealingActionsTotal.WithLabelValues(string(vitals.ActionResetMemory), "failure"))
	assert.Equal(t, 2.0, success)
	assert.Equal(t, 1.0, failure)
}

func TestSetLifecycleStateIsOneHot(t *testing.T) {
	// Arrange
	m := newTestMetrics(t)

	// Act: move agent-1 HEALTHY -> QUARANTINED; only the current state's
	// series may read 1.
	m.SetLifecycleState("agent-1", vitals.StateHealthy)
	m.SetLifecycleState("agent-1", vitals.StateQuarantined)

	// Assert
	for _, state := range []vitals.LifecycleState{
		vitals.StateInitializing, vitals.StateHealthy, vitals.StateSuspected,
		vitals.StateDraining, vitals.StateQuarantined, vitals.StateHealing,
		vitals.StateProbation, vitals.StateExhausted,
	} {
		got := testutil.ToFloat64(m.LifecycleState.WithLabelValues("agent-1", string(state)))
		if state == vitals.StateQuarantined {
			assert.Equal(t, 1.0, got, "state %s", state)
		} else {
			assert.Equal(t, 0.0, got, "state %s", state)
		}
	}
}

func TestNewMetricsRegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.VitalsIngested.WithLabelValues("agent-1").Inc()

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
