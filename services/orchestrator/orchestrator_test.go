// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/executor"
)

func cleanVitals(agentID string, at time.Time) vitals.Vitals {
	return vitals.Vitals{
		AgentID:      agentID,
		At:           at,
		LatencyMs:    100,
		InputTokens:  600,
		OutputTokens: 400,
		ToolCalls:    2,
		Success:      true,
		Model:        "test-model",
		PromptHash:   "hash-v1",
	}
}

func warmUp(t *testing.T, o *Orchestrator, agentID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, o.Ingest(ctx, cleanVitals(agentID, time.Now())))
	}
}

func TestOrchestrator_BaselineWarmupThenCleanTraffic(t *testing.T) {
	// Arrange
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	// Act
	warmUp(t, o, "agent-1", 15)

	// Assert
	profile := o.Baselines().Profile("agent-1")
	assert.True(t, profile.Ready)

	o.agentLoopTick(ctx)
	assert.Equal(t, vitals.StateHealthy, o.Lifecycle().State("agent-1"))

	o.sentinelLoopTick(ctx)
	assert.Equal(t, vitals.StateHealthy, o.Lifecycle().State("agent-1"))
}

func TestOrchestrator_MildLatencySpikeAutoHealsWithoutApproval(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	warmUp(t, o, "agent-1", 15)
	o.agentLoopTick(ctx)
	require.Equal(t, vitals.StateHealthy, o.Lifecycle().State("agent-1"))

	// 138ms against a constant-100ms baseline puts the blended window mean
	// near 3 sigma with the floored stddev of 5: anomalous, but under both
	// the severe-skip and approval thresholds.
	for i := 0; i < 10; i++ {
		v := cleanVitals("agent-1", time.Now())
		v.LatencyMs = 138
		require.NoError(t, o.Ingest(ctx, v))
	}

	// The mild spike is below the severe-skip threshold, so it climbs
	// HEALTHY -> SUSPECTED -> DRAINING across three consecutive
	// sentinel-loop scans rather than bypassing straight to DRAINING.
	for i := 0; i < 3; i++ {
		o.sentinelLoopTick(ctx)
	}
	time.Sleep(50 * time.Millisecond) // let the async heal-step goroutine land

	assert.Empty(t, o.PendingApprovals())
	state := o.Lifecycle().State("agent-1")
	assert.True(t, state == vitals.StateProbation || state == vitals.StateHealing, "expected PROBATION or HEALING, got %s", state)
}

func TestOrchestrator_SevereTokenSpikeRequiresApproval(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	warmUp(t, o, "agent-1", 15)
	o.agentLoopTick(ctx)

	for i := 0; i < 10; i++ {
		v := cleanVitals("agent-1", time.Now())
		v.InputTokens = 9000
		v.OutputTokens = 1000
		require.NoError(t, o.Ingest(ctx, v))
	}

	o.sentinelLoopTick(ctx)

	pending := o.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, "agent-1", pending[0].AgentID)
	assert.Equal(t, vitals.StateQuarantined, o.Lifecycle().State("agent-1"))

	require.NoError(t, o.Approve(ctx, "agent-1"))
	assert.Empty(t, o.PendingApprovals())

	time.Sleep(50 * time.Millisecond)
	state := o.Lifecycle().State("agent-1")
	assert.True(t, state == vitals.StateProbation || state == vitals.StateHealing, "expected PROBATION or HEALING, got %s", state)
}

func TestOrchestrator_RejectThenHealNow(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	warmUp(t, o, "agent-1", 15)
	o.agentLoopTick(ctx)
	for i := 0; i < 10; i++ {
		v := cleanVitals("agent-1", time.Now())
		v.InputTokens = 9000
		require.NoError(t, o.Ingest(ctx, v))
	}
	o.sentinelLoopTick(ctx)
	require.Len(t, o.PendingApprovals(), 1)

	require.NoError(t, o.Reject(ctx, "agent-1"))
	assert.Empty(t, o.PendingApprovals())
	assert.Len(t, o.RejectedApprovals(), 1)
	assert.Equal(t, vitals.StateQuarantined, o.Lifecycle().State("agent-1"))

	require.NoError(t, o.HealNow(ctx, "agent-1"))
	assert.Empty(t, o.RejectedApprovals())

	time.Sleep(50 * time.Millisecond)
	state := o.Lifecycle().State("agent-1")
	assert.True(t, state == vitals.StateProbation || state == vitals.StateHealing, "expected PROBATION or HEALING, got %s", state)
}

func TestOrchestrator_FleetWideSpikeNeverQuarantines(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	agentIDs := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10"}
	for _, id := range agentIDs {
		warmUp(t, o, id, 15)
	}
	o.agentLoopTick(ctx)

	for i := 0; i < 3; i++ {
		for _, id := range agentIDs {
			v := cleanVitals(id, time.Now())
			v.LatencyMs = 300
			require.NoError(t, o.Ingest(ctx, v))
		}
		o.sentinelLoopTick(ctx)
	}

	for _, id := range agentIDs {
		state := o.Lifecycle().State(id)
		assert.NotEqual(t, vitals.StateQuarantined, state, "agent %s should never quarantine on a fleet-wide spike", id)
		assert.NotEqual(t, vitals.StateDraining, state, "agent %s should never drain on a fleet-wide spike", id)
	}
}

func TestOrchestrator_IngestAutoRegistersUnknownAgent(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	require.NoError(t, o.Ingest(ctx, cleanVitals("new-agent", time.Now())))

	assert.Contains(t, o.KnownAgents(), "new-agent")
	assert.Equal(t, vitals.StateInitializing, o.Lifecycle().State("new-agent"))
}

func TestOrchestrator_IngestRejectsMissingAgentID(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	err := o.Ingest(context.Background(), vitals.Vitals{})
	assert.Error(t, err)
}

func TestOrchestrator_ApproveRejectedByUnknownAgentIsAnError(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	assert.Error(t, o.Approve(context.Background(), "nobody"))
	assert.Error(t, o.Reject(context.Background(), "nobody"))
}

func TestOrchestrator_StatsCountsAgentsAndInfections(t *testing.T) {
	o := New("run-1", nil, nil, nil, executor.NewSimulated(), nil)
	ctx := context.Background()

	warmUp(t, o, "agent-1", 15)
	o.agentLoopTick(ctx)
	stats := o.Stats(ctx)
	assert.Equal(t, 1, stats.TotalAgents)
	assert.Equal(t, 0, stats.CurrentInfected)
}
