// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/sentinel/pkg/vitals"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreVitalsRoundTrip(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()
	v1 := vitals.Vitals{AgentID: "agent-1", At: now.Add(-time.Minute), LatencyMs: 100}
	v2 := vitals.Vitals{AgentID: "agent-1", At: now, LatencyMs: 200}

	// Act
	require.NoError(t, s.WriteAgentVitals(ctx, "run-a", v1))
	require.NoError(t, s.WriteAgentVitals(ctx, "run-a", v2))
	latest, err := s.GetLatestAgentVitals(ctx, "run-a", "agent-1")
	require.NoError(t, err)
	recent, err := s.GetRecentAgentVitals(ctx, "run-a", "agent-1", 5*time.Minute)
	require.NoError(t, err)
	total, err := s.GetTotalExecutions(ctx, "run-a")
	require.NoError(t, err)

	// Assert
	require.NotNil(t, latest)
	assert.Equal(t, 200.0, latest.LatencyMs)
	assert.Len(t, recent, 2)
	assert.Equal(t, int64(2), total)
}

func TestMemoryStoreRunIDIsolation(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.WriteAgentVitals(ctx, "run-a", vitals.Vitals{AgentID: "agent-1", At: time.Now()}))

	// Act
	latestOtherRun, err := s.GetLatestAgentVitals(ctx, "run-b", "agent-1")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, latestOtherRun)
}

func TestMemoryStoreBaselineProfile(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	p := vitals.BaselineProfile{
		AgentID:     "agent-1",
		Stats:       map[vitals.Metric]vitals.MetricStat{vitals.MetricLatency: {Mean: 10, Variance: 1}},
		SampleCount: 20,
		Ready:       true,
		UpdatedAt:   time.Now(),
	}

	// Act
	require.NoError(t, s.WriteBaselineProfile(ctx, "run-a", p))
	got, err := s.GetBaselineProfile(ctx, "run-a", "agent-1")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Ready)
	assert.Equal(t, int64(20), got.SampleCount)
}

func TestMemoryStoreApprovalLifecycle(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	rec := vitals.ApprovalRecord{
		AgentID:   "agent-1",
		Status:    vitals.ApprovalPending,
		CreatedAt: time.Now(),
	}

	// Act
	require.NoError(t, s.WriteApprovalEvent(ctx, "run-a", rec))
	pending, err := s.GetPendingApprovals(ctx, "run-a")
	require.NoError(t, err)

	decidedAt := time.Now()
	rec.Status = vitals.ApprovalRejected
	rec.DecidedAt = &decidedAt
	require.NoError(t, s.WriteApprovalEvent(ctx, "run-a", rec))

	rejected, err := s.GetRejectedApprovals(ctx, "run-a")
	require.NoError(t, err)
	stillPending, err := s.GetPendingApprovals(ctx, "run-a")
	require.NoError(t, err)
	latest, err := s.GetLatestApprovalState(ctx, "run-a", "agent-1")
	require.NoError(t, err)

	// Assert
	assert.Len(t, pending, 1)
	assert.Len(t, rejected, 1)
	assert.Len(t, stillPending, 0)
	require.NotNil(t, latest)
	assert.Equal(t, vitals.ApprovalRejected, latest.Status)
}

func TestMemoryStoreFailedActions(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now()

	// Act
	require.NoError(t, s.WriteHealingEvent(ctx, "run-a", vitals.HealingEvent{
		AgentID:   "agent-1",
		Diagnosis: vitals.DiagnosisPromptDrift,
		Action:    vitals.ActionResetMemory,
		Outcome:   vitals.ExecutorOutcome{Success: false},
		At:        base,
	}))
	require.NoError(t, s.WriteHealingEvent(ctx, "run-a", vitals.HealingEvent{
		AgentID:   "agent-1",
		Diagnosis: vitals.DiagnosisPromptDrift,
		Action:    vitals.ActionRollbackPrompt,
		Outcome:   vitals.ExecutorOutcome{Success: true},
		At:        base.Add(time.Second),
	}))
	failed, err := s.GetFailedActions(ctx, "run-a", "agent-1", vitals.DiagnosisPromptDrift)

	// Assert
	require.NoError(t, err)
	_, hasFailed := failed[vitals.ActionResetMemory]
	_, hasSucceeded := failed[vitals.ActionRollbackPrompt]
	assert.True(t, hasFailed)
	assert.False(t, hasSucceeded)
}

func TestMemoryStoreActionLogRecencyOrder(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteActionLog(ctx, "run-a", vitals.ActionLogEntry{
			At:      base.Add(time.Duration(i) * time.Second),
			Kind:    "test",
			Message: "entry",
		}))
	}

	// Act
	recent, err := s.GetRecentActionLog(ctx, "run-a", 3)

	// Assert
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].At.After(recent[1].At))
	assert.True(t, recent[1].At.After(recent[2].At))
}
