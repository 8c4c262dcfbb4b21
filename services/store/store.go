// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store defines the abstract persistence contract the core depends
// on. Every operation is scoped by a run_id so repeated runs are
// isolated from each other; concrete bindings (InfluxDB, an in-memory
// reference) are plumbing behind this interface, never imported by the
// detection/diagnosis/healing packages directly.
package store

import (
	"context"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// Store is the only wire protocol the core requires. All reads and writes
// are scoped by runID; an implementation must never let a read under one
// run_id observe data written under another.
type Store interface {
	WriteAgentVitals(ctx context.Context, runID string, v vitals.Vitals) error
	GetRecentAgentVitals(ctx context.Context, runID, agentID string, window time.Duration) ([]vitals.Vitals, error)
	GetLatestAgentVitals(ctx context.Context, runID, agentID string) (*vitals.Vitals, error)
	GetTotalExecutions(ctx context.Context, runID string) (int64, error)

	WriteBaselineProfile(ctx context.Context, runID string, p vitals.BaselineProfile) error
	GetBaselineProfile(ctx context.Context, runID, agentID string) (*vitals.BaselineProfile, error)

	WriteInfectionEvent(ctx context.Context, runID string, r vitals.InfectionReport) error
	WriteQuarantineEvent(ctx context.Context, runID, agentID string, quarantined bool, at time.Time) error

	WriteApprovalEvent(ctx context.Context, runID string, rec vitals.ApprovalRecord) error
	GetLatestApprovalState(ctx context.Context, runID, agentID string) (*vitals.ApprovalRecord, error)
	GetPendingApprovals(ctx context.Context, runID string) ([]vitals.ApprovalRecord, error)
	GetRejectedApprovals(ctx context.Context, runID string) ([]vitals.ApprovalRecord, error)

	WriteHealingEvent(ctx context.Context, runID string, ev vitals.HealingEvent) error
	GetFailedActions(ctx context.Context, runID, agentID string, diagnosis vitals.DiagnosisKind) (map[vitals.HealingAction]struct{}, error)

	WriteActionLog(ctx context.Context, runID string, entry vitals.ActionLogEntry) error
	GetRecentActionLog(ctx context.Context, runID string, limit int) ([]vitals.ActionLogEntry, error)

	// Close releases resources held by the implementation (connections,
	// file handles). Safe to call once during shutdown.
	Close() error
}
