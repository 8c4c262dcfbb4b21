// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package immune implements the immune memory: a persistent
// record of which healing actions have previously succeeded or failed for
// each (agent, diagnosis) pair, plus a global success view the Healer uses
// to reorder its policy ladders. Every entry is rebuildable by replaying
// the Store's healing-event log, so it
// keeps only a coarse-grained in-memory index guarded by one RWMutex.
package immune

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/store"
)

type key struct {
	agentID   string
	diagnosis vitals.DiagnosisKind
	action    vitals.HealingAction
}

type counters struct {
	successCount int
	failureCount int
	lastOutcome  time.Time
}

// FeedbackEntry is one operator verdict on a past diagnosis, recorded for
// an agent and replayed into the Diagnostician's future ranking.
type FeedbackEntry struct {
	Kind  vitals.DiagnosisKind
	Label vitals.FeedbackLabel
	At    time.Time
}

// Memory is the shared outcome/feedback record.
type Memory struct {
	runID   string
	backing store.Store

	mu      sync.RWMutex
	entries map[key]*counters
	// globalSuccess indexes success counts by (diagnosis, action), ignoring
	// the agent, for the Healer's cross-agent ladder reordering.
	globalSuccess map[vitals.DiagnosisKind]map[vitals.HealingAction]int
	// feedback is the operator-feedback history per agent, oldest-first.
	feedback map[string][]FeedbackEntry
	// recent is a bounded ring of the most recent healing events across
	// every agent, for the dashboard's "recent healings" read;
	// it is a display convenience only, not the authoritative log (the
	// Store's healing-event history is).
	recent []vitals.HealingEvent
}

// recentHealingsCap bounds the in-memory "recent healings" ring the
// dashboard reads from.
const recentHealingsCap = 50

// New builds a Memory bound to runID. backing may be nil for a purely
// in-memory deployment.
func New(runID string, backing store.Store) *Memory {
	return &Memory{
		runID:         runID,
		backing:       backing,
		entries:       make(map[key]*counters),
		globalSuccess: make(map[vitals.DiagnosisKind]map[vitals.HealingAction]int),
		feedback:      make(map[string][]FeedbackEntry),
	}
}

// RecordFeedback appends one operator verdict to agentID's feedback
// history. It is consumed by the Diagnostician the next time it ranks a
// report for this agent.
func (m *Memory) RecordFeedback(agentID string, diagnosis vitals.DiagnosisKind, label vitals.FeedbackLabel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[agentID] = append(m.feedback[agentID], FeedbackEntry{Kind: diagnosis, Label: label, At: time.Now()})
}

// History returns a copy of agentID's feedback entries, oldest-first.
func (m *Memory) History(agentID string) []FeedbackEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.feedback[agentID]
	out := make([]FeedbackEntry, len(src))
	copy(out, src)
	return out
}

// RecordOutcome folds one (agent, diagnosis, action) attempt into memory
// and, if a Store is attached, persists the healing event. Store failures
// are logged and swallowed.
func (m *Memory) RecordOutcome(ctx context.Context, agentID string, diagnosis vitals.DiagnosisKind, action vitals.HealingAction, outcome vitals.ExecutorOutcome) {
	k := key{agentID: agentID, diagnosis: diagnosis, action: action}

	m.mu.Lock()
	c, ok := m.entries[k]
	if !ok {
		c = &counters{}
		m.entries[k] = c
	}
	if outcome.Success {
		c.successCount++
		if m.globalSuccess[diagnosis] == nil {
			m.globalSuccess[diagnosis] = make(map[vitals.HealingAction]int)
		}
		m.globalSuccess[diagnosis][action]++
	} else {
		c.failureCount++
	}
	c.lastOutcome = time.Now()
	ev := vitals.HealingEvent{AgentID: agentID, Diagnosis: diagnosis, Action: action, Outcome: outcome, At: c.lastOutcome}
	m.recent = append(m.recent, ev)
	if len(m.recent) > recentHealingsCap {
		m.recent = m.recent[len(m.recent)-recentHealingsCap:]
	}
	m.mu.Unlock()

	if m.backing == nil {
		return
	}
	if err := m.backing.WriteHealingEvent(ctx, m.runID, ev); err != nil {
		slog.Warn("immune memory store write failed", "kind", "TransientStoreFailure", "agent_id", agentID, "diagnosis_kind", diagnosis, "error", err)
	}
}

// RecentHealings returns the most recent healing events across every
// agent, newest first, capped at recentHealingsCap.
func (m *Memory) RecentHealings() []vitals.HealingEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vitals.HealingEvent, len(m.recent))
	for i, ev := range m.recent {
		out[len(m.recent)-1-i] = ev
	}
	return out
}

// FailedActions returns the set of actions that have ever failed for
// (agentID, diagnosis). Prefers the Store when attached so a restarted
// process recovers the same exclusion set; falls back to the in-memory
// index on Store error.
func (m *Memory) FailedActions(ctx context.Context, agentID string, diagnosis vitals.DiagnosisKind) map[vitals.HealingAction]struct{} {
	if m.backing != nil {
		if set, err := m.backing.GetFailedActions(ctx, m.runID, agentID, diagnosis); err == nil {
			return set
		} else {
			slog.Warn("immune memory store read failed, falling back to local index", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[vitals.HealingAction]struct{})
	for k, c := range m.entries {
		if k.agentID == agentID && k.diagnosis == diagnosis && c.failureCount > 0 {
			out[k.action] = struct{}{}
		}
	}
	return out
}

// GlobalSuccess returns the actions recorded as successful for diagnosis
// across every agent, ordered by descending success count. Actions tied at
// zero successes are omitted; the Healer falls back to ladder position for
// those.
func (m *Memory) GlobalSuccess(diagnosis vitals.DiagnosisKind) []vitals.HealingAction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byAction := m.globalSuccess[diagnosis]
	if len(byAction) == 0 {
		return nil
	}

	type scored struct {
		action vitals.HealingAction
		count  int
	}
	scoredList := make([]scored, 0, len(byAction))
	for a, c := range byAction {
		scoredList = append(scoredList, scored{action: a, count: c})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].count > scoredList[j].count
	})

	out := make([]vitals.HealingAction, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.action
	}
	return out
}
