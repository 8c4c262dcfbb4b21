// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package healer implements the Healer: it holds the default
// policy ladder per diagnosis kind, selects the next action for an
// (agent, diagnosis) pair by removing previously failed actions and
// reordering the rest by cross-agent global success, and applies the
// chosen action through an Executor, recording the outcome in immune
// memory and driving the Lifecycle machine's HEALING -> PROBATION edge.
// The ladder table is declarative `//go:embed`-ed YAML, the same
// init()-parsed pattern used by services/diagnostician's patterns.yaml.
package healer

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/baseline"
	"github.com/wardenai/sentinel/services/executor"
	"github.com/wardenai/sentinel/services/immune"
	"github.com/wardenai/sentinel/services/lifecycle"
)

type ladderEntry struct {
	Kind    string   `yaml:"kind"`
	Actions []string `yaml:"actions"`
}

type ladderFile struct {
	Ladders []ladderEntry `yaml:"ladders"`
}

var ladders map[vitals.DiagnosisKind][]vitals.HealingAction

func init() {
	var f ladderFile
	if err := yaml.Unmarshal(laddersYAML, &f); err != nil {
		panic(fmt.Sprintf("healer: invalid embedded ladders.yaml: %v", err))
	}
	ladders = make(map[vitals.DiagnosisKind][]vitals.HealingAction, len(f.Ladders))
	for _, entry := range f.Ladders {
		actions := make([]vitals.HealingAction, len(entry.Actions))
		for i, a := range entry.Actions {
			actions[i] = vitals.HealingAction(a)
		}
		ladders[vitals.DiagnosisKind(entry.Kind)] = actions
	}
}

// Healer selects and applies healing actions.
type Healer struct {
	memory    *immune.Memory
	exec      executor.Executor
	lifecycle *lifecycle.Machine
	baselines *baseline.Learner
}

// New returns a Healer wired to its four collaborators. baselines may be
// nil in tests that don't care about post-healing acceleration.
func New(memory *immune.Memory, exec executor.Executor, lc *lifecycle.Machine, baselines *baseline.Learner) *Healer {
	return &Healer{memory: memory, exec: exec, lifecycle: lc, baselines: baselines}
}

// Next selects the next action for (agentID, diagnosis): remove failed
// actions, reorder the rest by descending global
// success (ties broken by default ladder position), return the head. The
// second return is false when the ladder is exhausted.
func (h *Healer) Next(ctx context.Context, agentID string, diagnosis vitals.DiagnosisKind) (vitals.HealingAction, bool) {
	ladder, ok := ladders[diagnosis]
	if !ok || len(ladder) == 0 {
		return "", false
	}

	failed := h.memory.FailedActions(ctx, agentID, diagnosis)
	candidates := make([]vitals.HealingAction, 0, len(ladder))
	position := make(map[vitals.HealingAction]int, len(ladder))
	for i, a := range ladder {
		position[a] = i
		if _, isFailed := failed[a]; isFailed {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return "", false
	}

	successRank := make(map[vitals.HealingAction]int, len(candidates))
	for i, a := range h.memory.GlobalSuccess(diagnosis) {
		successRank[a] = i
	}

	best := candidates[0]
	bestRank, bestHasSuccess := successRank[best]
	bestLadderPos := position[best]
	for _, a := range candidates[1:] {
		rank, hasSuccess := successRank[a]
		ladderPos := position[a]
		switch {
		case hasSuccess && !bestHasSuccess:
			best, bestRank, bestHasSuccess, bestLadderPos = a, rank, true, ladderPos
		case hasSuccess && bestHasSuccess && rank < bestRank:
			best, bestRank, bestLadderPos = a, rank, ladderPos
		case !hasSuccess && !bestHasSuccess && ladderPos < bestLadderPos:
			best, bestLadderPos = a, ladderPos
		}
	}
	return best, true
}

// Apply dispatches action to the Executor, records the outcome in immune
// memory, always advances Lifecycle HEALING -> PROBATION (the transition
// fires on "action applied", not on success), and accelerates
// the agent's baseline so it converges on the post-healing normal. A
// successful RESET_AGENT first discards that baseline (HardReset).
func (h *Healer) Apply(ctx context.Context, agentID string, diagnosis vitals.DiagnosisKind, action vitals.HealingAction) (vitals.ExecutorOutcome, error) {
	outcome, err := h.exec.Execute(ctx, agentID, action)
	if err != nil {
		outcome = vitals.ExecutorOutcome{Success: false, Message: err.Error()}
	}

	h.memory.RecordOutcome(ctx, agentID, diagnosis, action, outcome)

	if h.lifecycle != nil {
		if _, lerr := h.lifecycle.ActionApplied(ctx, agentID); lerr != nil {
			slog.Warn("lifecycle transition after healing action failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "action", action, "error", lerr)
		}
	}
	if h.baselines != nil {
		if action == vitals.ActionResetAgent && outcome.Success {
			h.baselines.HardReset(agentID)
		}
		h.baselines.Accelerate(agentID)
	}

	return outcome, err
}
