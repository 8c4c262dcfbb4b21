// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor implements the capability that applies one healing
// action to one agent. The Healer depends only on the Executor interface;
// concrete bindings (simulated, gateway, process, container) are swappable
// plumbing, the same tagged-variant dynamic-dispatch idiom the enforcement
// strategies use.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenai/sentinel/pkg/vitals"
)

// Executor applies one healing action to one agent and reports whether it
// took effect.
type Executor interface {
	Execute(ctx context.Context, agentID string, action vitals.HealingAction) (vitals.ExecutorOutcome, error)
}

// AgentState is the abstract in-memory state SimulatedExecutor mutates,
// standing in for whatever real state a gateway/process/container binding
// would actually change.
type AgentState struct {
	MemoryCleared bool
	PromptVersion int
	AutonomyLevel int
	ToolsEnabled  bool
	ResetCount    int
}

// DefaultAgentState is the state a freshly registered agent starts from.
func DefaultAgentState() AgentState {
	return AgentState{PromptVersion: 1, AutonomyLevel: 3, ToolsEnabled: true}
}

// SimulatedExecutor mutates an in-memory AgentState per agent. It is the
// default, always-available binding: the Healer's contract does not
// require a real gateway, process, or container to exist.
type SimulatedExecutor struct {
	mu      sync.Mutex
	states  map[string]*AgentState
	failing map[string]map[vitals.HealingAction]struct{}
}

// NewSimulated returns a SimulatedExecutor with no agents yet registered.
func NewSimulated() *SimulatedExecutor {
	return &SimulatedExecutor{
		states:  make(map[string]*AgentState),
		failing: make(map[string]map[vitals.HealingAction]struct{}),
	}
}

func (e *SimulatedExecutor) stateFor(agentID string) *AgentState {
	if s, ok := e.states[agentID]; ok {
		return s
	}
	s := DefaultAgentState()
	e.states[agentID] = &s
	return e.states[agentID]
}

// ForceFailure makes every future Execute call for (agentID, action) fail,
// regardless of what the action would otherwise do. Used by tests driving
// the case where a primary hypothesis's actions fail and a secondary one
// succeeds.
func (e *SimulatedExecutor) ForceFailure(agentID string, action vitals.HealingAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing[agentID] == nil {
		e.failing[agentID] = make(map[vitals.HealingAction]struct{})
	}
	e.failing[agentID][action] = struct{}{}
}

// State returns a copy of agentID's simulated state.
func (e *SimulatedExecutor) State(agentID string) AgentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stateFor(agentID)
}

// Execute applies action to agentID's simulated state.
func (e *SimulatedExecutor) Execute(_ context.Context, agentID string, action vitals.HealingAction) (vitals.ExecutorOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if forced, ok := e.failing[agentID]; ok {
		if _, fails := forced[action]; fails {
			return vitals.ExecutorOutcome{Success: false, Message: fmt.Sprintf("%s forced failure", action)}, nil
		}
	}

	s := e.stateFor(agentID)
	switch action {
	case vitals.ActionResetMemory:
		s.MemoryCleared = true
		return vitals.ExecutorOutcome{Success: true, Message: "memory cleared"}, nil
	case vitals.ActionRollbackPrompt:
		if s.PromptVersion > 1 {
			s.PromptVersion--
		}
		return vitals.ExecutorOutcome{Success: true, Message: fmt.Sprintf("prompt rolled back to v%d", s.PromptVersion)}, nil
	case vitals.ActionReduceAutonomy:
		if s.AutonomyLevel > 0 {
			s.AutonomyLevel--
		}
		return vitals.ExecutorOutcome{Success: true, Message: fmt.Sprintf("autonomy reduced to %d", s.AutonomyLevel)}, nil
	case vitals.ActionRevokeTools:
		s.ToolsEnabled = false
		return vitals.ExecutorOutcome{Success: true, Message: "tools revoked"}, nil
	case vitals.ActionResetAgent:
		reset := DefaultAgentState()
		reset.ResetCount = s.ResetCount + 1
		e.states[agentID] = &reset
		return vitals.ExecutorOutcome{Success: true, Message: "full reset"}, nil
	default:
		return vitals.ExecutorOutcome{Success: false, Message: "unknown action"}, nil
	}
}
