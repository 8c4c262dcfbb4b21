// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle implements the 8-state agent lifecycle machine:
// INITIALIZING, HEALTHY, SUSPECTED, DRAINING, QUARANTINED, HEALING,
// PROBATION, EXHAUSTED. Every transition is guarded, appended to a bounded
// per-agent history ring, and paired with an Enforcement hook dispatched
// through the Quarantine controller (DRAINING=drain; QUARANTINED/HEALING=
// block; HEALTHY/PROBATION=unblock). Transitions for a single agent are
// serialized by a per-record mutex so no two callers ever observe the same
// pre-state.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/enforcement"
)

const (
	DefaultSuspectTicks   = 3
	DefaultProbationTicks = 10
	DefaultSevereSkip     = 6.0
	DefaultApprovalThresh = 5.0
	DefaultDrainTimeout   = 30 * time.Second
	historyRingSize       = 50
)

// Quarantiner is the narrow capability Lifecycle needs from the quarantine
// controller: enforcement plus the persisted quarantined-id bookkeeping,
// kept behind an interface so this package never imports services/cache.
type Quarantiner interface {
	Quarantine(ctx context.Context, agentID string) error
	Release(ctx context.Context, agentID string) error
	Drain(ctx context.Context, agentID string, timeout time.Duration) (enforcement.DrainResult, error)
}

// Transition is one recorded state change.
type Transition struct {
	From   vitals.LifecycleState
	To     vitals.LifecycleState
	At     time.Time
	Reason string
}

type record struct {
	mu             sync.Mutex
	state          vitals.LifecycleState
	enteredAt      time.Time
	suspectStreak  int
	probationClean int
	history        []Transition
}

func (r *record) appendHistory(t Transition) {
	r.history = append(r.history, t)
	if len(r.history) > historyRingSize {
		r.history = r.history[len(r.history)-historyRingSize:]
	}
}

// Machine is the set of all agents' lifecycle records.
type Machine struct {
	quarantiner Quarantiner

	SuspectTicks      int
	ProbationTicks    int
	SevereSkip        float64
	ApprovalThreshold float64
	DrainTimeout      time.Duration

	mu      sync.Mutex
	records map[string]*record

	subMu       sync.Mutex
	subscribers map[chan TransitionEvent]struct{}
}

// New returns a Machine with the default thresholds.
func New(quarantiner Quarantiner) *Machine {
	return &Machine{
		quarantiner:       quarantiner,
		SuspectTicks:      DefaultSuspectTicks,
		ProbationTicks:    DefaultProbationTicks,
		SevereSkip:        DefaultSevereSkip,
		ApprovalThreshold: DefaultApprovalThresh,
		DrainTimeout:      DefaultDrainTimeout,
		records:           make(map[string]*record),
		subscribers:       make(map[chan TransitionEvent]struct{}),
	}
}

// TransitionEvent is one agent's state change, broadcast to every
// subscriber returned by Subscribe. It is the shape the dashboard's live
// lifecycle feed pushes over its websocket.
type TransitionEvent struct {
	AgentID string
	From    vitals.LifecycleState
	To      vitals.LifecycleState
	At      time.Time
}

// subscriberBuffer bounds how many undelivered events a slow subscriber can
// accumulate; once that buffer is full, broadcast drops each new event for
// that subscriber. The feed is best-effort and must never block a lifecycle
// transition.
const subscriberBuffer = 32

// Subscribe returns a channel that receives every future transition across
// every agent, and an unsubscribe func the caller must call when done
// reading. The channel is buffered and never blocks the caller that
// triggered the transition: a subscriber too slow to keep up silently
// misses events rather than stalling the lifecycle machine.
func (m *Machine) Subscribe() (<-chan TransitionEvent, func()) {
	ch := make(chan TransitionEvent, subscriberBuffer)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	unsubscribe := func() {
		m.subMu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (m *Machine) broadcast(ev TransitionEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default: // slow subscriber; drop rather than block
		}
	}
}

// Register ensures agentID has a record, starting in INITIALIZING if new.
// Returns the existing or newly created state.
func (m *Machine) Register(agentID string) vitals.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		r = &record{state: vitals.StateInitializing, enteredAt: time.Now()}
		m.records[agentID] = r
	}
	return r.state
}

func (m *Machine) recordFor(agentID string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		r = &record{state: vitals.StateInitializing, enteredAt: time.Now()}
		m.records[agentID] = r
	}
	return r
}

// State returns agentID's current lifecycle state.
func (m *Machine) State(agentID string) vitals.LifecycleState {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns a copy of agentID's recorded transitions, oldest first.
func (m *Machine) History(agentID string) []Transition {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Transition, len(r.history))
	copy(cp, r.history)
	return cp
}

// CanExecute reports whether agentID's current state permits it to
// continue receiving vitals samples in the agent loop:
// HEALTHY, SUSPECTED, DRAINING (in-flight work still allowed to finish),
// PROBATION, INITIALIZING.
func (m *Machine) CanExecute(agentID string) bool {
	switch m.State(agentID) {
	case vitals.StateHealthy, vitals.StateSuspected, vitals.StateDraining,
		vitals.StateProbation, vitals.StateInitializing:
		return true
	default:
		return false
	}
}

func (r *record) transition(to vitals.LifecycleState, reason string) Transition {
	t := Transition{From: r.state, To: to, At: time.Now(), Reason: reason}
	r.state = to
	r.enteredAt = t.At
	r.appendHistory(t)
	return t
}

func guardErr(agentID string, from, to vitals.LifecycleState) error {
	return fmt.Errorf("lifecycle: agent %s cannot transition %s -> %s", agentID, from, to)
}

// MarkBaselineReady applies INITIALIZING -> HEALTHY once the agent's
// baseline profile becomes ready.
func (m *Machine) MarkBaselineReady(agentID string) error {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != vitals.StateInitializing {
		return nil // idempotent: already past INITIALIZING
	}
	r.transition(vitals.StateHealthy, "baseline ready")
	return nil
}

// ReportInfection applies the HEALTHY/SUSPECTED -> SUSPECTED/DRAINING
// transitions for one sentinel-loop tick that found an anomaly.
// maxDeviation is the report's strongest deviation in standard deviations.
func (m *Machine) ReportInfection(ctx context.Context, agentID string, maxDeviation float64) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case vitals.StateHealthy:
		if maxDeviation > m.SevereSkip {
			t := r.transition(vitals.StateDraining, "severe deviation, bypassing SUSPECTED")
			return t.To, m.onEnter(ctx, agentID, t)
		}
		r.suspectStreak = 1
		t := r.transition(vitals.StateSuspected, "infection detected")
		return t.To, m.onEnter(ctx, agentID, t)

	case vitals.StateSuspected:
		r.suspectStreak++
		if maxDeviation > m.SevereSkip || r.suspectStreak >= m.SuspectTicks {
			t := r.transition(vitals.StateDraining, "infection persisted or severe")
			return t.To, m.onEnter(ctx, agentID, t)
		}
		return r.state, nil

	default:
		return r.state, nil // no-op: infection outside HEALTHY/SUSPECTED doesn't re-trigger
	}
}

// ReportFleetWideInfection applies the one-way HEALTHY -> SUSPECTED edge for
// an infection the Correlator classified FLEET_WIDE: it enters SUSPECTED
// like any other first detection, but never escalates a streak and never
// reaches DRAINING by itself: a shared fleet-wide anomaly is logged, not
// quarantined, until it resolves to something agent-specific.
func (m *Machine) ReportFleetWideInfection(ctx context.Context, agentID string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateHealthy {
		return r.state, nil
	}
	t := r.transition(vitals.StateSuspected, "fleet-wide infection, no escalation")
	return t.To, m.onEnter(ctx, agentID, t)
}

// ReportClean applies SUSPECTED -> HEALTHY on the first clean scan it is
// told about; clean scans are not counted against SuspectTicks.
func (m *Machine) ReportClean(ctx context.Context, agentID string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateSuspected {
		return r.state, nil
	}
	r.suspectStreak = 0
	t := r.transition(vitals.StateHealthy, "clean scan")
	return t.To, m.onEnter(ctx, agentID, t)
}

// CompleteDrain applies DRAINING -> QUARANTINED once in-flight work
// finished (drained) or the drain timeout elapsed; both conclude the
// same way.
func (m *Machine) CompleteDrain(ctx context.Context, agentID string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateDraining {
		return r.state, guardErr(agentID, r.state, vitals.StateQuarantined)
	}
	t := r.transition(vitals.StateQuarantined, "drain complete")
	return t.To, m.onEnter(ctx, agentID, t)
}

// BeginHealing applies QUARANTINED -> HEALING, PROBATION -> HEALING or
// EXHAUSTED -> HEALING (the first action for a quarantined agent, a relapse
// during probation, or an operator heal-now on an exhausted agent).
func (m *Machine) BeginHealing(ctx context.Context, agentID string, reason string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case vitals.StateQuarantined, vitals.StateProbation, vitals.StateExhausted:
		t := r.transition(vitals.StateHealing, reason)
		return t.To, m.onEnter(ctx, agentID, t)
	default:
		return r.state, guardErr(agentID, r.state, vitals.StateHealing)
	}
}

// ActionApplied applies HEALING -> PROBATION: a healing action was applied,
// regardless of whether it ultimately succeeds.
func (m *Machine) ActionApplied(ctx context.Context, agentID string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateHealing {
		return r.state, guardErr(agentID, r.state, vitals.StateProbation)
	}
	r.probationClean = 0
	t := r.transition(vitals.StateProbation, "healing action applied")
	return t.To, m.onEnter(ctx, agentID, t)
}

// ProbationTick reports one post-healing sentinel scan's verdict. A clean
// scan counts toward ProbationTicks and exits to HEALTHY on reaching it; an
// anomalous one transitions back to HEALING immediately.
func (m *Machine) ProbationTick(ctx context.Context, agentID string, clean bool) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateProbation {
		return r.state, nil
	}

	if !clean {
		r.probationClean = 0
		t := r.transition(vitals.StateHealing, "anomaly returned during probation")
		return t.To, m.onEnter(ctx, agentID, t)
	}

	r.probationClean++
	if r.probationClean >= m.ProbationTicks {
		t := r.transition(vitals.StateHealthy, "probation passed")
		return t.To, m.onEnter(ctx, agentID, t)
	}
	return r.state, nil
}

// Exhaust applies HEALING -> EXHAUSTED when action selection returns no
// further candidate for any remaining hypothesis.
func (m *Machine) Exhaust(ctx context.Context, agentID string) (vitals.LifecycleState, error) {
	r := m.recordFor(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != vitals.StateHealing {
		return r.state, guardErr(agentID, r.state, vitals.StateExhausted)
	}
	t := r.transition(vitals.StateExhausted, "all hypotheses exhausted")
	return t.To, m.onEnter(ctx, agentID, t)
}

// onEnter dispatches the Enforcement hook for the state just entered
// through the injected Quarantiner, and broadcasts the
// transition to every Subscribe-r regardless of enforcement outcome.
func (m *Machine) onEnter(ctx context.Context, agentID string, t Transition) error {
	m.broadcast(TransitionEvent{AgentID: agentID, From: t.From, To: t.To, At: t.At})

	if m.quarantiner == nil {
		return nil
	}
	switch t.To {
	case vitals.StateDraining:
		_, err := m.quarantiner.Drain(ctx, agentID, m.DrainTimeout)
		return err
	case vitals.StateQuarantined, vitals.StateHealing:
		return m.quarantiner.Quarantine(ctx, agentID)
	case vitals.StateHealthy, vitals.StateProbation:
		return m.quarantiner.Release(ctx, agentID)
	default:
		return nil
	}
}
