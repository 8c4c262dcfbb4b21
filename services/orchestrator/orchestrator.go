// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator is the cooperative scheduler that drives the pipeline:
// it wires every detection/diagnosis/healing collaborator together, drives
// three ticked loops under one errgroup.Group, and exposes the workflow
// operations (ingest, approve/reject/heal-now, feedback) the external
// surface calls into. Per-agent state is only ever touched through the
// collaborators that own it; Orchestrator itself holds just the agent
// registry, the approval queue, and in-flight healing progress, each
// behind a short, non-blocking critical section.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wardenai/sentinel/pkg/config"
	"github.com/wardenai/sentinel/pkg/sentinelerr"
	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/baseline"
	"github.com/wardenai/sentinel/services/cache"
	"github.com/wardenai/sentinel/services/correlator"
	"github.com/wardenai/sentinel/services/diagnostician"
	"github.com/wardenai/sentinel/services/enforcement"
	"github.com/wardenai/sentinel/services/executor"
	"github.com/wardenai/sentinel/services/healer"
	"github.com/wardenai/sentinel/services/immune"
	"github.com/wardenai/sentinel/services/lifecycle"
	"github.com/wardenai/sentinel/services/orchestrator/observability"
	"github.com/wardenai/sentinel/services/quarantine"
	"github.com/wardenai/sentinel/services/sentinel"
	"github.com/wardenai/sentinel/services/store"
	"github.com/wardenai/sentinel/services/telemetry"
)

// Tick cadence and timeouts.
const (
	AgentLoopInterval     = 1 * time.Second
	SentinelLoopInterval  = 1 * time.Second
	ProbationLoopInterval = 1 * time.Second

	// HealStepDelay separates consecutive healing steps by a short visible
	// delay so a dashboard reader can observe progress.
	HealStepDelay = 250 * time.Millisecond
	// HealingActionTimeout bounds a single Executor.Execute call; a
	// timeout is recorded as failure, same as any other ExecutorFailure.
	HealingActionTimeout = 10 * time.Second
)

// pendingApproval pairs the record the external surface reads with the
// correlation verdict needed to re-run diagnosis at decision time.
type pendingApproval struct {
	record  vitals.ApprovalRecord
	verdict vitals.CorrelationVerdict
}

// healProgress tracks which ranked hypothesis an agent's healing attempt is
// currently working through.
type healProgress struct {
	hypotheses []vitals.DiagnosisKind
	idx        int
}

// Stats is the aggregate view the dashboard's "stats" read renders.
type Stats struct {
	TotalAgents     int
	TotalExecutions int64
	CurrentInfected int
	TotalInfections int64
	Healed          int64
	SuccessRate     float64
	RuntimeSeconds  float64
}

// AgentSnapshot is the per-agent view the dashboard's agent list renders.
type AgentSnapshot struct {
	AgentID  string
	State    vitals.LifecycleState
	Baseline vitals.BaselineProfile
	Latest   *vitals.Vitals
}

// Orchestrator schedules agent ticks, sentinel scans, approvals, probation
// checks and healing tasks over one set of collaborators.
type Orchestrator struct {
	runID      string
	backing    store.Store
	cacheStore *cache.Cache

	telemetry     *telemetry.Telemetry
	baselines     *baseline.Learner
	detector      *sentinel.Detector
	correlator    *correlator.Correlator
	diagnostician *diagnostician.Diagnostician
	immuneMem     *immune.Memory
	healer        *healer.Healer
	lifecycle     *lifecycle.Machine
	quarantine    *quarantine.Controller
	metrics       *observability.Metrics

	agents sync.Map // agentID -> struct{}

	mu       sync.Mutex
	pending  map[string]pendingApproval
	rejected map[string]vitals.ApprovalRecord
	healing  map[string]*healProgress

	startedAt       time.Time
	totalInfections int64
	totalHealed     int64
}

// New wires every collaborator and returns a ready Orchestrator. backing,
// cacheStore and enforcer may all be nil for a purely in-memory,
// no-enforcement deployment (tests, demos); cfg may be nil to accept every
// collaborator's built-in defaults.
func New(runID string, backing store.Store, cacheStore *cache.Cache, enforcer enforcement.Strategy, exec executor.Executor, cfg *config.Config) *Orchestrator {
	if enforcer == nil {
		enforcer = enforcement.NoOp{}
	}
	if exec == nil {
		exec = executor.NewSimulated()
	}

	o := &Orchestrator{
		runID:      runID,
		backing:    backing,
		cacheStore: cacheStore,
		pending:    make(map[string]pendingApproval),
		rejected:   make(map[string]vitals.ApprovalRecord),
		healing:    make(map[string]*healProgress),
		startedAt:  time.Now(),
	}

	o.telemetry = telemetry.New(runID, backing)
	o.baselines = baseline.New(runID, backing, cacheStore)
	o.detector = sentinel.New()
	o.diagnostician = diagnostician.New()
	o.immuneMem = immune.New(runID, backing)
	o.quarantine = quarantine.New(runID, enforcer, backing, cacheStore)
	o.lifecycle = lifecycle.New(o.quarantine)
	o.healer = healer.New(o.immuneMem, exec, o.lifecycle, o.baselines)
	// o satisfies correlator.FleetLister via KnownAgents; passing it here,
	// before New returns, is safe because the interface call is deferred
	// until Classify actually runs.
	o.correlator = correlator.New(o, o.telemetry, o.baselines, o.detector)

	if cfg != nil {
		o.lifecycle.ApprovalThreshold = cfg.ApprovalThreshold
		if cfg.SentinelThreshold > 0 {
			o.detector.Threshold = cfg.SentinelThreshold
		}
	}

	return o
}

// --- accessors for the external surface ---

func (o *Orchestrator) RunID() string                               { return o.runID }
func (o *Orchestrator) Store() store.Store                          { return o.backing }
func (o *Orchestrator) Telemetry() *telemetry.Telemetry             { return o.telemetry }
func (o *Orchestrator) Baselines() *baseline.Learner                { return o.baselines }
func (o *Orchestrator) Lifecycle() *lifecycle.Machine               { return o.lifecycle }
func (o *Orchestrator) Quarantine() *quarantine.Controller          { return o.quarantine }
func (o *Orchestrator) ImmuneMemory() *immune.Memory                { return o.immuneMem }
func (o *Orchestrator) Diagnostician() *diagnostician.Diagnostician { return o.diagnostician }

// SetMetrics attaches the Prometheus instrument set cmd/sentineld built at
// startup. Optional: a nil or never-called SetMetrics leaves every
// instrumented code path a no-op. Run starts the lifecycle-gauge feed the
// first time it observes a non-nil metrics set.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// --- agent registry ---

// KnownAgents satisfies correlator.FleetLister: every registered agent id
// that is not currently quarantined.
func (o *Orchestrator) KnownAgents() []string {
	quarantined := o.quarantine.Quarantined()
	excluded := make(map[string]struct{}, len(quarantined))
	for _, id := range quarantined {
		excluded[id] = struct{}{}
	}
	var out []string
	o.agents.Range(func(k, _ any) bool {
		id := k.(string)
		if _, isQuarantined := excluded[id]; !isQuarantined {
			out = append(out, id)
		}
		return true
	})
	return out
}

// allAgentIDs returns every registered agent, quarantined or not.
func (o *Orchestrator) allAgentIDs() []string {
	var out []string
	o.agents.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// RegisterAgent records agentID if it is new, giving it a fresh lifecycle
// record in INITIALIZING. Safe to call for an already-known agent.
func (o *Orchestrator) RegisterAgent(agentID string) {
	if _, loaded := o.agents.LoadOrStore(agentID, struct{}{}); !loaded {
		o.lifecycle.Register(agentID)
		slog.Info("agent registered", "kind", "AgentRegistered", "agent_id", agentID)
	}
}

// --- ingest (shared by the external ingest handler and the agent loop) ---

// Ingest records one vitals sample, auto-registering an unknown agent_id.
// A sample for an agent whose lifecycle does not currently permit execution
// is silently dropped (a quarantined agent receives no new-work
// vitals) rather than treated as an error.
func (o *Orchestrator) Ingest(ctx context.Context, v vitals.Vitals) error {
	if v.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", sentinelerr.ErrBadInput)
	}
	o.RegisterAgent(v.AgentID)

	if !o.lifecycle.CanExecute(v.AgentID) {
		return nil
	}

	if v.At.IsZero() {
		v.At = time.Now()
	}
	o.telemetry.Record(ctx, v)
	o.baselines.Update(ctx, v)
	if o.metrics != nil {
		o.metrics.VitalsIngested.WithLabelValues(v.AgentID).Inc()
	}
	return nil
}

// Feedback records an operator's verdict on a past diagnosis, consumed the
// next time this agent's hypotheses are ranked.
func (o *Orchestrator) Feedback(agentID string, kind vitals.DiagnosisKind, label vitals.FeedbackLabel) {
	o.immuneMem.RecordFeedback(agentID, kind, label)
}

func (o *Orchestrator) diagnosisHistory(agentID string) []diagnostician.FeedbackEntry {
	entries := o.immuneMem.History(agentID)
	out := make([]diagnostician.FeedbackEntry, len(entries))
	for i, e := range entries {
		out[i] = diagnostician.FeedbackEntry{Kind: e.Kind, Label: e.Label}
	}
	return out
}

// --- Run: the three-loop cooperative scheduler ---

// Run starts the agent, sentinel and probation loops as sibling goroutines
// under one errgroup.Group and blocks until ctx is cancelled or a loop
// returns a genuine programming-fault error.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.runLoop(gctx, AgentLoopInterval, o.agentLoopTick) })
	g.Go(func() error { return o.runLoop(gctx, SentinelLoopInterval, o.sentinelLoopTick) })
	g.Go(func() error { return o.runLoop(gctx, ProbationLoopInterval, o.probationLoopTick) })
	if o.metrics != nil {
		g.Go(func() error { return o.metricsLoop(gctx) })
	}

	return g.Wait()
}

// metricsLoop keeps the lifecycle-state gauge in sync by subscribing to
// every transition the Lifecycle machine broadcasts; it never drives
// behavior, only observability.
func (o *Orchestrator) metricsLoop(ctx context.Context) error {
	events, unsubscribe := o.lifecycle.Subscribe()
	defer unsubscribe()
	for _, agentID := range o.allAgentIDs() {
		o.metrics.SetLifecycleState(agentID, o.lifecycle.State(agentID))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			o.metrics.SetLifecycleState(ev.AgentID, ev.To)
		}
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// agentLoopTick advances INITIALIZING -> HEALTHY once an agent's baseline
// becomes ready. Feeding Telemetry/Baseline themselves happens in Ingest,
// called either by the external ingest handler or by whatever generates
// simulated vitals; this loop only owns the lifecycle side-effect of that
// feeding.
func (o *Orchestrator) agentLoopTick(_ context.Context) {
	for _, agentID := range o.allAgentIDs() {
		if o.lifecycle.State(agentID) != vitals.StateInitializing {
			continue
		}
		if o.baselines.Profile(agentID).Ready {
			if err := o.lifecycle.MarkBaselineReady(agentID); err != nil {
				slog.Warn("mark baseline ready failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
			}
		}
	}
}

// sentinelLoopTick runs Sentinel over every non-quarantined agent with a
// ready baseline, classifies any infection through the Correlator, and
// drives the resulting lifecycle transition. Agents
// currently in PROBATION are owned by the probation loop instead.
func (o *Orchestrator) sentinelLoopTick(ctx context.Context) {
	for _, agentID := range o.KnownAgents() {
		profile := o.baselines.Profile(agentID)
		if !profile.Ready {
			continue
		}
		if o.lifecycle.State(agentID) == vitals.StateProbation {
			continue
		}

		window := o.telemetry.Recent(ctx, agentID, sentinel.DefaultWindow)
		report := o.detector.Detect(agentID, window, profile)
		if report == nil {
			if o.lifecycle.State(agentID) == vitals.StateSuspected {
				if _, err := o.lifecycle.ReportClean(ctx, agentID); err != nil {
					slog.Warn("report clean failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
				}
			}
			continue
		}

		atomic.AddInt64(&o.totalInfections, 1)
		if o.metrics != nil {
			o.metrics.InfectionsDetected.WithLabelValues(agentID).Inc()
		}
		if o.backing != nil {
			if err := o.backing.WriteInfectionEvent(ctx, o.runID, *report); err != nil {
				slog.Warn("write infection event failed", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
			}
		}

		verdict := o.correlator.Classify(ctx, report)
		if verdict == vitals.VerdictFleetWide {
			if _, err := o.lifecycle.ReportFleetWideInfection(ctx, agentID); err != nil {
				slog.Warn("report fleet-wide infection failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
			}
			continue
		}

		newState, err := o.lifecycle.ReportInfection(ctx, agentID, report.MaxDeviation)
		if err != nil {
			slog.Warn("report infection failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
			continue
		}
		if newState == vitals.StateDraining {
			newState, err = o.lifecycle.CompleteDrain(ctx, agentID)
			if err != nil {
				slog.Warn("complete drain failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
				continue
			}
		}
		if newState == vitals.StateQuarantined {
			o.onQuarantined(ctx, agentID, report, verdict)
		}
	}
}

// probationLoopTick advances every agent in PROBATION: a clean scan counts
// toward recovery, an anomalous one relapses to HEALING with the next
// action in its ladder.
func (o *Orchestrator) probationLoopTick(ctx context.Context) {
	for _, agentID := range o.allAgentIDs() {
		if o.lifecycle.State(agentID) != vitals.StateProbation {
			continue
		}

		profile := o.baselines.Profile(agentID)
		window := o.telemetry.Recent(ctx, agentID, sentinel.DefaultWindow)
		clean := o.detector.Detect(agentID, window, profile) == nil

		newState, err := o.lifecycle.ProbationTick(ctx, agentID, clean)
		if err != nil {
			slog.Warn("probation tick failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
			continue
		}

		switch newState {
		case vitals.StateHealthy:
			atomic.AddInt64(&o.totalHealed, 1)
			o.clearHealProgress(agentID)
		case vitals.StateHealing:
			go o.tryNextHealStep(ctx, agentID)
		}
	}
}

// --- approval queue & heal_agent ---

func (o *Orchestrator) onQuarantined(ctx context.Context, agentID string, report *vitals.InfectionReport, verdict vitals.CorrelationVerdict) {
	if report.MaxDeviation >= o.lifecycle.ApprovalThreshold {
		rec := vitals.ApprovalRecord{AgentID: agentID, Report: *report, Status: vitals.ApprovalPending, CreatedAt: time.Now()}
		o.mu.Lock()
		o.pending[agentID] = pendingApproval{record: rec, verdict: verdict}
		o.mu.Unlock()
		if o.backing != nil {
			if err := o.backing.WriteApprovalEvent(ctx, o.runID, rec); err != nil {
				slog.Warn("write approval event failed", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
			}
		}
		slog.Info("agent quarantined, approval required", "kind", "ApprovalPending", "agent_id", agentID, "max_deviation", report.MaxDeviation)
		return
	}

	diag := o.diagnostician.Diagnose(agentID, report, verdict, o.diagnosisHistory(agentID))
	o.startHealing(ctx, agentID, diag)
}

func (o *Orchestrator) startHealing(ctx context.Context, agentID string, diag vitals.DiagnosisResult) {
	kinds := make([]vitals.DiagnosisKind, len(diag.Hypotheses))
	for i, h := range diag.Hypotheses {
		kinds[i] = h.Kind
	}
	if len(kinds) == 0 {
		kinds = []vitals.DiagnosisKind{vitals.DiagnosisUnknown}
	}

	o.mu.Lock()
	o.healing[agentID] = &healProgress{hypotheses: kinds, idx: 0}
	o.mu.Unlock()

	go o.tryNextHealStep(ctx, agentID)
}

func (o *Orchestrator) clearHealProgress(agentID string) {
	o.mu.Lock()
	delete(o.healing, agentID)
	o.mu.Unlock()
}

// tryNextHealStep implements the inner loop of heal_agent: select the next
// action for the current hypothesis, skip to the next hypothesis when a
// ladder is exhausted, and park in EXHAUSTED once every hypothesis is out
// of actions. It is entered once per quarantine/approval/heal-now decision
// and once per probation relapse.
func (o *Orchestrator) tryNextHealStep(ctx context.Context, agentID string) {
	for {
		o.mu.Lock()
		hp, ok := o.healing[agentID]
		o.mu.Unlock()
		if !ok {
			return
		}

		if hp.idx >= len(hp.hypotheses) {
			state := o.lifecycle.State(agentID)
			if state != vitals.StateHealing {
				if _, err := o.lifecycle.BeginHealing(ctx, agentID, "exhausting final hypothesis"); err != nil {
					slog.Warn("begin healing failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
				}
			}
			if _, err := o.lifecycle.Exhaust(ctx, agentID); err != nil {
				slog.Warn("exhaust failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
			}
			o.clearHealProgress(agentID)
			return
		}

		kind := hp.hypotheses[hp.idx]
		action, ok := o.healer.Next(ctx, agentID, kind)
		if !ok {
			o.mu.Lock()
			hp.idx++
			o.mu.Unlock()
			continue
		}

		state := o.lifecycle.State(agentID)
		if state != vitals.StateHealing {
			if _, err := o.lifecycle.BeginHealing(ctx, agentID, fmt.Sprintf("applying %s for %s", action, kind)); err != nil {
				slog.Warn("begin healing failed", "kind", "LifecycleGuardViolation", "agent_id", agentID, "error", err)
				return
			}
		}

		time.Sleep(HealStepDelay)
		actionCtx, cancel := context.WithTimeout(ctx, HealingActionTimeout)
		outcome, err := o.healer.Apply(actionCtx, agentID, kind, action)
		cancel()
		if o.metrics != nil {
			o.metrics.RecordHealingOutcome(action, outcome.Success)
		}
		if err != nil {
			slog.Info("healing action failed, will advance ladder next step", "kind", "ExecutorFailure", "agent_id", agentID, "action", action, "error", err)
		}
		return
	}
}

// Approve removes agentID's pending approval and schedules healing.
func (o *Orchestrator) Approve(ctx context.Context, agentID string) error {
	pa, ok := o.takePending(agentID)
	if !ok {
		return fmt.Errorf("%w: no pending approval for agent %s", sentinelerr.ErrBadInput, agentID)
	}

	now := time.Now()
	pa.record.Status = vitals.ApprovalApproved
	pa.record.DecidedAt = &now
	if o.backing != nil {
		if err := o.backing.WriteApprovalEvent(ctx, o.runID, pa.record); err != nil {
			slog.Warn("write approval event failed", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
		}
	}

	report := pa.record.Report
	diag := o.diagnostician.Diagnose(agentID, &report, pa.verdict, o.diagnosisHistory(agentID))
	o.startHealing(ctx, agentID, diag)
	return nil
}

// Reject marks agentID's pending approval REJECTED; it stays QUARANTINED.
func (o *Orchestrator) Reject(ctx context.Context, agentID string) error {
	pa, ok := o.takePending(agentID)
	if !ok {
		return fmt.Errorf("%w: no pending approval for agent %s", sentinelerr.ErrBadInput, agentID)
	}

	now := time.Now()
	pa.record.Status = vitals.ApprovalRejected
	pa.record.DecidedAt = &now

	o.mu.Lock()
	o.rejected[agentID] = pa.record
	o.mu.Unlock()

	if o.backing != nil {
		if err := o.backing.WriteApprovalEvent(ctx, o.runID, pa.record); err != nil {
			slog.Warn("write approval event failed", "kind", "TransientStoreFailure", "agent_id", agentID, "error", err)
		}
	}
	return nil
}

// HealNow removes agentID from REJECTED (if present) or accepts an
// EXHAUSTED agent, and schedules healing either way; these are the two operator
// escape hatches out of a parked state.
func (o *Orchestrator) HealNow(ctx context.Context, agentID string) error {
	o.mu.Lock()
	rec, wasRejected := o.rejected[agentID]
	if wasRejected {
		delete(o.rejected, agentID)
	}
	o.mu.Unlock()

	state := o.lifecycle.State(agentID)
	if !wasRejected && state != vitals.StateExhausted {
		return fmt.Errorf("%w: agent %s is neither rejected nor exhausted", sentinelerr.ErrBadInput, agentID)
	}

	var report vitals.InfectionReport
	if wasRejected {
		report = rec.Report
	} else {
		profile := o.baselines.Profile(agentID)
		window := o.telemetry.Recent(ctx, agentID, sentinel.DefaultWindow)
		if r := o.detector.Detect(agentID, window, profile); r != nil {
			report = *r
		} else {
			report = vitals.InfectionReport{AgentID: agentID, At: time.Now()}
		}
	}

	verdict := o.correlator.Classify(ctx, &report)
	diag := o.diagnostician.Diagnose(agentID, &report, verdict, o.diagnosisHistory(agentID))
	o.startHealing(ctx, agentID, diag)
	return nil
}

func (o *Orchestrator) takePending(agentID string) (pendingApproval, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pa, ok := o.pending[agentID]
	if ok {
		delete(o.pending, agentID)
	}
	return pa, ok
}

// ApproveAll, RejectAll and HealNowAll apply their single-agent operation
// to each id in the dashboard-provided order, collecting every error
// rather than stopping at the first.
func (o *Orchestrator) ApproveAll(ctx context.Context, agentIDs []string) []error {
	var errs []error
	for _, id := range agentIDs {
		if err := o.Approve(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *Orchestrator) RejectAll(ctx context.Context, agentIDs []string) []error {
	var errs []error
	for _, id := range agentIDs {
		if err := o.Reject(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (o *Orchestrator) HealNowAll(ctx context.Context, agentIDs []string) []error {
	var errs []error
	for _, id := range agentIDs {
		if err := o.HealNow(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PendingApprovals and RejectedApprovals back the dashboard's approval
// list reads, sorted by agent id for deterministic output.
func (o *Orchestrator) PendingApprovals() []vitals.ApprovalRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]vitals.ApprovalRecord, 0, len(o.pending))
	for _, pa := range o.pending {
		out = append(out, pa.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (o *Orchestrator) RejectedApprovals() []vitals.ApprovalRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]vitals.ApprovalRecord, 0, len(o.rejected))
	for _, rec := range o.rejected {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// --- dashboard read views ---

// AgentSnapshot returns the current lifecycle state, baseline and latest
// vitals sample for one agent.
func (o *Orchestrator) AgentSnapshot(ctx context.Context, agentID string) AgentSnapshot {
	snap := AgentSnapshot{
		AgentID:  agentID,
		State:    o.lifecycle.State(agentID),
		Baseline: o.baselines.Profile(agentID),
	}
	if latest, ok := o.telemetry.Latest(ctx, agentID); ok {
		snap.Latest = &latest
	}
	return snap
}

// Agents returns every registered agent's snapshot, sorted by agent id.
func (o *Orchestrator) Agents(ctx context.Context) []AgentSnapshot {
	ids := o.allAgentIDs()
	sort.Strings(ids)
	out := make([]AgentSnapshot, len(ids))
	for i, id := range ids {
		out[i] = o.AgentSnapshot(ctx, id)
	}
	return out
}

// Stats returns the aggregate counters the dashboard's "stats" read shows.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	ids := o.allAgentIDs()
	infected := 0
	for _, id := range ids {
		switch o.lifecycle.State(id) {
		case vitals.StateHealthy, vitals.StateInitializing:
		default:
			infected++
		}
	}

	var totalExec int64
	if o.backing != nil {
		if n, err := o.backing.GetTotalExecutions(ctx, o.runID); err == nil {
			totalExec = n
		}
	}

	infections := atomic.LoadInt64(&o.totalInfections)
	healed := atomic.LoadInt64(&o.totalHealed)
	var rate float64
	if infections > 0 {
		rate = float64(healed) / float64(infections)
	}

	return Stats{
		TotalAgents:     len(ids),
		TotalExecutions: totalExec,
		CurrentInfected: infected,
		TotalInfections: infections,
		Healed:          healed,
		SuccessRate:     rate,
		RuntimeSeconds:  time.Since(o.startedAt).Seconds(),
	}
}

var _ correlator.FleetLister = (*Orchestrator)(nil)
