// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vitals defines the value records exchanged by every layer of the
// control plane: the behavioral sample an agent emits, the learned baseline
// for a metric, the report a detector produces, and the ranked diagnosis a
// report is turned into.
package vitals

import "time"

// ErrorType classifies why a task failed, when it did.
type ErrorType string

const (
	ErrorNone          ErrorType = "none"
	ErrorRateLimit     ErrorType = "rate_limit"
	ErrorTimeout       ErrorType = "timeout"
	ErrorContentFilter ErrorType = "content_filter"
	ErrorOther         ErrorType = "other"
)

// Vitals is one behavioral sample for one agent task. Immutable after
// construction; nothing downstream ever mutates a Vitals value.
type Vitals struct {
	AgentID      string    `json:"agent_id"`
	At           time.Time `json:"at"`
	LatencyMs    float64   `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ToolCalls    int       `json:"tool_calls"`
	Retries      int       `json:"retries"`
	Success      bool      `json:"success"`
	Cost         float64   `json:"cost"`
	Model        string    `json:"model"`
	ErrorType    ErrorType `json:"error_type"`
	PromptHash   string    `json:"prompt_hash"`

	// AgentType and MCPServers are carried for dashboard display only;
	// detection never reads them.
	AgentType  string   `json:"agent_type,omitempty"`
	MCPServers []string `json:"mcp_servers,omitempty"`
}

// TokenCount is the derived input+output total.
func (v Vitals) TokenCount() int {
	return v.InputTokens + v.OutputTokens
}

// Metric names one of the tracked baseline dimensions.
type Metric string

const (
	MetricLatency      Metric = "latency"
	MetricTotalTokens  Metric = "total_tokens"
	MetricInputTokens  Metric = "input_tokens"
	MetricOutputTokens Metric = "output_tokens"
	MetricCost         Metric = "cost"
	MetricToolCalls    Metric = "tool_calls"
	MetricRetryRate    Metric = "retry_rate"
	MetricErrorRate    Metric = "error_rate"
)

// TrackedMetrics is the fixed set of metrics the baseline learner and
// Sentinel both iterate, in a stable order (stable for deterministic test
// fixtures and deterministic deviation-map iteration in logs).
var TrackedMetrics = []Metric{
	MetricLatency,
	MetricTotalTokens,
	MetricInputTokens,
	MetricOutputTokens,
	MetricCost,
	MetricToolCalls,
	MetricRetryRate,
	MetricErrorRate,
}

// MetricStat is one EWMA mean/variance pair for one metric.
type MetricStat struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// BaselineProfile is the learned "normal" for one agent.
type BaselineProfile struct {
	AgentID     string                `json:"agent_id"`
	Stats       map[Metric]MetricStat `json:"stats"`
	SampleCount int64                 `json:"sample_count"`
	LastPrompt  string                `json:"last_prompt_hash"`
	Ready       bool                  `json:"ready"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// AnomalyKind names one detected deviation shape.
type AnomalyKind string

const (
	AnomalyTokenSpike       AnomalyKind = "token_spike"
	AnomalyLatencySpike     AnomalyKind = "latency_spike"
	AnomalyToolExplosion    AnomalyKind = "tool_explosion"
	AnomalyHighRetryRate    AnomalyKind = "high_retry_rate"
	AnomalyInputTokenSpike  AnomalyKind = "input_token_spike"
	AnomalyOutputTokenSpike AnomalyKind = "output_token_spike"
	AnomalyCostSpike        AnomalyKind = "cost_spike"
	AnomalyPromptChange     AnomalyKind = "prompt_change"
	AnomalyErrorRateSpike   AnomalyKind = "error_rate_spike"
)

// metricAnomaly maps each tracked metric to the anomaly_kind its deviation
// emits. Retry/error rate and token/latency/cost all have a single fixed
// mapping; tool_calls keeps its "explosion" framing distinct from the
// plain spike names.
var metricAnomaly = map[Metric]AnomalyKind{
	MetricLatency:      AnomalyLatencySpike,
	MetricTotalTokens:  AnomalyTokenSpike,
	MetricInputTokens:  AnomalyInputTokenSpike,
	MetricOutputTokens: AnomalyOutputTokenSpike,
	MetricCost:         AnomalyCostSpike,
	MetricToolCalls:    AnomalyToolExplosion,
	MetricRetryRate:    AnomalyHighRetryRate,
	MetricErrorRate:    AnomalyErrorRateSpike,
}

// AnomalyFor returns the anomaly_kind a metric's deviation is reported as.
func AnomalyFor(m Metric) (AnomalyKind, bool) {
	k, ok := metricAnomaly[m]
	return k, ok
}

// InfectionReport is a Sentinel finding: at least one metric crossed its
// deviation threshold, or the prompt hash changed.
type InfectionReport struct {
	AgentID       string                   `json:"agent_id"`
	Deviations    map[Metric]float64       `json:"deviations"`
	MaxDeviation  float64                  `json:"max_deviation"`
	Anomalies     map[AnomalyKind]struct{} `json:"-"`
	AnomalyList   []AnomalyKind            `json:"anomalies"`
	PromptChanged bool                     `json:"prompt_changed"`
	At            time.Time                `json:"at"`
}

// HasAnomaly reports whether kind was emitted by this report.
func (r *InfectionReport) HasAnomaly(kind AnomalyKind) bool {
	_, ok := r.Anomalies[kind]
	return ok
}

// addAnomaly records kind in both the set and the stable ordered list.
func (r *InfectionReport) addAnomaly(kind AnomalyKind) {
	if r.Anomalies == nil {
		r.Anomalies = make(map[AnomalyKind]struct{})
	}
	if _, exists := r.Anomalies[kind]; exists {
		return
	}
	r.Anomalies[kind] = struct{}{}
	r.AnomalyList = append(r.AnomalyList, kind)
}

// AddAnomaly is the exported form used by the Sentinel package, which lives
// in a different package and cannot reach the unexported helper above.
func (r *InfectionReport) AddAnomaly(kind AnomalyKind) {
	r.addAnomaly(kind)
}

// CorrelationVerdict classifies how widely an anomaly is shared by the fleet.
type CorrelationVerdict string

const (
	VerdictFleetWide     CorrelationVerdict = "FLEET_WIDE"
	VerdictPartialFleet  CorrelationVerdict = "PARTIAL_FLEET"
	VerdictAgentSpecific CorrelationVerdict = "AGENT_SPECIFIC"
)

// DiagnosisKind is a probable root cause.
type DiagnosisKind string

const (
	DiagnosisPromptDrift      DiagnosisKind = "PROMPT_DRIFT"
	DiagnosisPromptInjection  DiagnosisKind = "PROMPT_INJECTION"
	DiagnosisInfiniteLoop     DiagnosisKind = "INFINITE_LOOP"
	DiagnosisToolInstability  DiagnosisKind = "TOOL_INSTABILITY"
	DiagnosisMemoryCorruption DiagnosisKind = "MEMORY_CORRUPTION"
	DiagnosisCostOverrun      DiagnosisKind = "COST_OVERRUN"
	DiagnosisExternalCause    DiagnosisKind = "EXTERNAL_CAUSE"
	DiagnosisUnknown          DiagnosisKind = "UNKNOWN"
)

// Hypothesis is one candidate diagnosis with a confidence in [0,1].
type Hypothesis struct {
	Kind       DiagnosisKind `json:"kind"`
	Confidence float64       `json:"confidence"`
}

// DiagnosisResult is a confidence-descending, kind-deduplicated hypothesis list.
type DiagnosisResult struct {
	AgentID    string       `json:"agent_id"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// HealingAction is one progressively stronger remediation step.
type HealingAction string

const (
	ActionResetMemory    HealingAction = "RESET_MEMORY"
	ActionRollbackPrompt HealingAction = "ROLLBACK_PROMPT"
	ActionReduceAutonomy HealingAction = "REDUCE_AUTONOMY"
	ActionRevokeTools    HealingAction = "REVOKE_TOOLS"
	ActionResetAgent     HealingAction = "RESET_AGENT"
)

// FeedbackLabel is an operator's verdict on a past diagnosis.
type FeedbackLabel string

const (
	FeedbackFalsePositive  FeedbackLabel = "false_positive"
	FeedbackCorrect        FeedbackLabel = "correct"
	FeedbackWrongDiagnosis FeedbackLabel = "wrong_diagnosis"
	FeedbackProviderOutage FeedbackLabel = "provider_outage"
)

// LifecycleState is one node of the 8-state agent lifecycle machine.
type LifecycleState string

const (
	StateInitializing LifecycleState = "INITIALIZING"
	StateHealthy      LifecycleState = "HEALTHY"
	StateSuspected    LifecycleState = "SUSPECTED"
	StateDraining     LifecycleState = "DRAINING"
	StateQuarantined  LifecycleState = "QUARANTINED"
	StateHealing      LifecycleState = "HEALING"
	StateProbation    LifecycleState = "PROBATION"
	StateExhausted    LifecycleState = "EXHAUSTED"
)

// ApprovalStatus is the workflow state of one approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalRecord is one pending-or-decided human-approval workflow item.
type ApprovalRecord struct {
	AgentID   string          `json:"agent_id"`
	Report    InfectionReport `json:"infection_report"`
	Status    ApprovalStatus  `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
}

// ExecutorOutcome is the result of applying one healing action.
type ExecutorOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealingEvent is one recorded (agent, diagnosis, action) attempt.
type HealingEvent struct {
	AgentID   string          `json:"agent_id"`
	Diagnosis DiagnosisKind   `json:"diagnosis_kind"`
	Action    HealingAction   `json:"action"`
	Outcome   ExecutorOutcome `json:"outcome"`
	At        time.Time       `json:"at"`
}

// ActionLogEntry is one structured event appended to the action log.
type ActionLogEntry struct {
	At      time.Time              `json:"at"`
	AgentID string                 `json:"agent_id,omitempty"`
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}
