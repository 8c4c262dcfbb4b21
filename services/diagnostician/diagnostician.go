// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagnostician implements the multi-hypothesis
// diagnostician: it turns one infection report (plus the fleet correlation
// verdict and any operator feedback history) into a ranked, deduplicated
// DiagnosisResult. The pattern -> hypothesis table is declarative
// data, embedded from patterns.yaml at package init, not a hard-coded
// switch statement.
package diagnostician

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wardenai/sentinel/pkg/vitals"
)

const (
	feedbackPenalty   = 0.1
	feedbackBonus     = 0.05
	confidenceFloor   = 0.05
	confidenceCeiling = 0.99
	unknownConfidence = 0.4
	outageConfidence  = 0.95
)

type hypothesisRule struct {
	Kind       string  `yaml:"kind"`
	Confidence float64 `yaml:"confidence"`
}

type patternRule struct {
	Name       string           `yaml:"name"`
	Mode       string           `yaml:"mode"`
	Anomalies  []string         `yaml:"anomalies"`
	FleetWide  bool             `yaml:"fleet_wide"`
	Hypotheses []hypothesisRule `yaml:"hypotheses"`
}

type ruleFile struct {
	Rules []patternRule `yaml:"rules"`
}

var rules []patternRule

func init() {
	var f ruleFile
	if err := yaml.Unmarshal(patternsYAML, &f); err != nil {
		panic(fmt.Sprintf("diagnostician: invalid embedded patterns.yaml: %v", err))
	}
	rules = f.Rules
}

// FeedbackEntry is one operator verdict on a past diagnosis for one agent,
// consumed when re-ranking future diagnoses for that agent.
type FeedbackEntry struct {
	Kind  vitals.DiagnosisKind
	Label vitals.FeedbackLabel
}

// Diagnostician ranks hypotheses for a report. It holds no per-agent
// state of its own; callers pass in whatever feedback history they want
// applied.
type Diagnostician struct{}

// New returns a ready Diagnostician.
func New() *Diagnostician {
	return &Diagnostician{}
}

// Pattern is one entry of the declarative pattern table, surfaced
// read-only for the dashboard's "learned patterns" view so an
// operator can see what the Diagnostician actually knows without reading
// the embedded YAML.
type Pattern struct {
	Name       string
	Anomalies  []vitals.AnomalyKind
	FleetWide  bool
	Hypotheses []vitals.Hypothesis
}

// Patterns returns every rule in the embedded pattern table, in the order
// they were defined.
func (d *Diagnostician) Patterns() []Pattern {
	out := make([]Pattern, len(rules))
	for i, r := range rules {
		anomalies := make([]vitals.AnomalyKind, len(r.Anomalies))
		for j, a := range r.Anomalies {
			anomalies[j] = vitals.AnomalyKind(a)
		}
		hyps := make([]vitals.Hypothesis, len(r.Hypotheses))
		for j, h := range r.Hypotheses {
			hyps[j] = vitals.Hypothesis{Kind: vitals.DiagnosisKind(h.Kind), Confidence: h.Confidence}
		}
		out[i] = Pattern{Name: r.Name, Anomalies: anomalies, FleetWide: r.FleetWide, Hypotheses: hyps}
	}
	return out
}

func anomalySet(report *vitals.InfectionReport) map[vitals.AnomalyKind]struct{} {
	out := make(map[vitals.AnomalyKind]struct{}, len(report.AnomalyList))
	for _, a := range report.AnomalyList {
		out[a] = struct{}{}
	}
	return out
}

func matches(rule patternRule, present map[vitals.AnomalyKind]struct{}, verdict vitals.CorrelationVerdict) bool {
	if rule.FleetWide && verdict != vitals.VerdictFleetWide {
		return false
	}

	required := make(map[vitals.AnomalyKind]struct{}, len(rule.Anomalies))
	for _, a := range rule.Anomalies {
		required[vitals.AnomalyKind(a)] = struct{}{}
	}

	switch rule.Mode {
	case "exact":
		if len(present) != len(required) {
			return false
		}
		for a := range required {
			if _, ok := present[a]; !ok {
				return false
			}
		}
		return true
	case "subset":
		for a := range required {
			if _, ok := present[a]; !ok {
				return false
			}
		}
		return true
	case "exact_subset_of":
		if len(present) == 0 {
			return false
		}
		for a := range present {
			if _, ok := required[a]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Diagnose ranks hypotheses for report, given the fleet correlation verdict
// and the agent's feedback history (oldest-first; later entries are
// applied after earlier ones, so the most recent operator signal wins
// ties).
func (d *Diagnostician) Diagnose(agentID string, report *vitals.InfectionReport, verdict vitals.CorrelationVerdict, history []FeedbackEntry) vitals.DiagnosisResult {
	confidence := make(map[vitals.DiagnosisKind]float64)

	if report != nil {
		present := anomalySet(report)
		for _, rule := range rules {
			if !matches(rule, present, verdict) {
				continue
			}
			for _, h := range rule.Hypotheses {
				kind := vitals.DiagnosisKind(h.Kind)
				if existing, ok := confidence[kind]; !ok || h.Confidence > existing {
					confidence[kind] = h.Confidence
				}
			}
		}
	}

	if len(confidence) == 0 {
		confidence[vitals.DiagnosisUnknown] = unknownConfidence
	}

	for _, fb := range history {
		switch fb.Label {
		case vitals.FeedbackFalsePositive:
			if c, ok := confidence[fb.Kind]; ok {
				confidence[fb.Kind] = clampFloor(c-feedbackPenalty, confidenceFloor)
			}
		case vitals.FeedbackCorrect:
			if c, ok := confidence[fb.Kind]; ok {
				confidence[fb.Kind] = clampCeiling(c+feedbackBonus, confidenceCeiling)
			}
		case vitals.FeedbackWrongDiagnosis:
			if c, ok := confidence[fb.Kind]; ok {
				confidence[fb.Kind] = c / 2
			}
		case vitals.FeedbackProviderOutage:
			confidence[vitals.DiagnosisExternalCause] = outageConfidence
		}
	}

	hypotheses := make([]vitals.Hypothesis, 0, len(confidence))
	for kind, c := range confidence {
		hypotheses = append(hypotheses, vitals.Hypothesis{Kind: kind, Confidence: c})
	}
	sort.SliceStable(hypotheses, func(i, j int) bool {
		return hypotheses[i].Confidence > hypotheses[j].Confidence
	})

	return vitals.DiagnosisResult{AgentID: agentID, Hypotheses: hypotheses}
}

func clampFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func clampCeiling(v, ceiling float64) float64 {
	if v > ceiling {
		return ceiling
	}
	return v
}
