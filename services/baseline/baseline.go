// Copyright (C) 2025 Sentinel Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package baseline learns, per agent and per tracked metric, a continuously
// adapting "normal" via an exponentially weighted moving average of mean
// and variance.
package baseline

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wardenai/sentinel/pkg/vitals"
	"github.com/wardenai/sentinel/services/cache"
	"github.com/wardenai/sentinel/services/store"
)

const (
	// DefaultSpan sets the default alpha via alpha = 2/(span+1).
	DefaultSpan = 50
	// DefaultMinSamples is the sample count at which a profile becomes ready.
	DefaultMinSamples = 15
	// DefaultAccelK scales alpha during the post-healing acceleration window.
	DefaultAccelK = 4.0
	// DefaultAccelTicks is how many updates the acceleration window lasts.
	DefaultAccelTicks = 20
	// MaxAlpha bounds alpha even under acceleration.
	MaxAlpha = 0.5
	// StddevFloorFraction is the minimum stddev expressed as a fraction of
	// the mean magnitude, guarding against a zero-variance profile masking
	// any future deviation.
	StddevFloorFraction = 0.05
	// Epsilon keeps the floor nonzero even when the mean itself is zero.
	Epsilon = 1e-6
	// OutlierGateSigma bounds how far out a sample can be and still be
	// folded into a ready profile. Folding a grossly anomalous sample into
	// the learned normal first would inflate the variance enough to mask
	// the very anomaly the detector is about to measure, so far-out samples
	// reach telemetry and detection but not the baseline. The gate is
	// suspended while Accelerate is active, so a healed agent's new normal
	// can still be learned.
	OutlierGateSigma = 3.0
)

// agentState is the per-agent EWMA state. All access goes through its own
// mutex: every agent's profile is owned by one logical worker and never
// blocks another agent's update.
type agentState struct {
	mu             sync.Mutex
	stats          map[vitals.Metric]vitals.MetricStat
	sampleCount    int64
	lastPrompt     string
	alpha          float64
	defaultAlpha   float64
	accelRemaining int
}

func newAgentState(defaultAlpha float64) *agentState {
	return &agentState{
		stats:        make(map[vitals.Metric]vitals.MetricStat),
		alpha:        defaultAlpha,
		defaultAlpha: defaultAlpha,
	}
}

// Learner is the per-agent EWMA baseline learner.
type Learner struct {
	runID      string
	backing    store.Store
	localCache *cache.Cache
	minSamples int64
	alpha      float64

	agents sync.Map // agentID -> *agentState
}

// Option configures a Learner at construction time.
type Option func(*Learner)

// WithMinSamples overrides DefaultMinSamples.
func WithMinSamples(n int64) Option {
	return func(l *Learner) { l.minSamples = n }
}

// WithSpan overrides DefaultSpan (alpha = 2/(span+1)).
func WithSpan(span float64) Option {
	return func(l *Learner) { l.alpha = 2 / (span + 1) }
}

// New builds a Learner bound to runID. backing and localCache may both be
// nil for a purely in-memory deployment.
func New(runID string, backing store.Store, localCache *cache.Cache, opts ...Option) *Learner {
	l := &Learner{
		runID:      runID,
		backing:    backing,
		localCache: localCache,
		minSamples: DefaultMinSamples,
		alpha:      2.0 / (DefaultSpan + 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Learner) stateFor(agentID string) *agentState {
	if v, ok := l.agents.Load(agentID); ok {
		return v.(*agentState)
	}
	s := newAgentState(l.alpha)
	actual, _ := l.agents.LoadOrStore(agentID, s)
	return actual.(*agentState)
}

// metricValue extracts the scalar this EWMA tracks for one sample. Retry
// and error rate have no per-sample "rate" (a Vitals record is a single
// execution); the chosen per-sample values are the retry count itself and
// a 0/1 error indicator, which the EWMA mean turns into a rate once
// averaged over a window.
func metricValue(v vitals.Vitals, m vitals.Metric) float64 {
	switch m {
	case vitals.MetricLatency:
		return v.LatencyMs
	case vitals.MetricTotalTokens:
		return float64(v.TokenCount())
	case vitals.MetricInputTokens:
		return float64(v.InputTokens)
	case vitals.MetricOutputTokens:
		return float64(v.OutputTokens)
	case vitals.MetricCost:
		return v.Cost
	case vitals.MetricToolCalls:
		return float64(v.ToolCalls)
	case vitals.MetricRetryRate:
		return float64(v.Retries)
	case vitals.MetricErrorRate:
		if v.ErrorType != "" && v.ErrorType != vitals.ErrorNone {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Update folds one sample into agentID's profile.
func (l *Learner) Update(ctx context.Context, v vitals.Vitals) {
	s := l.stateFor(v.AgentID)

	s.mu.Lock()
	ready := s.sampleCount >= l.minSamples
	for _, m := range vitals.TrackedMetrics {
		x := metricValue(v, m)
		prev := s.stats[m]
		// The first sample seeds the mean directly; an EWMA started from
		// zero would spend its whole warmup biased toward zero.
		if s.sampleCount == 0 {
			s.stats[m] = vitals.MetricStat{Mean: x}
			continue
		}
		if ready && s.accelRemaining == 0 && math.Abs(x-prev.Mean) > OutlierGateSigma*Stddev(prev) {
			continue
		}
		mean := s.alpha*x + (1-s.alpha)*prev.Mean
		variance := (1 - s.alpha) * (prev.Variance + s.alpha*(x-mean)*(x-mean))
		s.stats[m] = vitals.MetricStat{Mean: mean, Variance: variance}
	}
	s.sampleCount++
	s.lastPrompt = v.PromptHash
	if s.accelRemaining > 0 {
		s.accelRemaining--
		if s.accelRemaining == 0 {
			s.alpha = s.defaultAlpha
		}
	}
	profile := l.snapshotLocked(v.AgentID, s)
	s.mu.Unlock()

	if l.localCache != nil {
		l.localCache.PutBaseline(v.AgentID, profile)
	}
	if l.backing != nil {
		if err := l.backing.WriteBaselineProfile(ctx, l.runID, profile); err != nil {
			slog.Warn("baseline store write failed", "kind", "TransientStoreFailure", "agent_id", v.AgentID, "error", err)
		}
	}
}

// snapshotLocked builds the exported profile view. Caller must hold s.mu.
func (l *Learner) snapshotLocked(agentID string, s *agentState) vitals.BaselineProfile {
	stats := make(map[vitals.Metric]vitals.MetricStat, len(s.stats))
	for k, v := range s.stats {
		stats[k] = v
	}
	return vitals.BaselineProfile{
		AgentID:     agentID,
		Stats:       stats,
		SampleCount: s.sampleCount,
		LastPrompt:  s.lastPrompt,
		Ready:       s.sampleCount >= l.minSamples,
		UpdatedAt:   time.Now(),
	}
}

// Profile returns agentID's current profile.
func (l *Learner) Profile(agentID string) vitals.BaselineProfile {
	s := l.stateFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.snapshotLocked(agentID, s)
}

// Stddev returns the floored standard deviation used for detection: the
// profile's raw stddev cannot fall below 5% of its mean magnitude, so a
// metric that has been perfectly constant during warmup still flags a
// material change instead of treating any nonzero delta as infinite sigma.
func Stddev(stat vitals.MetricStat) float64 {
	raw := math.Sqrt(math.Max(stat.Variance, 0))
	floor := StddevFloorFraction * math.Max(math.Abs(stat.Mean), Epsilon)
	return math.Max(raw, floor)
}

// Accelerate temporarily raises alpha for the next DefaultAccelTicks
// updates so the profile catches up to the new normal quickly after a
// healing action; it also suspends the outlier gate for that window, since
// post-healing samples are expected to look nothing like the old normal.
// Invoked by the Healer post-healing.
func (l *Learner) Accelerate(agentID string) {
	s := l.stateFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alpha = math.Min(s.defaultAlpha*DefaultAccelK, MaxAlpha)
	s.accelRemaining = DefaultAccelTicks
}

// HardReset discards agentID's profile entirely, as if it had never been
// observed. Called by the Healer when a RESET_AGENT healing action succeeds.
func (l *Learner) HardReset(agentID string) {
	l.agents.Store(agentID, newAgentState(l.alpha))
}
